// Package format adapts agent/chat text for the chat service's rendering
// rules. Kept from the teacher's internal/format/markdown.go; the
// Telegram-HTML conversion path was dropped since this bridge only ever
// targets one chat service.
package format

import "regexp"

var stripHTMLRegexp = regexp.MustCompile("<[^>]*>")

// ToDiscordMarkdown returns text as clean Markdown: the chat service renders
// Markdown natively, so this only strips any HTML that leaked in from an
// upstream source.
func ToDiscordMarkdown(text string) string {
	return stripHTMLRegexp.ReplaceAllString(text, "")
}
