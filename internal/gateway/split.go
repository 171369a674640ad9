package gateway

import "strings"

// maxChunkRunes is the chat service's hard per-message length limit, counted
// in code points (spec §6).
const maxChunkRunes = 2000

// splitMessage breaks text into chunks of at most maxChunkRunes code points,
// preferring to break on a paragraph boundary, then a word boundary, then a
// raw character boundary (spec §4.1, invariant I6). No chunk is ever empty.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxChunkRunes {
		if len(runes) == 0 {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxChunkRunes {
			chunks = append(chunks, string(runes))
			break
		}

		cut := breakPoint(runes)
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = trimLeftNewlines(runes[cut:])
	}
	return chunks
}

// breakPoint finds where to cut runes[:maxChunkRunes+1...] so the chunk is
// <= maxChunkRunes. It prefers the last paragraph break, then the last word
// break, as long as that break point is at least half the limit in (to
// avoid pathologically small chunks on text with an early lone newline).
func breakPoint(runes []rune) int {
	limit := maxChunkRunes
	window := runes[:limit]
	minBreak := limit / 2

	if idx := lastIndexRunes(window, "\n\n"); idx >= minBreak {
		return idx
	}
	if idx := lastIndexRune(window, '\n'); idx >= minBreak {
		return idx + 1
	}
	if idx := lastIndexRune(window, ' '); idx >= minBreak {
		return idx + 1
	}
	return limit
}

func lastIndexRunes(haystack []rune, sep string) int {
	idx := strings.LastIndex(string(haystack), sep)
	if idx < 0 {
		return -1
	}
	return len([]rune(string(haystack)[:idx]))
}

func lastIndexRune(haystack []rune, target rune) int {
	for i := len(haystack) - 1; i >= 0; i-- {
		if haystack[i] == target {
			return i
		}
	}
	return -1
}

func trimLeftNewlines(runes []rune) []rune {
	i := 0
	for i < len(runes) && runes[i] == '\n' {
		i++
	}
	return runes[i:]
}

// applyChunkPrefix prepends prefix to the first chunk only, separated from
// the chunk text by a single space; prefixes never affect the splitting boundaries themselves
// since they're applied after chunking (spec §4.7).
func applyChunkPrefix(chunks []string, prefix string) []string {
	if prefix == "" || len(chunks) == 0 {
		return chunks
	}
	out := make([]string, len(chunks))
	copy(out, chunks)
	out[0] = prefix + " " + out[0]
	return out
}
