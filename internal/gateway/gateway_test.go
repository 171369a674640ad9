package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeChannelNameLowercasesAndCollapses(t *testing.T) {
	require.Equal(t, "my-cool-channel", sanitizeChannelName("My Cool!! Channel"))
}

func TestSanitizeChannelNameTrimsLeadingTrailingHyphens(t *testing.T) {
	require.Equal(t, "feature-x", sanitizeChannelName("  Feature X!!  "))
}

func TestSanitizeChannelNameCapsAt100(t *testing.T) {
	name := sanitizeChannelName(strings.Repeat("a", 150))
	require.Len(t, []rune(name), 100)
}

func TestTruncateRunesNoopUnderLimit(t *testing.T) {
	require.Equal(t, "short", truncateRunes("short", 100))
}

func TestTruncateRunesCutsAt100(t *testing.T) {
	long := strings.Repeat("x", 150)
	require.Len(t, []rune(truncateRunes(long, 100)), 100)
}

func TestMentionsForJoinsWithSpace(t *testing.T) {
	require.Equal(t, "<@1> <@2>", mentionsFor([]string{"1", "2"}))
}

func TestMentionsForEmpty(t *testing.T) {
	require.Empty(t, mentionsFor(nil))
}
