package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitMessageUnderLimitIsOneChunk(t *testing.T) {
	text := strings.Repeat("a", 2000)
	chunks := splitMessage(text)
	require.Len(t, chunks, 1)
	require.Equal(t, text, chunks[0])
}

func TestSplitMessageOverLimitIsTwoChunks(t *testing.T) {
	text := strings.Repeat("a", 2001)
	chunks := splitMessage(text)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		require.LessOrEqual(t, len([]rune(c)), maxChunkRunes)
		require.NotEmpty(t, c)
	}
}

func TestSplitMessagePrefersParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("a", 1200)
	para2 := strings.Repeat("b", 1200)
	text := para1 + "\n\n" + para2

	chunks := splitMessage(text)
	require.Len(t, chunks, 2)
	require.Equal(t, para1, chunks[0])
	require.Equal(t, para2, chunks[1])
}

func TestSplitMessagePrefersWordBoundaryWhenNoParagraph(t *testing.T) {
	words := strings.Repeat("word ", 500) // 2500 chars, no newlines
	chunks := splitMessage(words)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		require.LessOrEqual(t, len([]rune(c)), maxChunkRunes)
	}
	// No chunk should end mid-word.
	require.False(t, strings.HasSuffix(chunks[0], "wor"))
}

func TestSplitMessageRoundTripsConcatenation(t *testing.T) {
	text := strings.Repeat("word ", 600)
	chunks := splitMessage(text)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessageEmptyYieldsNoChunks(t *testing.T) {
	require.Empty(t, splitMessage(""))
}

func TestApplyChunkPrefixOnlyAffectsFirstChunk(t *testing.T) {
	chunks := []string{"hello", "world"}
	out := applyChunkPrefix(chunks, "<@123>")
	require.Equal(t, "<@123> hello", out[0])
	require.Equal(t, "world", out[1])
}

func TestApplyChunkPrefixNoopWhenEmpty(t *testing.T) {
	chunks := []string{"hello"}
	out := applyChunkPrefix(chunks, "")
	require.Equal(t, chunks, out)
}
