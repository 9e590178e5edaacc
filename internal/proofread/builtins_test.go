package proofread

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRepeatedWords(t *testing.T) {
	text := "the the quick brown fox. The THE end."
	out := findRepeatedWords(text)
	require.Len(t, out, 2)

	assert.Equal(t, "the the", out[0].original)
	assert.Equal(t, "the", out[0].suggested)
	assert.Equal(t, 0, out[0].start)

	assert.Equal(t, "The THE", out[1].original)
	assert.Equal(t, "The", out[1].suggested, "suggestion keeps the first casing")
}

func TestFindRepeatedWordsIgnoresPunctuatedPairs(t *testing.T) {
	assert.Empty(t, findRepeatedWords("done, done and dusted"))
	assert.Empty(t, findRepeatedWords("state-of-the-art"))
	assert.Empty(t, findRepeatedWords("no repeats here"))
}

func TestFindRepeatedWordsAcrossNewline(t *testing.T) {
	out := findRepeatedWords("ending word\nword starts the next line")
	require.Len(t, out, 1)
	assert.Equal(t, "word\nword", out[0].original)
}

func TestFindUnbalancedBrackets(t *testing.T) {
	text := "balanced (fine) line\nmissing (closer here\nstray closer ) here\nok 【好】"
	out := findUnbalancedBrackets(text)
	require.Len(t, out, 2)

	assert.Equal(t, "missing (closer here", out[0].original)
	assert.Empty(t, out[0].suggested, "no automatic fix")
	assert.Equal(t, "stray closer ) here", out[1].original)
}

func TestFindLongSentences(t *testing.T) {
	long := strings.Repeat("word ", 61) + "end."
	out := findLongSentences("Short one. " + long)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].reasoning, "62 words")
	assert.Empty(t, out[0].suggested)

	assert.Empty(t, findLongSentences("Short. Also short. Fine."))
}

func TestFindTrailingWhitespace(t *testing.T) {
	text := "clean line\ndirty line  \nanother\t\nlast"
	out := findTrailingWhitespace(text)
	require.Len(t, out, 2)

	assert.Equal(t, "  \n", out[0].original)
	assert.Equal(t, "\n", out[0].suggested)
	assert.Equal(t, "\t\n", out[1].original)

	// Replacing the span with the suggestion removes the whitespace.
	fixed := text[:out[0].start] + out[0].suggested + text[out[0].end:]
	assert.Contains(t, fixed, "dirty line\n")
}
