package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		prefix string
		main   string
		suffix string
	}{
		{"plain", "Simple Title", "", "Simple Title", ""},
		{"bracketed prefix", "【速報】Big News", "【速報】", "Big News", ""},
		{"ascii brackets", "[Update] Release Notes", "[Update]", "Release Notes", ""},
		{"colon suffix", "Main Title: The Subtitle", "", "Main Title", "The Subtitle"},
		{"fullwidth colon", "主標題：副標題", "", "主標題", "副標題"},
		{"spaced dash", "Main - Sub", "", "Main", "Sub"},
		{"hyphenated word survives", "State-of-the-art Caching", "", "State-of-the-art Caching", ""},
		{"everything", "【NEWS】Main: Sub", "【NEWS】", "Main", "Sub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, main, suffix := splitTitle(tt.in)
			assert.Equal(t, tt.prefix, prefix)
			assert.Equal(t, tt.main, main)
			assert.Equal(t, tt.suffix, suffix)
		})
	}
}

func TestTruncateDescription(t *testing.T) {
	short := "A short description."
	assert.Equal(t, short, truncateDescription(short))

	long := strings.Repeat("word ", 100)
	got := truncateDescription(long)
	n := len([]rune(got))
	assert.GreaterOrEqual(t, n, 150)
	assert.LessOrEqual(t, n, 160)
	assert.False(t, strings.HasSuffix(got, " "))
}

func TestLooksLikeMetadata(t *testing.T) {
	assert.True(t, looksLikeMetadata("來源: example.com | 2024/03/12"))
	assert.True(t, looksLikeMetadata("By Jane | 2024-03-12 | 14:30"))
	assert.False(t, looksLikeMetadata("Edge caching moves content closer to readers."))
	assert.False(t, looksLikeMetadata(""))
}

func TestExtractKeywords(t *testing.T) {
	text := strings.Repeat("caching ", 5) + strings.Repeat("latency ", 3) +
		strings.Repeat("origin ", 2) + "the and with once"
	words := extractKeywords(text, 5, 10)

	assert.Contains(t, words, "caching")
	assert.Contains(t, words, "latency")
	assert.NotContains(t, words, "the")
	assert.NotContains(t, words, "and")
	assert.LessOrEqual(t, len(words), 10)
	// Highest frequency first.
	assert.Equal(t, "caching", words[0])
}

func TestTokenizeMixedScripts(t *testing.T) {
	toks := tokenize("邊緣快取 improves cache latency 的 speed")
	assert.Contains(t, toks, "邊緣快取")
	assert.Contains(t, toks, "improves")
	assert.Contains(t, toks, "cache")
	// Single CJK characters are function words, not terms.
	assert.NotContains(t, toks, "的")
}

func TestTrimAuthorLine(t *testing.T) {
	assert.Equal(t, "林小美", trimAuthorLine("文/林小美"))
	assert.Equal(t, "Jane Doe", trimAuthorLine("By Jane Doe"))
	assert.Equal(t, "王大明", trimAuthorLine("作者：王大明"))
	assert.Equal(t, "Plain Name", trimAuthorLine("Plain Name"))
}
