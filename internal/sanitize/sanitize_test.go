package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/types"
)

func TestSanitizeRemovesNoise(t *testing.T) {
	raw := `<html><head><style>p{color:red}</style></head><body>
<nav>menu</nav>
<header>site header</header>
<p>The article body.</p>
<script>alert(1)</script>
<iframe src="http://ads.example"></iframe>
<footer>copyright</footer>
</body></html>`

	r, err := Sanitize(raw)
	require.NoError(t, err)

	assert.Contains(t, r.HTML, "The article body.")
	assert.NotContains(t, r.HTML, "alert(1)")
	assert.NotContains(t, r.HTML, "menu")
	assert.NotContains(t, r.HTML, "site header")
	assert.NotContains(t, r.HTML, "copyright")
	assert.NotContains(t, r.HTML, "iframe")
}

func TestSanitizeRemovesHiddenAndSpacers(t *testing.T) {
	raw := `<body><p style="display: none">tracking</p><p>&nbsp;</p><p hidden>x</p><p>kept</p></body>`

	r, err := Sanitize(raw)
	require.NoError(t, err)

	assert.NotContains(t, r.HTML, "tracking")
	assert.Equal(t, "kept", strings.TrimSpace(r.Text))
}

func TestSanitizeRejectsEmptyBody(t *testing.T) {
	_, err := Sanitize(`<body><script>only()</script></body>`)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidUpstream)
}

func TestExtractTextBlockBreaks(t *testing.T) {
	r, err := Sanitize(`<body><h1>Title</h1><p>First para.</p><p>Second para.</p></body>`)
	require.NoError(t, err)

	assert.Equal(t, "Title\nFirst para.\nSecond para.", r.Text)
}

func TestExtractTextKeepsInnerWhitespace(t *testing.T) {
	r, err := Sanitize(`<body><p>double  space kept</p></body>`)
	require.NoError(t, err)

	assert.Contains(t, r.Text, "double  space")
}

func TestOffsetTableAnchorsTextInHTML(t *testing.T) {
	r, err := Sanitize(`<body><p>Hello world</p><p>Second paragraph</p></body>`)
	require.NoError(t, err)

	idx := strings.Index(r.Text, "Second")
	require.GreaterOrEqual(t, idx, 0)

	hs, ok := r.Offsets.ToHTML(idx)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(r.HTML[hs:], "Second"), "html at %d: %q", hs, r.HTML[hs:])
}

func TestOffsetTableRangeRoundTrip(t *testing.T) {
	r, err := Sanitize(`<body><p>The quick brown fox</p></body>`)
	require.NoError(t, err)

	start := strings.Index(r.Text, "quick")
	end := start + len("quick")

	hs, he, ok := r.Offsets.ToHTMLRange(start, end)
	require.True(t, ok)
	assert.Equal(t, "quick", r.HTML[hs:he])
}

func TestOffsetTableZeroWidthRange(t *testing.T) {
	r, err := Sanitize(`<body><p>abc</p></body>`)
	require.NoError(t, err)

	hs, he, ok := r.Offsets.ToHTMLRange(1, 1)
	require.True(t, ok)
	assert.Equal(t, hs, he)
}

func TestOffsetTableEntityRunStaysInBounds(t *testing.T) {
	r, err := Sanitize(`<body><p>Tom &amp; Jerry forever</p></body>`)
	require.NoError(t, err)

	idx := strings.Index(r.Text, "forever")
	hs, ok := r.Offsets.ToHTML(idx)
	require.True(t, ok)

	seg := r.Offsets[0]
	assert.GreaterOrEqual(t, hs, seg.HTMLStart)
	assert.LessOrEqual(t, hs, seg.HTMLStart+seg.HTMLLength)
}

func TestApplyToHTMLReplacesRange(t *testing.T) {
	r, err := Sanitize(`<body><p>teh quick fox</p></body>`)
	require.NoError(t, err)

	start := strings.Index(r.Text, "teh")
	out, err := r.ApplyToHTML([]Replacement{{Start: start, End: start + 3, Text: "the"}})
	require.NoError(t, err)

	assert.Contains(t, out, "the quick fox")
	assert.NotContains(t, out, "teh")
}

func TestApplyToHTMLMultipleBackToFront(t *testing.T) {
	r, err := Sanitize(`<body><p>aaa bbb ccc</p></body>`)
	require.NoError(t, err)

	a := strings.Index(r.Text, "aaa")
	c := strings.Index(r.Text, "ccc")
	out, err := r.ApplyToHTML([]Replacement{
		{Start: a, End: a + 3, Text: "AAA"},
		{Start: c, End: c + 3, Text: "CCC"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "AAA bbb CCC")
}

func TestApplyToHTMLRejectsOverlap(t *testing.T) {
	r, err := Sanitize(`<body><p>abcdef</p></body>`)
	require.NoError(t, err)

	_, err = r.ApplyToHTML([]Replacement{
		{Start: 0, End: 4, Text: "x"},
		{Start: 2, End: 6, Text: "y"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")
}

func TestApplyToHTMLEscapesReplacementText(t *testing.T) {
	r, err := Sanitize(`<body><p>plain</p></body>`)
	require.NoError(t, err)

	out, err := r.ApplyToHTML([]Replacement{{Start: 0, End: 5, Text: "<b>bold</b>"}})
	require.NoError(t, err)

	assert.NotContains(t, out, "<b>")
	assert.Contains(t, out, "&lt;b&gt;")
}
