package sanitize

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Segment maps one run of body text back to its byte range in the HTML.
// HTMLLength can exceed Length when the source run contained entities.
type Segment struct {
	TextStart  int
	HTMLStart  int
	Length     int
	HTMLLength int
}

// OffsetTable translates body_text offsets into body_html offsets so
// issues found in the text can be anchored in the rendered HTML.
type OffsetTable []Segment

// blockAtoms are elements whose close emits a newline in the text.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Blockquote: true,
	atom.Pre: true, atom.Tr: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Figcaption: true, atom.Figure: true,
}

// extractText walks the HTML token stream and collects visible text,
// recording for every kept run where it came from. Whitespace-only runs
// between tags are structural and skipped; text inside an element is
// kept verbatim so whitespace-sensitive rules still see the original.
func extractText(cleanHTML string) (string, OffsetTable) {
	z := html.NewTokenizer(strings.NewReader(cleanHTML))

	var (
		sb      strings.Builder
		table   OffsetTable
		htmlPos int
	)

	appendBreak := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := z.Raw()
		tokenStart := htmlPos
		htmlPos += len(raw)

		switch tt {
		case html.TextToken:
			text := string(z.Text())
			if strings.TrimSpace(text) == "" {
				continue
			}
			table = append(table, Segment{
				TextStart:  sb.Len(),
				HTMLStart:  tokenStart,
				Length:     len(text),
				HTMLLength: len(raw),
			})
			sb.WriteString(text)
		case html.EndTagToken:
			name, _ := z.TagName()
			if blockAtoms[atom.Lookup(name)] {
				appendBreak()
			}
		case html.SelfClosingTagToken, html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Br {
				appendBreak()
			}
		}
	}

	return strings.TrimRight(sb.String(), "\n"), table
}

// segmentFor returns the index of the segment containing textOffset, or
// the insertion point when the offset falls between segments.
func (t OffsetTable) segmentFor(textOffset int) int {
	return sort.Search(len(t), func(i int) bool {
		return t[i].TextStart+t[i].Length > textOffset
	})
}

// ToHTML maps one text offset to its HTML offset. Offsets falling on
// structural breaks anchor at the start of the following text run.
func (t OffsetTable) ToHTML(textOffset int) (int, bool) {
	if len(t) == 0 {
		return 0, false
	}
	i := t.segmentFor(textOffset)
	if i == len(t) {
		last := t[len(t)-1]
		return last.HTMLStart + last.HTMLLength, true
	}
	seg := t[i]
	if textOffset < seg.TextStart {
		return seg.HTMLStart, true
	}
	delta := textOffset - seg.TextStart
	if seg.HTMLLength != seg.Length && delta > seg.HTMLLength {
		// Entity-bearing run: exact interior mapping is not possible,
		// clamp to the run's end.
		delta = seg.HTMLLength
	}
	return seg.HTMLStart + delta, true
}

// ToHTMLRange maps a [start,end) text range to an HTML range. Zero-width
// ranges map to a zero-width insertion point.
func (t OffsetTable) ToHTMLRange(start, end int) (int, int, bool) {
	hs, ok := t.ToHTML(start)
	if !ok {
		return 0, 0, false
	}
	if end <= start {
		return hs, hs, true
	}
	i := t.segmentFor(end - 1)
	if i == len(t) {
		last := t[len(t)-1]
		return hs, last.HTMLStart + last.HTMLLength, true
	}
	seg := t[i]
	if end-1 < seg.TextStart {
		return hs, seg.HTMLStart, true
	}
	delta := end - seg.TextStart
	if seg.HTMLLength != seg.Length && delta > seg.HTMLLength {
		delta = seg.HTMLLength
	}
	return hs, seg.HTMLStart + delta, true
}
