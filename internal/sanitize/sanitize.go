// Package sanitize cleans article HTML and derives the plain body text
// the proofreader works on. Cleaning and extraction run as one pass so
// the emitted offset table always refers to the exact body_html string
// that gets stored.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"copydesk/internal/types"
)

// noiseSelector matches elements that never belong to article content.
const noiseSelector = "script, style, nav, header, footer, iframe, noscript, form, aside"

// Result is the sanitized document: canonical HTML, the derived text and
// the table mapping text offsets back into the HTML.
type Result struct {
	HTML    string
	Text    string
	Offsets OffsetTable
}

// Sanitize cleans raw article HTML and extracts its text. Returns
// ErrInvalidUpstream when nothing readable survives cleaning.
func Sanitize(rawHTML string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable html: %v", types.ErrInvalidUpstream, err)
	}

	doc.Find(noiseSelector).Remove()

	// Hidden elements carry tracking pixels and editor chrome.
	doc.Find("[hidden]").Remove()
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			s.Remove()
		}
	})

	// Spacer paragraphs (empty or non-breaking-space only).
	doc.Find("p, div").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() == 0 && strings.TrimSpace(strings.ReplaceAll(s.Text(), " ", " ")) == "" {
			s.Remove()
		}
	})

	body := doc.Find("body")
	var clean string
	if body.Length() > 0 {
		clean, err = body.Html()
	} else {
		clean, err = doc.Html()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: serializing cleaned html: %v", types.ErrInvalidUpstream, err)
	}
	clean = strings.TrimSpace(clean)

	text, offsets := extractText(clean)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty body after sanitization", types.ErrInvalidUpstream)
	}

	return &Result{HTML: clean, Text: text, Offsets: offsets}, nil
}
