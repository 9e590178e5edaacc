package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"copydesk/internal/sanitize"
	"copydesk/internal/types"
)

// authorPatterns match the byline forms seen in exported documents.
// First capture group is the author name.
var authorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^文\s*[/／]\s*(.+)$`),
	regexp.MustCompile(`^(?:作者|记者|記者|撰文|編輯|编辑)\s*[:：/／]\s*(.+)$`),
	regexp.MustCompile(`(?i)^by\s+([^|,;]+)`),
	regexp.MustCompile(`(?i)^author\s*[:：]\s*(.+)$`),
}

// titlePrefixRe captures a bracketed label at the head of a title.
var titlePrefixRe = regexp.MustCompile(`^(【[^】]*】|\[[^\]]*\]|〖[^〗]*〗)\s*(.*)$`)

// titleSeparators split a title into main and suffix. ASCII separators
// require surrounding space so hyphenated words survive.
var titleSeparators = []string{"：", "—", "─", "｜", " - ", " – ", ": ", " | "}

var (
	metaLabelRe = regexp.MustCompile(`(?i)^(by|source|date|published|updated|editor|via|文|作者|记者|記者|來源|来源|日期|編輯|编辑)$`)
	dateTokenRe = regexp.MustCompile(`^\d{4}[-/.年]\d{1,2}([-/.月]\d{1,2}日?)?$|^\d{1,2}:\d{2}(:\d{2})?$|^\d+$`)
)

// parseHeuristic is strategy B: a deterministic HTML walk with no model
// call. It fails only when no body text survives cleaning.
func parseHeuristic(raw string) (*types.Article, []types.ArticleImage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: html parse: %v", types.ErrInvalidUpstream, err)
	}

	images := collectImages(doc)
	_, authorName := findAuthor(doc)

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	doc.Find("h1").First().Remove()
	doc.Find("figure, img").Remove()

	if first := doc.Find("p").First(); first.Length() > 0 {
		if looksLikeMetadata(strings.TrimSpace(first.Text())) {
			first.Remove()
		}
	}

	// No heading: promote the first substantive paragraph to title.
	if title == "" {
		doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t := strings.TrimSpace(s.Text())
			if isTitleCandidate(t) {
				title = t
				s.Remove()
				return false
			}
			return true
		})
	}

	descSource := ""
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.TrimSpace(s.Text())
		if len([]rune(t)) >= 40 {
			descSource = t
			return false
		}
		return true
	})

	bodyHTML, err := doc.Find("body").Html()
	if err != nil {
		return nil, nil, err
	}
	clean, err := sanitize.Sanitize(bodyHTML)
	if err != nil {
		return nil, nil, err
	}
	if descSource == "" {
		descSource = clean.Text
	}

	prefix, main, suffix := splitTitle(title)
	a := &types.Article{
		TitlePrefix:     prefix,
		TitleMain:       main,
		TitleSuffix:     suffix,
		AuthorName:      authorName,
		BodyHTML:        clean.HTML,
		BodyText:        clean.Text,
		MetaDescription: truncateDescription(descSource),
		SEOKeywords:     extractKeywords(clean.Text, 5, 10),
	}
	return a, images, nil
}

// collectImages records every <img> and <figure> with the zero-based
// index of the paragraph it appeared in. Runs before image removal.
func collectImages(doc *goquery.Document) []types.ArticleImage {
	var images []types.ArticleImage
	para := 0

	doc.Find("body").Find("p, figure, img").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "p":
			s.Find("img").Each(func(_ int, img *goquery.Selection) {
				images = append(images, imageEntry(img, para))
			})
			if strings.TrimSpace(s.Text()) != "" {
				para++
			}
		case "figure":
			if s.ParentsFiltered("p").Length() > 0 {
				return
			}
			s.Find("img").Each(func(_ int, img *goquery.Selection) {
				images = append(images, imageEntry(img, para))
			})
		case "img":
			if s.ParentsFiltered("p, figure").Length() > 0 {
				return
			}
			images = append(images, imageEntry(s, para))
		}
	})

	out := images[:0]
	for _, img := range images {
		if img.SourceURL != "" {
			out = append(out, img)
		}
	}
	return out
}

func imageEntry(img *goquery.Selection, para int) types.ArticleImage {
	src, _ := img.Attr("src")
	return types.ArticleImage{
		Position:  para,
		SourceURL: strings.TrimSpace(src),
		Caption:   imageCaption(img),
	}
}

// imageCaption prefers the enclosing figcaption, then alt, then title.
func imageCaption(img *goquery.Selection) string {
	if fig := img.Closest("figure"); fig.Length() > 0 {
		if c := strings.TrimSpace(fig.Find("figcaption").First().Text()); c != "" {
			return c
		}
	}
	if alt, ok := img.Attr("alt"); ok {
		if c := strings.TrimSpace(alt); c != "" {
			return c
		}
	}
	if ti, ok := img.Attr("title"); ok {
		return strings.TrimSpace(ti)
	}
	return ""
}

// findAuthor scans visible text lines for a byline. First match wins.
func findAuthor(doc *goquery.Document) (raw, name string) {
	doc.Find("p, div, li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, line := range strings.Split(s.Text(), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			for _, re := range authorPatterns {
				if m := re.FindStringSubmatch(line); m != nil {
					raw, name = line, strings.TrimSpace(m[1])
					return false
				}
			}
		}
		return true
	})
	return raw, name
}

// trimAuthorLine extracts the bare name from a raw byline, or returns
// the trimmed line when no pattern matches.
func trimAuthorLine(raw string) string {
	line := strings.TrimSpace(raw)
	for _, re := range authorPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return line
}

func isAuthorLine(s string) bool {
	for _, re := range authorPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// isTitleCandidate accepts a paragraph as a title stand-in: substantive
// length, not a byline, not a metadata line.
func isTitleCandidate(s string) bool {
	n := len([]rune(s))
	if n < 10 || n > 200 {
		return false
	}
	return !isAuthorLine(s) && !looksLikeMetadata(s)
}

// splitTitle breaks a display title into prefix, main and suffix.
func splitTitle(full string) (prefix, main, suffix string) {
	rest := strings.TrimSpace(full)
	if m := titlePrefixRe.FindStringSubmatch(rest); m != nil {
		prefix, rest = m[1], strings.TrimSpace(m[2])
	}
	for _, sep := range titleSeparators {
		if i := strings.Index(rest, sep); i > 0 {
			return prefix, strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+len(sep):])
		}
	}
	return prefix, rest, ""
}

// looksLikeMetadata reports whether more than half of a paragraph's
// tokens are non-body tokens: labels, dates, URLs, separators.
func looksLikeMetadata(text string) bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("|·/：:，,、", r)
	})
	if len(fields) == 0 {
		return false
	}
	meta := 0
	for _, f := range fields {
		switch {
		case metaLabelRe.MatchString(f),
			dateTokenRe.MatchString(f),
			strings.HasPrefix(f, "http"),
			strings.Contains(f, "@"):
			meta++
		}
	}
	return meta*2 > len(fields)
}

// truncateDescription folds whitespace and cuts to the 150-160 rune
// window search engines display, breaking at a space when one lands in
// the window.
func truncateDescription(s string) string {
	const lo, hi = 150, 160
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= hi {
		return string(runes)
	}
	cut := hi
	for i := hi; i >= lo; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut]))
}

// stopWords are excluded from keyword frequency counting.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"from": true, "they": true, "will": true, "would": true, "there": true,
	"their": true, "what": true, "about": true, "which": true, "when": true,
	"more": true, "been": true, "into": true, "than": true, "its": true,
	"also": true, "were": true, "your": true, "some": true, "them": true,
	"other": true, "these": true, "those": true, "such": true, "over": true,
	"的": true, "了": true, "和": true, "是": true, "在": true,
	"我们": true, "我們": true, "这个": true, "這個": true, "一个": true,
	"一個": true, "可以": true, "因为": true, "因為": true, "所以": true,
	"但是": true, "如果": true, "没有": true, "沒有": true, "就是": true,
}

// extractKeywords ranks body tokens by frequency, drops stop words, and
// returns between minWords and maxWords keywords.
func extractKeywords(text string, minWords, maxWords int) []string {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		if !stopWords[tok] {
			counts[tok]++
		}
	}

	type freq struct {
		word string
		n    int
	}
	ranked := make([]freq, 0, len(counts))
	for w, n := range counts {
		ranked = append(ranked, freq{w, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].word < ranked[j].word
	})

	out := make([]string, 0, maxWords)
	for _, f := range ranked {
		if len(out) >= maxWords {
			break
		}
		if f.n < 2 && len(out) >= minWords {
			break
		}
		out = append(out, f.word)
	}
	return out
}

// tokenize splits text into countable tokens: lowercased latin words of
// three or more letters, and CJK runs short enough to be a term rather
// than a clause.
func tokenize(text string) []string {
	var toks []string
	var run []rune
	var han bool

	flush := func() {
		if len(run) == 0 {
			return
		}
		word, isHan := string(run), han
		run, han = run[:0], false
		if isHan {
			if n := len([]rune(word)); n >= 2 && n <= 6 {
				toks = append(toks, word)
			}
			return
		}
		if len(word) >= 3 {
			toks = append(toks, strings.ToLower(word))
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			if len(run) > 0 && !han {
				flush()
			}
			han = true
			run = append(run, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(run) > 0 && han {
				flush()
			}
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return toks
}
