package sanitize

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Replacement substitutes one [Start,End) range of the body text.
type Replacement struct {
	Start int
	End   int
	Text  string
}

// ApplyToHTML splices text-level replacements into the sanitized HTML
// through the offset table. Ranges must not overlap. Replacements are
// applied back to front so earlier offsets stay valid; the caller
// re-sanitizes the output before storing it.
func (r *Result) ApplyToHTML(repls []Replacement) (string, error) {
	if len(repls) == 0 {
		return r.HTML, nil
	}

	ordered := make([]Replacement, len(repls))
	copy(ordered, repls)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	for i := 1; i < len(ordered); i++ {
		if ordered[i].End > ordered[i-1].Start {
			return "", fmt.Errorf("replacement ranges [%d,%d) and [%d,%d) overlap",
				ordered[i].Start, ordered[i].End, ordered[i-1].Start, ordered[i-1].End)
		}
	}

	out := r.HTML
	for _, repl := range ordered {
		if repl.Start < 0 || repl.End < repl.Start || repl.End > len(r.Text) {
			return "", fmt.Errorf("replacement range [%d,%d) outside body text", repl.Start, repl.End)
		}
		hs, he, ok := r.Offsets.ToHTMLRange(repl.Start, repl.End)
		if !ok || hs > len(out) || he > len(out) || hs > he {
			return "", fmt.Errorf("replacement range [%d,%d) not anchorable in html", repl.Start, repl.End)
		}
		var b strings.Builder
		b.Grow(len(out) - (he - hs) + len(repl.Text))
		b.WriteString(out[:hs])
		b.WriteString(html.EscapeString(repl.Text))
		b.WriteString(out[he:])
		out = b.String()
	}
	return out, nil
}
