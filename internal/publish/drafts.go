package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"copydesk/internal/cms"
	"copydesk/internal/logging"
)

// adoptionWindow bounds how far a draft's CMS timestamp may sit from
// the task's first start time for the draft to count as ours.
const adoptionWindow = 5 * time.Minute

// draftMatch is a draft found in the CMS that an earlier attempt of
// this task already saved.
type draftMatch struct {
	CMSArticleID string
	URL          string
}

// findExistingDraft scans the CMS draft list for a row whose title
// matches the article and whose creation time falls inside the
// adoption window around startedAt. Rows without a readable date are
// adopted on the title alone; duplicating a draft is the worse
// failure.
func findExistingDraft(ctx context.Context, sess *session, sel *cms.SelectorMap, baseURL, title string, startedAt time.Time) (*draftMatch, error) {
	if err := sess.navigate(ctx, joinURL(baseURL, sel.Drafts.Path)); err != nil {
		return nil, err
	}

	rows, err := sess.page.Context(ctx).Timeout(sess.stepTimeout).Elements(sel.Drafts.Row)
	if err != nil {
		return nil, fmt.Errorf("draft rows %q: %w", sel.Drafts.Row, err)
	}

	want := strings.TrimSpace(title)
	for _, row := range rows {
		titleEl, err := row.Element(sel.Drafts.Title)
		if err != nil {
			continue
		}
		rowTitle, err := titleEl.Text()
		if err != nil || !strings.EqualFold(strings.TrimSpace(rowTitle), want) {
			continue
		}

		href := ""
		if linkEl, err := row.Element(sel.Drafts.Link); err == nil {
			if v, err := linkEl.Attribute("href"); err == nil && v != nil {
				href = *v
			}
		}
		match := &draftMatch{CMSArticleID: parseCMSArticleID(href), URL: href}

		created, ok := rowDate(row, sel)
		if !ok {
			logging.PublishWarn("draft %q has no readable date, adopting on title match alone", want)
			return match, nil
		}
		if absDuration(created.Sub(startedAt)) > adoptionWindow {
			continue
		}
		return match, nil
	}
	return nil, nil
}

// rowDate reads and parses the row's date cell. ok is false when the
// selector map has no date column or the cell does not parse.
func rowDate(row *rod.Element, sel *cms.SelectorMap) (time.Time, bool) {
	if sel.Drafts.Date == "" {
		return time.Time{}, false
	}
	dateEl, err := row.Element(sel.Drafts.Date)
	if err != nil {
		return time.Time{}, false
	}
	raw, err := dateEl.Text()
	if err != nil {
		return time.Time{}, false
	}
	created, err := time.Parse(sel.Drafts.DateFormat, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, false
	}
	return created, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
