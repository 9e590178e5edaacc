package proofread

import (
	"fmt"
	"sort"

	"copydesk/internal/sanitize"
	"copydesk/internal/types"
)

// MergeResult is the derived applied body. Nothing here is stored; the
// caller persists only on an explicit finalize.
type MergeResult struct {
	// Replacements in body_text coordinates, offset order.
	Replacements []sanitize.Replacement
	// AppliedText is the body text preview after the replacements.
	AppliedText string

	Applied  int
	Rejected int
	Deferred int

	// Conflicts lists decisions skipped because an earlier-starting
	// applied decision overlaps them.
	Conflicts []*types.DecisionConflictError
}

// Merge walks the issues in offset order and computes the applied body.
//
// accepted replaces original with the suggestion, modified with the
// operator's content, rejected and undecided keep the original. When two
// applied ranges overlap, the later-starting one is skipped and recorded
// as a conflict for the operator to resolve. A zero-width insertion
// orders before a replacement starting at the same offset, so the pair
// applies cleanly instead of conflicting.
func Merge(bodyText string, issues []*types.Issue, decisions map[int64]*types.Decision) (*MergeResult, error) {
	ordered := make([]*types.Issue, len(issues))
	copy(ordered, issues)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartOffset != ordered[j].StartOffset {
			return ordered[i].StartOffset < ordered[j].StartOffset
		}
		if ordered[i].ZeroWidth() != ordered[j].ZeroWidth() {
			return ordered[i].ZeroWidth()
		}
		return types.SeverityRank(ordered[i].Severity) > types.SeverityRank(ordered[j].Severity)
	})

	res := &MergeResult{}
	lastEnd := -1
	var lastIssueID int64

	for _, issue := range ordered {
		if issue.StartOffset < 0 || issue.EndOffset < issue.StartOffset || issue.EndOffset > len(bodyText) {
			return nil, fmt.Errorf("%w: issue %d range [%d,%d) outside body",
				types.ErrInvariant, issue.ID, issue.StartOffset, issue.EndOffset)
		}

		d := decisions[issue.ID]
		if d == nil {
			res.Deferred++
			continue
		}

		var text string
		switch d.Decision {
		case types.DecisionRejected:
			res.Rejected++
			continue
		case types.DecisionAccepted:
			// An empty suggestion means the rule offers no fix; such
			// issues can only be rejected or modified.
			if issue.SuggestedText == "" {
				return nil, fmt.Errorf("issue %d accepted but carries no suggestion", issue.ID)
			}
			text = issue.SuggestedText
		case types.DecisionModified:
			text = d.ModifiedContent
		default:
			return nil, fmt.Errorf("%w: unknown decision %q on issue %d", types.ErrInvariant, d.Decision, issue.ID)
		}

		if issue.StartOffset < lastEnd {
			res.Conflicts = append(res.Conflicts, &types.DecisionConflictError{
				IssueID:       issue.ID,
				ConflictsWith: lastIssueID,
			})
			continue
		}

		res.Replacements = append(res.Replacements, sanitize.Replacement{
			Start: issue.StartOffset,
			End:   issue.EndOffset,
			Text:  text,
		})
		res.Applied++
		lastEnd = issue.EndOffset
		lastIssueID = issue.ID
	}

	res.AppliedText = applyToText(bodyText, res.Replacements)
	return res, nil
}

// applyToText splices the replacements into the body text, back to
// front so offsets stay valid.
func applyToText(text string, repls []sanitize.Replacement) string {
	out := text
	for i := len(repls) - 1; i >= 0; i-- {
		r := repls[i]
		out = out[:r.Start] + r.Text + out[r.End:]
	}
	return out
}
