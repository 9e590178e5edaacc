package proofread

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/sanitize"
	"copydesk/internal/types"
)

const mergeBody = "The teh quick brown fox jumps over the lazy dog"

func issue(id int64, start, end int, suggested string) *types.Issue {
	return &types.Issue{
		ID:            id,
		ArticleID:     1,
		RuleID:        id,
		Severity:      types.SeverityError,
		StartOffset:   start,
		EndOffset:     end,
		OriginalText:  mergeBody[start:end],
		SuggestedText: suggested,
	}
}

func decision(issueID int64, kind types.DecisionKind, modified string) *types.Decision {
	return &types.Decision{
		ID:              issueID * 10,
		ArticleID:       1,
		IssueID:         issueID,
		Decision:        kind,
		ModifiedContent: modified,
		DecidedBy:       "editor",
		DecidedAt:       time.Now(),
		Revision:        1,
	}
}

func TestMergeAppliesDecisions(t *testing.T) {
	issues := []*types.Issue{
		issue(1, 4, 7, "the"),    // "teh" accepted
		issue(2, 8, 13, "fast"),  // "quick" rejected
		issue(3, 24, 29, ""),     // "jumps" modified
		issue(4, 35, 38, "that"), // "the" undecided
	}
	decisions := map[int64]*types.Decision{
		1: decision(1, types.DecisionAccepted, ""),
		2: decision(2, types.DecisionRejected, ""),
		3: decision(3, types.DecisionModified, "leaps"),
	}

	res, err := Merge(mergeBody, issues, decisions)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Deferred)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "The the quick brown fox leaps over the lazy dog", res.AppliedText)
	require.Len(t, res.Replacements, 2)
	assert.Equal(t, 4, res.Replacements[0].Start)
	assert.Equal(t, "leaps", res.Replacements[1].Text)
}

func TestMergeSkipsOverlappingLaterDecision(t *testing.T) {
	issues := []*types.Issue{
		issue(1, 4, 13, "rewritten"), // "teh quick"
		issue(2, 8, 13, "slow"),      // "quick", inside issue 1
	}
	decisions := map[int64]*types.Decision{
		1: decision(1, types.DecisionAccepted, ""),
		2: decision(2, types.DecisionAccepted, ""),
	}

	res, err := Merge(mergeBody, issues, decisions)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, int64(2), res.Conflicts[0].IssueID)
	assert.Equal(t, int64(1), res.Conflicts[0].ConflictsWith)
	assert.Equal(t, "The rewritten brown fox jumps over the lazy dog", res.AppliedText)
}

func TestMergeInsertionAtReplacementBoundary(t *testing.T) {
	// A zero-width insertion at the start of an applied range must not
	// be reported as a conflict with it.
	issues := []*types.Issue{
		issue(1, 4, 7, "the"),   // "teh" replaced
		issue(2, 4, 4, "very "), // insertion at the same offset
	}
	decisions := map[int64]*types.Decision{
		1: decision(1, types.DecisionAccepted, ""),
		2: decision(2, types.DecisionAccepted, ""),
	}

	res, err := Merge(mergeBody, issues, decisions)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Applied)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "The very the quick brown fox jumps over the lazy dog", res.AppliedText)
	require.Len(t, res.Replacements, 2)
	assert.Equal(t, res.Replacements[0].Start, res.Replacements[0].End, "insertion ordered first")
}

func TestMergeAcceptWithoutSuggestionFails(t *testing.T) {
	issues := []*types.Issue{issue(1, 4, 7, "")}
	decisions := map[int64]*types.Decision{1: decision(1, types.DecisionAccepted, "")}

	_, err := Merge(mergeBody, issues, decisions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suggestion")
}

func TestMergeRejectsOutOfRangeIssue(t *testing.T) {
	bad := issue(1, 4, 7, "the")
	bad.EndOffset = len(mergeBody) + 5

	_, err := Merge(mergeBody, []*types.Issue{bad}, map[int64]*types.Decision{
		1: decision(1, types.DecisionAccepted, ""),
	})
	require.ErrorIs(t, err, types.ErrInvariant)
}

func TestMergeNoDecisionsKeepsBody(t *testing.T) {
	issues := []*types.Issue{issue(1, 4, 7, "the"), issue(2, 8, 13, "")}

	res, err := Merge(mergeBody, issues, nil)
	require.NoError(t, err)
	assert.Equal(t, mergeBody, res.AppliedText)
	assert.Equal(t, 2, res.Deferred)
	assert.Empty(t, res.Replacements)
}

func TestMergeUnsortedInputIsNormalized(t *testing.T) {
	issues := []*types.Issue{
		issue(2, 24, 29, "leaps"),
		issue(1, 4, 7, "the"),
	}
	decisions := map[int64]*types.Decision{
		1: decision(1, types.DecisionAccepted, ""),
		2: decision(2, types.DecisionAccepted, ""),
	}

	res, err := Merge(mergeBody, issues, decisions)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, "The the quick brown fox leaps over the lazy dog", res.AppliedText)

	want := []sanitize.Replacement{
		{Start: 4, End: 7, Text: "the"},
		{Start: 24, End: 29, Text: "leaps"},
	}
	if diff := cmp.Diff(want, res.Replacements); diff != "" {
		t.Errorf("replacements after normalization (-want +got):\n%s", diff)
	}
}
