package types

import "testing"

func TestTransitionAdjacency(t *testing.T) {
	allowed := []struct {
		from, to ItemStatus
	}{
		{StatusPending, StatusParsing},
		{StatusParsing, StatusParsingReview},
		{StatusParsing, StatusFailed},
		{StatusParsingReview, StatusProofreading},
		{StatusParsingReview, StatusParsing},
		{StatusProofreading, StatusProofreadingReview},
		{StatusProofreading, StatusFailed},
		{StatusProofreadingReview, StatusReadyToPublish},
		{StatusProofreadingReview, StatusProofreading},
		{StatusProofreadingReview, StatusParsingReview},
		{StatusReadyToPublish, StatusPublishing},
		{StatusPublishing, StatusPublished},
		{StatusPublishing, StatusFailed},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to ItemStatus
	}{
		{StatusPending, StatusPublished},
		{StatusPending, StatusProofreading},
		{StatusParsing, StatusPublishing},
		{StatusParsingReview, StatusReadyToPublish},
		{StatusPublished, StatusPending},
		{StatusPublished, StatusPublishing},
		{StatusFailed, StatusPublished},
		{StatusReadyToPublish, StatusPublished},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestResetFromFailed(t *testing.T) {
	for _, target := range []ItemStatus{
		StatusPending, StatusParsing, StatusParsingReview,
		StatusProofreading, StatusProofreadingReview, StatusReadyToPublish,
	} {
		if !CanReset(StatusFailed, target) {
			t.Errorf("failed -> %s reset should be allowed", target)
		}
	}

	if CanReset(StatusFailed, StatusPublished) {
		t.Error("reset must never target published")
	}
	if CanReset(StatusFailed, StatusPublishing) {
		t.Error("reset must never target publishing")
	}
	if CanReset(StatusPending, StatusParsing) {
		t.Error("reset only applies to failed items")
	}
}

func TestReviewAndTerminalStates(t *testing.T) {
	for _, s := range []ItemStatus{StatusParsingReview, StatusProofreadingReview, StatusReadyToPublish} {
		if !IsReviewState(s) {
			t.Errorf("%s should be a review state", s)
		}
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []ItemStatus{StatusPublished, StatusFailed} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
		if IsReviewState(s) {
			t.Errorf("%s should not be a review state", s)
		}
	}
	if IsReviewState(StatusParsing) || IsTerminal(StatusParsing) {
		t.Error("parsing is neither review nor terminal")
	}
}

func TestEveryLaneReachable(t *testing.T) {
	reached := map[ItemStatus]bool{StatusPending: true}
	frontier := []ItemStatus{StatusPending}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, next := range validTransitions[cur] {
			if !reached[next] {
				reached[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	for _, s := range ValidStatuses() {
		if !reached[s] {
			t.Errorf("lane %s unreachable from pending", s)
		}
	}
}
