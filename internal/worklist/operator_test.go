package worklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"copydesk/internal/types"
)

func TestOperatorEdgeFor(t *testing.T) {
	tests := []struct {
		from, to types.ItemStatus
		want     operatorEdge
	}{
		{types.StatusParsingReview, types.StatusProofreading, edgeConfirmParse},
		{types.StatusParsingReview, types.StatusParsing, edgeReparse},
		{types.StatusProofreadingReview, types.StatusReadyToPublish, edgeFinalize},
		{types.StatusProofreadingReview, types.StatusProofreading, edgeReProofread},
		{types.StatusProofreadingReview, types.StatusParsingReview, edgeReturnToParsingReview},
		{types.StatusReadyToPublish, types.StatusPublishing, edgePublish},

		// Pipeline-owned edges are not for operators.
		{types.StatusPending, types.StatusParsing, edgeInvalid},
		{types.StatusParsing, types.StatusParsingReview, edgeInvalid},
		{types.StatusPublishing, types.StatusPublished, edgeInvalid},
		{types.StatusPublishing, types.StatusFailed, edgeInvalid},

		// Resets carry a note and go through Reset instead.
		{types.StatusFailed, types.StatusPending, edgeInvalid},

		// Off-adjacency moves.
		{types.StatusPending, types.StatusPublished, edgeInvalid},
		{types.StatusParsingReview, types.StatusReadyToPublish, edgeInvalid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, operatorEdgeFor(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStageCause(t *testing.T) {
	budget := 3 * time.Minute

	err := stageCause("parsing", budget, context.DeadlineExceeded)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Contains(t, err.Error(), "parsing exceeded 3m0s")

	err = stageCause("proofreading", budget, context.Canceled)
	assert.ErrorIs(t, err, types.ErrCancelled)

	plain := errors.New("model output violates schema")
	assert.Equal(t, plain, stageCause("parsing", budget, plain))
}

func TestResetRejectsBadInput(t *testing.T) {
	o := &Orchestrator{}

	err := o.Reset(context.Background(), 1, types.StatusPending, "   ", "pat")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "note")

	err = o.Reset(context.Background(), 1, types.StatusPublished, "stuck on images", "pat")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	err = o.Reset(context.Background(), 1, types.StatusPublishing, "stuck on images", "pat")
	assert.ErrorIs(t, err, types.ErrInvalidTransition,
		"publishing is reserved for the orchestrator")
}
