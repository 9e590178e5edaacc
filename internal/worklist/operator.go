package worklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"copydesk/internal/logging"
	"copydesk/internal/proofread"
	"copydesk/internal/types"
)

// ConfirmParse records the operator's sign-off on the parsed article and
// sends the item to proofreading. The confirmation stamp and the lane
// change land in one transaction.
func (o *Orchestrator) ConfirmParse(ctx context.Context, itemID int64, actor string) error {
	if !o.proofreadQ.reserve() {
		return fmt.Errorf("%w: proofread lane at capacity", types.ErrBusy)
	}

	err := o.advanceTx(ctx, itemID, types.StatusParsingReview, types.StatusProofreading, actor,
		func(tx pgx.Tx, item *types.WorklistItem) error {
			if !item.HasArticle() {
				return fmt.Errorf("%w: item %d has no article to confirm", types.ErrInvariant, itemID)
			}
			if err := o.store.Articles.ConfirmParsing(ctx, tx, *item.ArticleID, actor); err != nil {
				return err
			}
			return o.store.Articles.SetStatus(ctx, tx, *item.ArticleID, types.ArticleInReview)
		})
	if err != nil {
		o.proofreadQ.release()
		return err
	}

	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditParsingConfirmed,
		ItemID:    itemID,
		Actor:     actor,
		Success:   true,
		Message:   fmt.Sprintf("item %d parsing confirmed by %s", itemID, actor),
	})
	o.proofreadQ.push(job{itemID: itemID, actor: actor})
	return nil
}

// RequestReparse sends a reviewed item back through the parse stage,
// overwriting the article from the current raw snapshot.
func (o *Orchestrator) RequestReparse(ctx context.Context, itemID int64, actor string) error {
	return o.dispatch(ctx, o.parseQ, job{itemID: itemID, actor: actor},
		types.StatusParsingReview, types.StatusParsing)
}

// ReProofread re-runs analysis against the current article body and the
// active ruleset. Cached optimization suggestions are reused.
func (o *Orchestrator) ReProofread(ctx context.Context, itemID int64, actor string) error {
	return o.dispatch(ctx, o.proofreadQ, job{itemID: itemID, actor: actor},
		types.StatusProofreadingReview, types.StatusProofreading)
}

// ReOptimize re-runs the stage with fresh suggestions, discarding the
// cached titles, SEO fields and FAQs before proofreading again.
func (o *Orchestrator) ReOptimize(ctx context.Context, itemID int64, actor string) error {
	return o.dispatch(ctx, o.proofreadQ, job{itemID: itemID, actor: actor, regenerate: true},
		types.StatusProofreadingReview, types.StatusProofreading)
}

// ReturnToParsingReview backs a proofreading review out to the parsing
// gate when the operator decides the article needs a fundamental fix.
// No job dispatches; the parsing gate is a parking lane.
func (o *Orchestrator) ReturnToParsingReview(ctx context.Context, itemID int64, actor string) error {
	return o.advance(ctx, itemID, types.StatusProofreadingReview, types.StatusParsingReview, actor)
}

// FinalizeReview merges the accepted decisions into the article body and
// moves the item to ready_to_publish. The merge re-checks the analyzed
// body, so a concurrent edit surfaces as ErrStaleState before anything
// is written.
func (o *Orchestrator) FinalizeReview(ctx context.Context, itemID int64, actor string) (*proofread.MergeResult, error) {
	item, err := o.store.Items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != types.StatusProofreadingReview {
		return nil, fmt.Errorf("%w: item %d is %s, not %s",
			types.ErrStaleState, itemID, item.Status, types.StatusProofreadingReview)
	}
	if !item.HasArticle() {
		return nil, fmt.Errorf("%w: item %d has no article", types.ErrInvariant, itemID)
	}

	res, err := o.proofreader.Finalize(ctx, *item.ArticleID, actor)
	if err != nil {
		return nil, err
	}
	if err := o.advance(ctx, itemID, types.StatusProofreadingReview, types.StatusReadyToPublish, actor); err != nil {
		return res, err
	}
	return res, nil
}

// TriggerPublish moves a reviewed item into the publishing lane. The
// durable task row is created here, before any CMS interaction, so a
// crash between the trigger and the first browser step recovers without
// a duplicate draft. An empty provider means the configured default.
func (o *Orchestrator) TriggerPublish(ctx context.Context, itemID int64, provider types.Provider, actor string) (*types.PublishTask, error) {
	item, err := o.store.Items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.HasArticle() {
		return nil, fmt.Errorf("%w: item %d has no article", types.ErrInvariant, itemID)
	}

	if !o.publishQ.reserve() {
		return nil, fmt.Errorf("%w: publish lane at capacity", types.ErrBusy)
	}
	if err := o.advance(ctx, itemID, types.StatusReadyToPublish, types.StatusPublishing, actor); err != nil {
		o.publishQ.release()
		return nil, err
	}

	cid := uuid.NewString()
	task, err := o.publisher.Begin(ctx, *item.ArticleID, provider, cid)
	if err != nil {
		o.publishQ.release()
		// The lane already moved; an item whose task cannot even be
		// created parks in failed rather than wedging in publishing.
		o.failItem(itemID, types.StatusPublishing, fmt.Errorf("creating publish task: %w", err))
		return nil, err
	}

	logging.Audit().Log(logging.AuditEvent{
		EventType:     logging.AuditPublishStarted,
		CorrelationID: cid,
		ItemID:        itemID,
		ArticleID:     *item.ArticleID,
		Actor:         actor,
		Target:        string(task.Provider),
		Success:       true,
		Message:       fmt.Sprintf("item %d queued for publishing via %s", itemID, task.Provider),
	})
	o.publishQ.push(job{itemID: itemID, taskID: task.ID, actor: actor, cid: cid})
	return task, nil
}

// Reset returns a failed item to an earlier lane. The note is required:
// a reset without a reason is indistinguishable from noise a week
// later. Resets into a working lane re-dispatch that lane's job.
func (o *Orchestrator) Reset(ctx context.Context, itemID int64, to types.ItemStatus, note, actor string) error {
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("%w: a reset requires an operator note", types.ErrInvalidTransition)
	}
	if !types.CanReset(types.StatusFailed, to) {
		return fmt.Errorf("%w: failed -> %s is not a reset target", types.ErrInvalidTransition, to)
	}

	var q *queue
	switch to {
	case types.StatusParsing:
		q = o.parseQ
	case types.StatusProofreading:
		q = o.proofreadQ
	}
	if q != nil && !q.reserve() {
		return fmt.Errorf("%w: %s lane at capacity", types.ErrBusy, q.stage)
	}

	err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
		item, err := o.store.Items.LockForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if item.Status != types.StatusFailed {
			return fmt.Errorf("%w: item %d is %s, not failed", types.ErrStaleState, itemID, item.Status)
		}
		if err := o.store.Items.Transition(ctx, tx, itemID, types.StatusFailed, to); err != nil {
			return err
		}
		return o.store.Items.ClearError(ctx, tx, itemID)
	})
	if err != nil {
		if q != nil {
			q.release()
		}
		return err
	}

	if err := o.store.Items.AppendNote(ctx, itemID, types.Note{Author: actor, Text: note}); err != nil {
		logging.WorklistWarn("appending reset note to item %d: %v", itemID, err)
	}
	logging.Worklist("item %d reset to %s by %s", itemID, to, actor)
	logging.Audit().ItemReset(itemID, string(to), actor, note)
	o.metrics.ItemResets.Inc()
	o.metrics.RecordTransition(string(types.StatusFailed), string(to))

	if q != nil {
		q.push(job{itemID: itemID, actor: actor})
	}
	return nil
}

// AddNote appends a free-form operator annotation to an item.
func (o *Orchestrator) AddNote(ctx context.Context, itemID int64, text, actor string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty note", types.ErrInvalidTransition)
	}
	if err := o.store.Items.AppendNote(ctx, itemID, types.Note{Author: actor, Text: text}); err != nil {
		return err
	}
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditItemNote,
		ItemID:    itemID,
		Actor:     actor,
		Success:   true,
		Message:   fmt.Sprintf("note added to item %d", itemID),
	})
	return nil
}

// RequestCancel pulls the cancellation flag of the item's running job.
// The job observes it at its next suspension point and unwinds; CMS
// side effects already performed are not rolled back. Reports whether a
// job was running.
func (o *Orchestrator) RequestCancel(itemID int64) bool {
	cancelled := o.cancels.cancel(itemID)
	if cancelled {
		logging.Worklist("cancellation requested for item %d", itemID)
	}
	return cancelled
}

// operatorEdge names the operation that owns a requested lane move.
type operatorEdge int

const (
	edgeInvalid operatorEdge = iota
	edgeConfirmParse
	edgeReparse
	edgeFinalize
	edgeReProofread
	edgeReturnToParsingReview
	edgePublish
)

// operatorEdgeFor maps a lane move to the operator operation that owns
// it. Pipeline-owned edges (stage completions, publish outcomes) and
// everything outside the adjacency set map to edgeInvalid; resets out
// of failed go through Reset, which demands a note.
func operatorEdgeFor(from, to types.ItemStatus) operatorEdge {
	switch {
	case from == types.StatusParsingReview && to == types.StatusProofreading:
		return edgeConfirmParse
	case from == types.StatusParsingReview && to == types.StatusParsing:
		return edgeReparse
	case from == types.StatusProofreadingReview && to == types.StatusReadyToPublish:
		return edgeFinalize
	case from == types.StatusProofreadingReview && to == types.StatusProofreading:
		return edgeReProofread
	case from == types.StatusProofreadingReview && to == types.StatusParsingReview:
		return edgeReturnToParsingReview
	case from == types.StatusReadyToPublish && to == types.StatusPublishing:
		return edgePublish
	}
	return edgeInvalid
}

// Advance performs the operator edge current -> to on an item.
func (o *Orchestrator) Advance(ctx context.Context, itemID int64, to types.ItemStatus, actor string) error {
	item, err := o.store.Items.Get(ctx, itemID)
	if err != nil {
		return err
	}
	switch operatorEdgeFor(item.Status, to) {
	case edgeConfirmParse:
		return o.ConfirmParse(ctx, itemID, actor)
	case edgeReparse:
		return o.RequestReparse(ctx, itemID, actor)
	case edgeFinalize:
		_, err := o.FinalizeReview(ctx, itemID, actor)
		return err
	case edgeReProofread:
		return o.ReProofread(ctx, itemID, actor)
	case edgeReturnToParsingReview:
		return o.ReturnToParsingReview(ctx, itemID, actor)
	case edgePublish:
		_, err := o.TriggerPublish(ctx, itemID, "", actor)
		return err
	default:
		return fmt.Errorf("%w: %s -> %s is not an operator edge", types.ErrInvalidTransition, item.Status, to)
	}
}
