package worklist

import (
	"context"
	"fmt"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// Recover reconciles work stranded by a previous process. Publish tasks
// settle first (adoption, retry booking, exhausted budgets), then items
// parked in working lanes are re-queued from their snapshots. Call
// before Start so stranded work is queued ahead of new work.
func (o *Orchestrator) Recover(ctx context.Context) error {
	rerun, err := o.publisher.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resuming publish tasks: %w", err)
	}
	rerunArticles := make(map[int64]int64, len(rerun))
	for _, t := range rerun {
		rerunArticles[t.ArticleID] = t.ID
	}

	// Items in publishing whose task went terminal while nobody watched
	// mirror the outcome now; the rest get their job back.
	publishing, err := o.store.Items.ListByStatus(ctx, types.StatusPublishing)
	if err != nil {
		return fmt.Errorf("listing publishing items: %w", err)
	}
	requeued := 0
	for _, item := range publishing {
		if !item.HasArticle() {
			o.failItem(item.ID, types.StatusPublishing,
				fmt.Errorf("%w: publishing item has no article", types.ErrInvariant))
			continue
		}
		if taskID, ok := rerunArticles[*item.ArticleID]; ok {
			if err := o.requeue(o.publishQ, job{itemID: item.ID, taskID: taskID, actor: "recovery"}); err != nil {
				logging.WorklistWarn("requeueing publish for item %d: %v", item.ID, err)
				continue
			}
			requeued++
			continue
		}
		o.reconcilePublishing(ctx, item)
	}

	// Items stranded mid-stage run their stage again from the snapshot.
	// Parse and proofread are free of external side effects, so a second
	// run is safe.
	for _, lane := range []struct {
		status types.ItemStatus
		q      *queue
	}{
		{types.StatusParsing, o.parseQ},
		{types.StatusProofreading, o.proofreadQ},
	} {
		items, err := o.store.Items.ListByStatus(ctx, lane.status)
		if err != nil {
			return fmt.Errorf("listing %s items: %w", lane.status, err)
		}
		for _, item := range items {
			if err := o.requeue(lane.q, job{itemID: item.ID, actor: "recovery"}); err != nil {
				logging.WorklistWarn("requeueing %s for item %d: %v", lane.status, item.ID, err)
				continue
			}
			requeued++
		}
	}

	o.kickPending(ctx)
	logging.Worklist("recovery done: %d jobs requeued, %d publish tasks resumed", requeued, len(rerun))
	return nil
}

// reconcilePublishing lands the item on the side its task ended on.
// Resume has already settled every task that was mid-flight, so a
// non-terminal task here means the recovery bookkeeping itself failed.
func (o *Orchestrator) reconcilePublishing(ctx context.Context, item *types.WorklistItem) {
	tasks, err := o.store.Tasks.ListByArticle(ctx, *item.ArticleID)
	if err != nil || len(tasks) == 0 {
		o.failItem(item.ID, types.StatusPublishing,
			fmt.Errorf("%w: no publish task found after restart", types.ErrInvariant))
		return
	}

	latest := tasks[0]
	switch latest.Status {
	case types.TaskCompleted:
		if err := o.advance(ctx, item.ID, types.StatusPublishing, types.StatusPublished, "recovery"); err != nil {
			logging.WorklistWarn("reconciling published item %d: %v", item.ID, err)
			return
		}
		logging.Worklist("item %d reconciled to published (task %d finished before restart)", item.ID, latest.ID)
	case types.TaskFailed, types.TaskCancelled:
		o.failItem(item.ID, types.StatusPublishing,
			fmt.Errorf("publish task %d %s: %s", latest.ID, latest.Status, latest.ErrorMessage))
	default:
		o.failItem(item.ID, types.StatusPublishing,
			fmt.Errorf("%w: task %d still %s after resume", types.ErrInvariant, latest.ID, latest.Status))
	}
}
