package worklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// advance moves an item along one edge of the state machine. The row
// stays locked for the duration of the transition, so two operators (or
// an operator and the pipeline) racing on the same item serialize and
// the loser sees ErrStaleState.
func (o *Orchestrator) advance(ctx context.Context, itemID int64, from, to types.ItemStatus, actor string) error {
	return o.advanceTx(ctx, itemID, from, to, actor, nil)
}

// advanceTx additionally runs extra inside the same transaction, after
// the lane change. ConfirmParse uses it to stamp the article row
// atomically with the transition.
func (o *Orchestrator) advanceTx(ctx context.Context, itemID int64, from, to types.ItemStatus, actor string,
	extra func(pgx.Tx, *types.WorklistItem) error) error {
	err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
		item, err := o.store.Items.LockForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if item.Status != from {
			return fmt.Errorf("%w: item %d is %s, not %s", types.ErrStaleState, itemID, item.Status, from)
		}
		if err := o.store.Items.Transition(ctx, tx, itemID, from, to); err != nil {
			return err
		}
		if extra != nil {
			return extra(tx, item)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Worklist("item %d: %s -> %s (%s)", itemID, from, to, actor)
	logging.Audit().ItemTransition(itemID, string(from), string(to), actor)
	o.metrics.RecordTransition(string(from), string(to))
	return nil
}

// failItem parks an item in the failed lane with an operator-visible
// message. The write runs on its own context: the usual reason to be
// here is that the job's context is already dead.
func (o *Orchestrator) failItem(itemID int64, from types.ItemStatus, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := o.store.Items.Transition(ctx, tx, itemID, from, types.StatusFailed); err != nil {
			return err
		}
		return o.store.Items.SetError(ctx, tx, itemID, cause.Error())
	})
	if err != nil {
		logging.WorklistError("item %d could not be failed from %s: %v", itemID, from, err)
		return
	}

	logging.WorklistError("item %d failed in %s: %v", itemID, from, cause)
	logging.Audit().ItemTransition(itemID, string(from), string(types.StatusFailed), "system")
	o.metrics.RecordTransition(string(from), string(types.StatusFailed))
}

// stageCause normalizes a job error into the message that lands on the
// item. Deadline and cancellation causes read as their taxonomy kind
// rather than as raw context plumbing.
func stageCause(stage string, budget time.Duration, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, types.ErrTimeout):
		return fmt.Errorf("%w: %s exceeded %s", types.ErrTimeout, stage, budget)
	case errors.Is(err, context.Canceled), errors.Is(err, types.ErrCancelled):
		return fmt.Errorf("%w: %s unwound at a suspension point", types.ErrCancelled, stage)
	}
	return err
}
