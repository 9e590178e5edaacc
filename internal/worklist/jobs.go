package worklist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"copydesk/internal/logging"
	"copydesk/internal/parser"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

// parseItem runs the parse stage: raw snapshot in, article row out.
// Success moves the item to parsing_review; anything else parks it in
// failed with the cause.
func (o *Orchestrator) parseItem(ctx context.Context, j job) error {
	ctx, cancel := o.jobContext(ctx, j.itemID, o.cfg.ParseTimeout())
	defer cancel()

	item, err := o.store.Items.Get(ctx, j.itemID)
	if err != nil {
		return fmt.Errorf("loading item %d: %w", j.itemID, err)
	}
	if item.Status != types.StatusParsing {
		// A recovery pass raced an operator; whoever moved the item owns it.
		logging.WorklistWarn("parse job found item %d in %s, dropping", item.ID, item.Status)
		return nil
	}

	res, err := o.parser.ParseDocument(ctx, item.RawHTML)
	if err != nil {
		cause := stageCause("parsing", o.cfg.ParseTimeout(), err)
		o.failItem(item.ID, types.StatusParsing, cause)
		return cause
	}
	if !res.Success {
		cause := fmt.Errorf("%w: %s", types.ErrInvalidUpstream, strings.Join(res.Errors, "; "))
		o.failItem(item.ID, types.StatusParsing, cause)
		return cause
	}

	article := res.Article
	article.WorklistItemID = &item.ID
	var articleID int64
	err = o.withRetries(ctx, "persisting parse result", item.ID, func() error {
		return o.store.WithTx(ctx, func(tx pgx.Tx) error {
			if item.HasArticle() {
				article.ID = *item.ArticleID
				articleID = article.ID
				if err := o.store.Articles.UpdateParsed(ctx, tx, article); err != nil {
					return err
				}
			} else {
				id, err := o.store.Articles.Create(ctx, tx, article)
				if err != nil {
					return err
				}
				articleID = id
				if err := o.store.Items.LinkArticle(ctx, tx, item.ID, id); err != nil {
					return err
				}
			}
			if err := o.store.Images.ReplaceForArticle(ctx, tx, articleID, res.Images); err != nil {
				return err
			}
			if err := o.store.Items.ClearError(ctx, tx, item.ID); err != nil {
				return err
			}
			return o.store.Items.Transition(ctx, tx, item.ID, types.StatusParsing, types.StatusParsingReview)
		})
	})
	if err != nil {
		cause := stageCause("parsing", o.cfg.ParseTimeout(), err)
		o.failItem(item.ID, types.StatusParsing, cause)
		return cause
	}

	o.bookParseCost(ctx, articleID, res)
	for _, w := range res.Warnings {
		logging.WorklistWarn("item %d parse warning: %s", item.ID, w)
	}
	logging.Worklist("item %d parsed via %s (confidence %.2f, %d images) in %dms",
		item.ID, res.Method, res.Confidence, len(res.Images), res.DurationMs)
	logging.Audit().ItemTransition(item.ID, string(types.StatusParsing), string(types.StatusParsingReview), "system")
	o.metrics.RecordTransition(string(types.StatusParsing), string(types.StatusParsingReview))

	if o.autoAdvance(item) {
		if err := o.ConfirmParse(ctx, item.ID, autoActor); err != nil {
			logging.WorklistWarn("auto-process confirm for item %d: %v", item.ID, err)
		}
	}
	return nil
}

// proofreadItem runs the combined optimize + proofread stage. The two
// share one job so an operator never reviews stale suggestions against
// fresh issues.
func (o *Orchestrator) proofreadItem(ctx context.Context, j job) error {
	ctx, cancel := o.jobContext(ctx, j.itemID, o.cfg.ProofreadTimeout())
	defer cancel()

	item, err := o.store.Items.Get(ctx, j.itemID)
	if err != nil {
		return fmt.Errorf("loading item %d: %w", j.itemID, err)
	}
	if item.Status != types.StatusProofreading {
		logging.WorklistWarn("proofread job found item %d in %s, dropping", item.ID, item.Status)
		return nil
	}
	if !item.HasArticle() {
		cause := fmt.Errorf("%w: item %d reached proofreading with no article", types.ErrInvariant, item.ID)
		o.failItem(item.ID, types.StatusProofreading, cause)
		return cause
	}
	articleID := *item.ArticleID

	var issues, carried int
	err = o.withRetries(ctx, "optimize+proofread", item.ID, func() error {
		opt, err := o.optimizer.GenerateAll(ctx, articleID, j.regenerate)
		if err != nil {
			return fmt.Errorf("optimizing article %d: %w", articleID, err)
		}
		for _, w := range opt.Warnings {
			logging.WorklistWarn("item %d optimization warning: %s", item.ID, w)
		}
		analysis, err := o.proofreader.Analyze(ctx, articleID)
		if err != nil {
			return fmt.Errorf("proofreading article %d: %w", articleID, err)
		}
		issues, carried = len(analysis.Issues), analysis.Carried
		for _, rerr := range analysis.RuntimeErrors {
			logging.WorklistWarn("item %d rule skipped: %v", item.ID, rerr)
		}
		return nil
	})
	if err != nil {
		cause := stageCause("proofreading", o.cfg.ProofreadTimeout(), err)
		o.failItem(item.ID, types.StatusProofreading, cause)
		return cause
	}

	if err := o.advance(ctx, item.ID, types.StatusProofreading, types.StatusProofreadingReview, "system"); err != nil {
		return err
	}
	logging.Worklist("item %d proofread: %d issues (%d decisions carried forward)", item.ID, issues, carried)

	if o.autoAdvance(item) {
		if _, err := o.FinalizeReview(ctx, item.ID, autoActor); err != nil {
			logging.WorklistWarn("auto-process finalize for item %d: %v", item.ID, err)
			return nil
		}
		if _, err := o.TriggerPublish(ctx, item.ID, "", autoActor); err != nil {
			logging.WorklistWarn("auto-process publish for item %d: %v", item.ID, err)
		}
	}
	return nil
}

// publishItem drives one publish task to a terminal state and mirrors
// the outcome onto the item. Retries, adoption and cost accounting all
// live inside the task; the item only reflects where the task ended.
func (o *Orchestrator) publishItem(ctx context.Context, j job) error {
	// No stage deadline on top: the task bounds each attempt itself.
	ctx, cancel := o.jobContext(ctx, j.itemID, 0)
	defer cancel()

	task, err := o.publisher.Run(ctx, j.taskID)
	if err != nil {
		cause := fmt.Errorf("running publish task %d: %w", j.taskID, err)
		o.failItem(j.itemID, types.StatusPublishing, cause)
		return cause
	}

	switch task.Status {
	case types.TaskCompleted:
		if err := o.advance(ctx, j.itemID, types.StatusPublishing, types.StatusPublished, "system"); err != nil {
			return err
		}
		logging.Worklist("item %d published: %s", j.itemID, task.PublishedURL)
		return nil
	case types.TaskCancelled:
		cause := fmt.Errorf("%w: publish task %d", types.ErrCancelled, task.ID)
		o.failItem(j.itemID, types.StatusPublishing, cause)
		return cause
	default:
		cause := fmt.Errorf("publish task %d failed: %s", task.ID, task.ErrorMessage)
		o.failItem(j.itemID, types.StatusPublishing, cause)
		return cause
	}
}

// withRetries runs fn, retrying transient failures on the same backoff
// curve the model client uses. The item stays in its working lane
// between attempts.
func (o *Orchestrator) withRetries(ctx context.Context, what string, itemID int64, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !types.IsTransient(err) || attempt >= o.cfg.Retry.MaxAttempts {
			return err
		}
		delay := o.backoffDelay(attempt)
		logging.WorklistWarn("%s for item %d failed transiently (attempt %d/%d), retrying in %s: %v",
			what, itemID, attempt, o.cfg.Retry.MaxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

// bookParseCost lands the parse stage's model spend in the ledger. The
// optimizer books its own; the parser has no store access, so its job
// does it here.
func (o *Orchestrator) bookParseCost(ctx context.Context, articleID int64, res *parser.Result) {
	if res.CostUSD <= 0 {
		return
	}
	err := o.store.Costs.Record(ctx, store.CostEntry{
		ArticleID:    articleID,
		Component:    "parser",
		Model:        o.cfg.LLM.Model,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		CostUSD:      res.CostUSD,
	})
	if err != nil {
		logging.WorklistWarn("booking parse cost for article %d: %v", articleID, err)
	}
}
