package worklist

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"copydesk/internal/docstore"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/parser"
	"copydesk/internal/sanitize"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

// syncAction classifies one listed document against its known item.
type syncAction int

const (
	syncSkip syncAction = iota
	syncFetch
	syncDefer
)

// decideSync picks the action for a document. Unknown documents fetch;
// known ones fetch only when upstream is newer than the last sync, and
// never while the item sits at a review gate — the operator gets a note
// instead of a silently replaced snapshot.
func decideSync(item *types.WorklistItem, modified time.Time) syncAction {
	if item == nil {
		return syncFetch
	}
	if !modified.After(item.SyncedAt) {
		return syncSkip
	}
	if types.IsReviewState(item.Status) {
		return syncDefer
	}
	return syncFetch
}

// SyncStats summarizes one sync pass.
type SyncStats struct {
	Created  int
	Updated  int
	Deferred int // review-gate items annotated instead of overwritten
	Skipped  int
	Failed   int
}

// SyncOnce polls the document store once. Passes serialize on an
// advisory lock; the loser skips instead of waiting, since the winner
// is doing the same work. Partial progress is safe: every document is
// handled independently and the pass is idempotent.
func (o *Orchestrator) SyncOnce(ctx context.Context) (*SyncStats, error) {
	start := time.Now()

	lock, err := o.store.TryAdvisoryLock(ctx, store.SyncLockKey)
	if err != nil {
		o.metrics.SyncRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if lock == nil {
		logging.SyncDebug("sync lock held elsewhere, skipping pass")
		o.metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return nil, nil
	}
	defer lock.Release(context.Background())

	docs, err := o.docs.ListDocuments(ctx, o.cfg.DocumentStore.Folder)
	if err != nil {
		o.metrics.SyncRuns.WithLabelValues("error").Inc()
		o.metrics.ObserveStage(metrics.StageSync, err, time.Since(start))
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	stats := &SyncStats{}
	for _, meta := range docs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := o.syncDocument(ctx, meta, stats); err != nil {
			stats.Failed++
			o.metrics.SyncDocuments.WithLabelValues("error").Inc()
			logging.SyncWarn("document %s: %v", meta.ID, err)
		}
	}

	o.kickPending(ctx)
	o.refreshGauges(ctx)

	elapsed := time.Since(start)
	logging.Sync("pass done in %s: %d created, %d updated, %d deferred, %d unchanged, %d failed",
		elapsed.Round(time.Millisecond), stats.Created, stats.Updated, stats.Deferred, stats.Skipped, stats.Failed)
	logging.Audit().SyncRun(stats.Created, stats.Updated+stats.Deferred, stats.Skipped, elapsed.Milliseconds())
	o.metrics.SyncRuns.WithLabelValues("ok").Inc()
	o.metrics.ObserveStage(metrics.StageSync, nil, elapsed)
	return stats, nil
}

func (o *Orchestrator) syncDocument(ctx context.Context, meta docstore.DocumentMeta, stats *SyncStats) error {
	item, err := o.store.Items.GetByDocumentID(ctx, meta.ID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		item = nil
	}

	switch decideSync(item, meta.LastModified) {
	case syncSkip:
		stats.Skipped++
		o.metrics.SyncDocuments.WithLabelValues("unchanged").Inc()
		return nil

	case syncDefer:
		note := upstreamChangeNote(meta.LastModified)
		if hasNote(item.Notes, note.Text) {
			stats.Skipped++
			o.metrics.SyncDocuments.WithLabelValues("unchanged").Inc()
			return nil
		}
		if err := o.store.Items.AppendNote(ctx, item.ID, note); err != nil {
			return err
		}
		stats.Deferred++
		o.metrics.SyncDocuments.WithLabelValues("deferred").Inc()
		logging.Sync("item %d changed upstream while in %s, noted for the operator", item.ID, item.Status)
		return nil

	default:
		return o.fetchAndUpsert(ctx, meta, stats)
	}
}

// fetchAndUpsert pulls the document body and lands the snapshot. Title,
// author and the auto-process flag come from the front matter when one
// is present; the document name and owner list are the fallback.
func (o *Orchestrator) fetchAndUpsert(ctx context.Context, meta docstore.DocumentMeta, stats *SyncStats) error {
	fctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout())
	defer cancel()
	doc, err := o.docs.FetchDocument(fctx, meta.ID)
	if err != nil {
		return fmt.Errorf("fetching: %w", err)
	}

	title := doc.Meta.Name
	author := ""
	if len(meta.Owners) > 0 {
		author = meta.Owners[0]
	}
	auto := false
	if fm, _, fmErr := parser.SplitFrontMatter(doc.HTML); fmErr == nil && fm != nil {
		if t := strings.TrimSpace(fm.Title); t != "" {
			title = t
		}
		if a := strings.TrimSpace(fm.Author); a != "" {
			author = a
		}
		auto = fm.AutoProcess != nil && *fm.AutoProcess
	}

	// Best effort: an unreadable body still syncs, and the parse stage
	// reports the real problem to the operator.
	rawText := ""
	if clean, err := sanitize.Sanitize(doc.HTML); err == nil {
		rawText = clean.Text
	}

	res, err := o.store.Items.UpsertFromSync(ctx, doc.Meta.ID, title, author, doc.HTML, rawText,
		types.DocumentMetadata{
			Link:         doc.Meta.Link,
			Owners:       meta.Owners,
			LastModified: doc.Meta.LastModified,
			Folder:       o.cfg.DocumentStore.Folder,
			ContentType:  contentTypeFor(doc.Meta.ID),
			AutoProcess:  auto,
		})
	if err != nil {
		return err
	}

	switch {
	case res.Created:
		stats.Created++
		o.metrics.SyncDocuments.WithLabelValues("created").Inc()
		logging.Sync("item %d created for document %s", res.Item.ID, doc.Meta.ID)
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditItemCreated,
			ItemID:    res.Item.ID,
			Success:   true,
			Target:    doc.Meta.ID,
			Message:   fmt.Sprintf("item %d created for document %s", res.Item.ID, doc.Meta.ID),
		})
	case res.ContentChanged:
		stats.Updated++
		o.metrics.SyncDocuments.WithLabelValues("updated").Inc()
		logging.Sync("item %d snapshot refreshed from document %s", res.Item.ID, doc.Meta.ID)
	default:
		// Timestamp moved but the body did not (touched file, metadata edit).
		stats.Skipped++
		o.metrics.SyncDocuments.WithLabelValues("unchanged").Inc()
	}
	return nil
}

// kickPending starts parsing for every item waiting in pending. Pending
// is only a waiting room; a full queue or a restart must not strand
// items there, so every pass retries the leftovers.
func (o *Orchestrator) kickPending(ctx context.Context) {
	items, err := o.store.Items.ListByStatus(ctx, types.StatusPending)
	if err != nil {
		logging.SyncWarn("listing pending items: %v", err)
		return
	}
	for i, item := range items {
		err := o.dispatch(ctx, o.parseQ, job{itemID: item.ID, actor: "sync"}, types.StatusPending, types.StatusParsing)
		if errors.Is(err, types.ErrBusy) {
			logging.SyncDebug("parse lane full, %d pending items wait for the next pass", len(items)-i)
			return
		}
		if err != nil {
			logging.SyncWarn("dispatching parse for item %d: %v", item.ID, err)
		}
	}
}

// refreshGauges repaints the per-lane board gauges. Every lane is
// seeded so an emptied lane drops back to zero.
func (o *Orchestrator) refreshGauges(ctx context.Context) {
	counts, err := o.store.Items.CountsByStatus(ctx)
	if err != nil {
		logging.SyncWarn("counting items: %v", err)
		return
	}
	byLane := make(map[string]int)
	for _, s := range types.ValidStatuses() {
		byLane[string(s)] = 0
	}
	for status, n := range counts {
		byLane[string(status)] = n
	}
	o.metrics.SetStatusCounts(byLane)
}

// syncLoop polls on the configured cadence. The first pass runs
// immediately so a fresh process converges without waiting a tick.
func (o *Orchestrator) syncLoop(ctx context.Context) error {
	if _, err := o.SyncOnce(ctx); err != nil {
		logging.SyncWarn("sync pass: %v", err)
	}
	ticker := time.NewTicker(o.cfg.SyncInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.SyncOnce(ctx); err != nil {
				logging.SyncWarn("sync pass: %v", err)
			}
		}
	}
}

// reportLoop materializes the rule quality report on the configured
// cadence. The report is advisory; a failed build waits for the next
// tick.
func (o *Orchestrator) reportLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.ReportInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			_, err := o.proofreader.BuildQualityReport(ctx)
			o.metrics.ObserveStage(metrics.StageReport, err, time.Since(start))
			if err != nil {
				logging.Get(logging.CategoryReport).Warn("building quality report: %v", err)
			}
		}
	}
}

// upstreamChangeNote is the annotation added when a document changes
// while its item sits at a review gate.
func upstreamChangeNote(modified time.Time) types.Note {
	return types.Note{
		Author: "sync",
		Text:   fmt.Sprintf("upstream changed at %s", modified.UTC().Format(time.RFC3339)),
	}
}

// hasNote reports whether the same annotation was already recorded, so
// a 60s poll cadence does not pile up duplicates.
func hasNote(notes []types.Note, text string) bool {
	for _, n := range notes {
		if n.Text == text {
			return true
		}
	}
	return false
}

// contentTypeFor records the source flavor in the item metadata. The
// directory backend renders markdown to HTML before handing it over, so
// the id suffix is the only trace of what the author actually wrote.
func contentTypeFor(docID string) string {
	switch strings.ToLower(path.Ext(docID)) {
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/html"
	}
}
