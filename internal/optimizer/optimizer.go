// Package optimizer generates every downstream AI artifact for an
// article in one model call: title variants, SEO keyword tiers, a meta
// description, tags and FAQs. One call instead of one per artifact
// keeps cost and latency bounded; a per-article spend cap refuses calls
// that would exceed the budget.
package optimizer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"copydesk/internal/config"
	"copydesk/internal/llm"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/prompt"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

// targetFAQCount is the requested FAQ count; fewer is a warning, not a
// failure, as long as titles and SEO came back.
const targetFAQCount = 8

// ArticleStore is the slice of the article repository the engine needs.
type ArticleStore interface {
	Get(ctx context.Context, id int64) (*types.Article, error)
	UpdateSuggestions(ctx context.Context, a *types.Article, costUSD float64) error
	AddGenerationCost(ctx context.Context, id int64, costUSD float64) error
}

// CostLedger books model spend and answers per-article totals.
type CostLedger interface {
	Record(ctx context.Context, e store.CostEntry) error
	ArticleTotal(ctx context.Context, articleID int64) (float64, error)
}

// Engine runs article optimization. Concurrent calls for the same
// article collapse onto one outstanding model call.
type Engine struct {
	cfg      *config.Config
	client   llm.Client
	articles ArticleStore
	costs    CostLedger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

// New builds an Engine.
func New(cfg *config.Config, client llm.Client, articles ArticleStore, costs CostLedger, m *metrics.Metrics) *Engine {
	return &Engine{cfg: cfg, client: client, articles: articles, costs: costs, metrics: m}
}

// Result is the outcome of one optimization run.
type Result struct {
	Article    *types.Article
	Usage      llm.Usage
	CostUSD    float64
	DurationMs int64
	Model      string
	Warnings   []string
	// Shared is true when this caller subscribed to a call another
	// goroutine had in flight.
	Shared bool
	// Cached is true when existing suggestions were returned without a
	// model call because regenerate was false.
	Cached bool
}

// GenerateAll produces title, SEO and FAQ suggestions for the article.
// With regenerate=false an article that already has suggestions is
// returned as-is. A run that would push the article past the spend cap
// fails with ErrCostCapExceeded and leaves existing suggestions intact.
func (e *Engine) GenerateAll(ctx context.Context, articleID int64, regenerate bool) (*Result, error) {
	key := strconv.FormatInt(articleID, 10)
	v, err, shared := e.group.Do(key, func() (interface{}, error) {
		return e.generate(ctx, articleID, regenerate)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Result)
	if shared {
		// Copy before tagging so the collapsed result itself stays
		// unmodified for other subscribers.
		dup := *res
		dup.Shared = true
		res = &dup
	}
	return res, nil
}

func (e *Engine) generate(ctx context.Context, articleID int64, regenerate bool) (*Result, error) {
	started := time.Now()

	article, err := e.articles.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !regenerate && len(article.SuggestedTitleSets) > 0 {
		logging.OptimizerDebug("article %d already has suggestions, skipping call", articleID)
		return &Result{Article: article, Cached: true}, nil
	}

	system, user, err := prompt.Get().Render(prompt.OptimizeArticle, map[string]any{
		"Title":    article.DisplayTitle(),
		"Author":   article.AuthorName,
		"Keywords": strings.Join(article.SEOKeywords, ", "),
		"Body":     article.BodyText,
	})
	if err != nil {
		return nil, err
	}

	if err := e.checkBudget(ctx, article, len(system)+len(user)); err != nil {
		return nil, err
	}

	resp, err := e.client.Generate(ctx, llm.Request{
		System:     system,
		Prompt:     user,
		JSONOutput: true,
		Timeout:    e.cfg.AICallTimeout(),
	})
	if e.metrics != nil {
		var usage llm.Usage
		var cost float64
		if resp != nil {
			usage, cost = resp.Usage, resp.CostUSD
		}
		e.metrics.RecordModelUsage("optimizer", err, int32(usage.InputTokens), int32(usage.OutputTokens), cost)
	}
	if err != nil {
		return nil, err
	}

	out, warnings, err := decodeOutput(resp.Text)
	if err != nil {
		// Schema violations do not retry; existing suggestions stay.
		// The call still cost money, so its spend lands on the article.
		e.recordFailedSpend(ctx, articleID, resp)
		logging.Optimizer("article %d: unusable model output: %v", articleID, err)
		return nil, err
	}

	out.applyTo(article)
	article.AIModelUsed = resp.Model

	if err := e.articles.UpdateSuggestions(ctx, article, resp.CostUSD); err != nil {
		return nil, err
	}
	if err := e.costs.Record(ctx, store.CostEntry{
		ArticleID:    articleID,
		Component:    "optimizer",
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.CostUSD,
	}); err != nil {
		logging.OptimizerDebug("cost entry for article %d not recorded: %v", articleID, err)
	}

	durMs := time.Since(started).Milliseconds()
	logging.Optimizer("article %d optimized: %d titles, %d faqs, $%.4f, %dms",
		articleID, len(article.SuggestedTitleSets), len(article.FAQProposals), resp.CostUSD, durMs)

	return &Result{
		Article:    article,
		Usage:      resp.Usage,
		CostUSD:    resp.CostUSD,
		DurationMs: durMs,
		Model:      resp.Model,
		Warnings:   warnings,
	}, nil
}

// recordFailedSpend books the cost of a call whose output was unusable.
// Suggestions stay untouched; only the running total and the ledger move.
func (e *Engine) recordFailedSpend(ctx context.Context, articleID int64, resp *llm.Response) {
	if resp == nil || resp.CostUSD <= 0 {
		return
	}
	if err := e.articles.AddGenerationCost(ctx, articleID, resp.CostUSD); err != nil {
		logging.OptimizerDebug("failed-call spend on article %d not recorded: %v", articleID, err)
	}
	if err := e.costs.Record(ctx, store.CostEntry{
		ArticleID:    articleID,
		Component:    "optimizer",
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.CostUSD,
	}); err != nil {
		logging.OptimizerDebug("cost entry for article %d not recorded: %v", articleID, err)
	}
}

// checkBudget projects the call cost against the per-article cap. An
// operator override stored in the article metadata beats the configured
// default, so a single long piece can get headroom without a config edit.
func (e *Engine) checkBudget(ctx context.Context, article *types.Article, promptChars int) error {
	capUSD := e.cfg.Optimization.MaxCostUSD
	if v, ok := article.Metadata["cost_cap_usd"].(float64); ok && v > 0 {
		capUSD = v
	}
	if capUSD <= 0 {
		return nil
	}
	spent, err := e.costs.ArticleTotal(ctx, article.ID)
	if err != nil {
		return err
	}
	projected := llm.EstimateCost(e.cfg.LLM.Model, promptChars, e.cfg.LLM.MaxOutputTokens)
	if spent+projected <= capUSD {
		return nil
	}

	logging.Audit().CostCapHit(article.ID, spent, capUSD)
	if e.metrics != nil {
		e.metrics.CostCapHits.Inc()
	}
	return fmt.Errorf("%w: spent $%.4f, projected $%.4f, cap $%.2f",
		types.ErrCostCapExceeded, spent, projected, capUSD)
}
