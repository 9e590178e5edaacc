// Package parser turns raw document HTML into a structured article.
// Two strategies run in order: an AI extraction call (confidence 0.95)
// and a heuristic HTML splitter (confidence 0.70). The heuristic runs
// when the AI strategy is disabled, errors, or returns unusable output.
package parser

import (
	"context"
	"fmt"
	"time"

	"copydesk/internal/config"
	"copydesk/internal/llm"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/types"
)

// minBodyBytes is the smallest body_html the AI strategy may return
// before the result is treated as unusable.
const minBodyBytes = 100

// Parser owns the parse pipeline for one deployment.
type Parser struct {
	cfg     *config.Config
	client  llm.Client
	metrics *metrics.Metrics
}

// New builds a Parser. client may be nil when parser.use_ai is false.
func New(cfg *config.Config, client llm.Client, m *metrics.Metrics) *Parser {
	return &Parser{cfg: cfg, client: client, metrics: m}
}

// Result is the outcome of one parse run. Success=false means neither
// strategy produced a usable article; Errors lists each cause in the
// order the strategies ran.
type Result struct {
	Success    bool
	Article    *types.Article
	Images     []types.ArticleImage
	Method     types.ParsingMethod
	Confidence float64
	Errors     []string
	Warnings   []string
	DurationMs int64
	Usage      llm.Usage
	CostUSD    float64
}

// ParseDocument parses one document. Re-running it over the same input
// and configuration yields the same structural result. Only context
// cancellation is returned as an error; parse failures come back as
// Success=false.
func (p *Parser) ParseDocument(ctx context.Context, rawHTML string) (*Result, error) {
	started := time.Now()
	res := &Result{}

	fm, body, fmErr := SplitFrontMatter(rawHTML)
	if fmErr != nil {
		res.Warnings = append(res.Warnings, fmErr.Error())
		logging.ParserWarn("unusable front matter: %v", fmErr)
	}

	if p.cfg.Parser.UseAI && p.client != nil {
		article, images, usage, cost, err := p.parseAI(ctx, body)
		res.Usage = usage
		res.CostUSD = cost
		if err == nil {
			p.finish(res, article, images, fm, types.ParsingMethodAI, started)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.Errors = append(res.Errors, fmt.Sprintf("ai strategy: %v", err))
		logging.ParserWarn("ai extraction failed, falling back: %v", err)
		if !p.cfg.Parser.HeuristicFallback {
			res.DurationMs = time.Since(started).Milliseconds()
			return res, nil
		}
	}

	article, images, err := parseHeuristic(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.Errors = append(res.Errors, fmt.Sprintf("heuristic strategy: %v", err))
		res.DurationMs = time.Since(started).Milliseconds()
		logging.ParserWarn("heuristic extraction failed: %v", err)
		return res, nil
	}
	p.finish(res, article, images, fm, types.ParsingMethodHeuristic, started)
	return res, nil
}

func (p *Parser) finish(res *Result, a *types.Article, images []types.ArticleImage, fm *FrontMatter, method types.ParsingMethod, started time.Time) {
	fm.apply(a)

	a.ParsingMethod = method
	switch method {
	case types.ParsingMethodAI:
		a.ParsingConfidence = types.AIParsingConfidence
	default:
		a.ParsingConfidence = types.HeuristicParsingConfidence
	}
	a.Status = types.ArticleDraft

	res.Success = true
	res.Article = a
	res.Images = images
	res.Method = method
	res.Confidence = a.ParsingConfidence
	res.DurationMs = time.Since(started).Milliseconds()

	logging.Parser("parsed via %s: title=%q body=%dB images=%d in %dms",
		method, a.TitleMain, len(a.BodyHTML), len(images), res.DurationMs)
}
