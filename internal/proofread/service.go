package proofread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"copydesk/internal/config"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/sanitize"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

// Service couples the rule engine to storage: it runs analyses, carries
// decisions across re-analyses, previews and finalizes reviews, and
// gates ruleset publication.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	metrics *metrics.Metrics

	mu     sync.Mutex
	engine *Engine
}

// NewService builds the proofreading service.
func NewService(cfg *config.Config, st *store.Store, m *metrics.Metrics) *Service {
	return &Service{cfg: cfg, store: st, metrics: m}
}

// AnalysisResult is the outcome of one analysis run.
type AnalysisResult struct {
	Issues        []*types.Issue
	Carried       int
	RuntimeErrors []error
	Generation    int
	DurationMs    int64
}

// Analyze computes a fresh issue set for the article and replaces the
// previous one. Active decisions from the previous analysis are
// archived; those whose issue survives (same rule, same text, start
// within the carry window) are re-attached to the new issue with the
// carried flag.
func (s *Service) Analyze(ctx context.Context, articleID int64) (*AnalysisResult, error) {
	started := time.Now()

	article, err := s.store.Articles.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if article.BodyText == "" {
		return nil, fmt.Errorf("%w: article %d has no body text", types.ErrInvalidUpstream, articleID)
	}

	engine, compileErrs, err := s.activeEngine(ctx)
	if err != nil {
		return nil, err
	}

	issues, runtimeErrs := engine.Analyze(article.BodyText)
	runtimeErrs = append(compileErrs, runtimeErrs...)
	for _, rerr := range runtimeErrs {
		logging.ProofreadWarn("article %d: %v", articleID, rerr)
	}

	prevIssues, err := s.store.Proofread.ActiveIssues(ctx, articleID)
	if err != nil {
		return nil, err
	}
	prevDecisions, err := s.store.Proofread.ActiveDecisions(ctx, articleID)
	if err != nil {
		return nil, err
	}

	res := &AnalysisResult{RuntimeErrors: runtimeErrs, Generation: engine.Generation()}
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		inserted, err := s.store.Proofread.ReplaceIssues(ctx, tx, articleID, issues)
		if err != nil {
			return err
		}
		res.Issues = inserted

		if err := s.store.Proofread.ArchiveActiveDecisions(ctx, tx, articleID); err != nil {
			return err
		}

		carried, err := s.carryForward(ctx, tx, engine, inserted, prevIssues, prevDecisions)
		if err != nil {
			return err
		}
		res.Carried = carried
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		for _, is := range res.Issues {
			s.metrics.IssuesRaised.WithLabelValues(string(is.Severity)).Inc()
		}
	}

	res.DurationMs = time.Since(started).Milliseconds()
	logging.Proofread("article %d analyzed: %d issues, %d carried, %d rule errors, generation %d, %dms",
		articleID, len(res.Issues), res.Carried, len(res.RuntimeErrors), res.Generation, res.DurationMs)
	return res, nil
}

// carryForward re-attaches prior decisions to matching fresh issues.
// A match is the same rule, identical original text, and a start offset
// within the configured window. Each prior decision lands on at most
// one new issue and each new issue takes at most one decision.
func (s *Service) carryForward(ctx context.Context, tx pgx.Tx, engine *Engine, fresh []*types.Issue, prevIssues []*types.Issue, prevDecisions map[int64]*types.Decision) (int, error) {
	if len(prevDecisions) == 0 {
		return 0, nil
	}
	window := s.cfg.Proofreading.CarryForwardWindow

	prevByID := make(map[int64]*types.Issue, len(prevIssues))
	for _, is := range prevIssues {
		prevByID[is.ID] = is
	}

	taken := make(map[int64]bool, len(fresh))
	carried := 0

	for issueID, d := range prevDecisions {
		prev := prevByID[issueID]
		if prev == nil {
			continue // decision's issue vanished, stays archived
		}

		var best *types.Issue
		bestDelta := window + 1
		for _, cand := range fresh {
			if taken[cand.ID] || cand.RuleID != prev.RuleID || cand.OriginalText != prev.OriginalText {
				continue
			}
			delta := cand.StartOffset - prev.StartOffset
			if delta < 0 {
				delta = -delta
			}
			if delta <= window && delta < bestDelta {
				best, bestDelta = cand, delta
			}
		}
		if best == nil {
			continue
		}

		_, err := s.store.Proofread.InsertCarried(ctx, tx, types.Decision{
			ArticleID:       best.ArticleID,
			IssueID:         best.ID,
			Decision:        d.Decision,
			ModifiedContent: d.ModifiedContent,
			Notes:           d.Notes,
			DecidedBy:       d.DecidedBy,
		}, engine.Generation(), engine.CodeOf(best.RuleID))
		if err != nil {
			return carried, err
		}
		taken[best.ID] = true
		carried++
	}
	return carried, nil
}

// Preview computes the applied body for the article's current issues
// and decisions without persisting anything.
func (s *Service) Preview(ctx context.Context, articleID int64) (*MergeResult, error) {
	article, err := s.store.Articles.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}
	issues, err := s.store.Proofread.ActiveIssues(ctx, articleID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.store.Proofread.ActiveDecisions(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return Merge(article.BodyText, issues, decisions)
}

// Finalize writes the applied body onto the article. The body is
// spliced in HTML coordinates through the sanitizer's offset table and
// re-sanitized before storing. Conflicting decisions are skipped and
// reported; the operator resolves them on the stored body.
func (s *Service) Finalize(ctx context.Context, articleID int64, actor string) (*MergeResult, error) {
	article, err := s.store.Articles.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}
	issues, err := s.store.Proofread.ActiveIssues(ctx, articleID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.store.Proofread.ActiveDecisions(ctx, articleID)
	if err != nil {
		return nil, err
	}

	merged, err := Merge(article.BodyText, issues, decisions)
	if err != nil {
		return nil, err
	}

	var final *sanitize.Result
	if len(merged.Replacements) > 0 {
		clean, err := sanitize.Sanitize(article.BodyHTML)
		if err != nil {
			return nil, err
		}
		// Issues anchor to the body text the analysis saw. A drifted
		// body means the issue set is stale.
		if clean.Text != article.BodyText {
			return nil, fmt.Errorf("%w: body changed since analysis, re-run proofreading", types.ErrStaleState)
		}

		appliedHTML, err := clean.ApplyToHTML(merged.Replacements)
		if err != nil {
			return nil, err
		}
		final, err = sanitize.Sanitize(appliedHTML)
		if err != nil {
			return nil, err
		}
	}

	// The applied body and the status move land together. A finalize
	// with nothing to apply still marks the article ready.
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if final != nil {
			if err := s.store.Articles.SetBody(ctx, tx, articleID, final.HTML, final.Text); err != nil {
				return err
			}
		}
		return s.store.Articles.SetStatus(ctx, tx, articleID, types.ArticleReadyToPublish)
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Proofread.AppendHistory(ctx, store.HistoryEntry{
		ArticleID: articleID,
		Action:    "review_finalized",
		Actor:     actor,
		Payload: map[string]interface{}{
			"applied":   merged.Applied,
			"rejected":  merged.Rejected,
			"deferred":  merged.Deferred,
			"conflicts": len(merged.Conflicts),
		},
	}); err != nil {
		logging.ProofreadWarn("article %d finalize history: %v", articleID, err)
	}

	if s.metrics != nil && len(merged.Conflicts) > 0 {
		s.metrics.DecisionConflicts.Add(float64(len(merged.Conflicts)))
	}
	logging.Audit().ReviewFinalized(articleID, actor, merged.Applied, len(merged.Conflicts))
	logging.Proofread("article %d review finalized by %s: %d applied, %d rejected, %d deferred, %d conflicts",
		articleID, actor, merged.Applied, merged.Rejected, merged.Deferred, len(merged.Conflicts))
	return merged, nil
}

// PublishRuleset validates and activates a draft ruleset.
func (s *Service) PublishRuleset(ctx context.Context, rulesetID int64, publisher string) (*types.RuleSet, error) {
	rs, err := s.store.Rules.Publish(ctx, rulesetID, publisher, ValidateRules)
	if err != nil {
		return nil, err
	}
	s.invalidateEngine()
	logging.Audit().RulesetPublished(rs.ID, rs.Generation, publisher)
	logging.Proofread("ruleset %d published as generation %d by %s", rs.ID, rs.Generation, publisher)
	return rs, nil
}

func (s *Service) invalidateEngine() {
	s.mu.Lock()
	s.engine = nil
	s.mu.Unlock()
}

// activeEngine returns the compiled engine for the active ruleset,
// recompiling when the active generation moved.
func (s *Service) activeEngine(ctx context.Context) (*Engine, []error, error) {
	var (
		rs  *types.RuleSet
		err error
	)
	if id := s.cfg.Proofreading.ActiveRulesetID; id > 0 {
		rs, err = s.store.Rules.Get(ctx, id)
	} else {
		rs, err = s.store.Rules.Active(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading active ruleset: %w", err)
	}

	s.mu.Lock()
	if s.engine != nil && s.engine.RulesetID() == rs.ID && s.engine.Generation() == rs.Generation {
		eng := s.engine
		s.mu.Unlock()
		return eng, nil, nil
	}
	s.mu.Unlock()

	rules, err := s.store.Rules.Rules(ctx, rs.ID)
	if err != nil {
		return nil, nil, err
	}
	eng, compileErrs := Compile(rs, rules)
	logging.Proofread("compiled ruleset %d generation %d: %d rules, %d failures",
		rs.ID, rs.Generation, eng.RuleCount(), len(compileErrs))

	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()
	return eng, compileErrs, nil
}
