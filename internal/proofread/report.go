package proofread

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// QualityReport aggregates operator decisions per rule. It is advisory:
// nothing reads it back into rule behavior; editors consult it when
// drafting the next ruleset.
type QualityReport struct {
	Generation     int                  `json:"generation"`
	GeneratedAt    time.Time            `json:"generated_at"`
	TotalDecisions int                  `json:"total_decisions"`
	Rules          []*types.RuleQuality `json:"rules"`
}

// BuildQualityReport materializes the decision statistics for the
// active generation and stores the result.
func (s *Service) BuildQualityReport(ctx context.Context) (*QualityReport, error) {
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
		return nil, fmt.Errorf("loading active ruleset: %w", err)
	}

	rows, err := s.store.Proofread.RuleQuality(ctx, rs.Generation)
	if err != nil {
		return nil, err
	}

	report := &QualityReport{
		Generation:  rs.Generation,
		GeneratedAt: time.Now().UTC(),
		Rules:       rows,
	}
	for _, r := range rows {
		report.TotalDecisions += r.Total()
	}

	// Most contested rules first: low accept rate, high volume.
	sort.SliceStable(report.Rules, func(i, j int) bool {
		ri, rj := report.Rules[i], report.Rules[j]
		if ri.AcceptRate() != rj.AcceptRate() {
			return ri.AcceptRate() < rj.AcceptRate()
		}
		return ri.Total() > rj.Total()
	})

	if err := s.store.Proofread.SaveQualityReport(ctx, rs.Generation, report); err != nil {
		return nil, err
	}
	logging.Report("quality report for generation %d: %d rules, %d decisions",
		rs.Generation, len(report.Rules), report.TotalDecisions)
	return report, nil
}

// LatestQualityReport loads the most recently materialized report.
func (s *Service) LatestQualityReport(ctx context.Context) (*QualityReport, error) {
	_, raw, err := s.store.Proofread.LatestQualityReport(ctx)
	if err != nil {
		return nil, err
	}
	var report QualityReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decoding stored report: %w", err)
	}
	return &report, nil
}

// Markdown renders the report for terminal display.
func (r *QualityReport) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Rule Quality Report: Generation %d\n\n", r.Generation)
	fmt.Fprintf(&b, "Generated %s. %d decisions across %d rules.\n\n",
		r.GeneratedAt.Format("2006-01-02 15:04 UTC"), r.TotalDecisions, len(r.Rules))

	if len(r.Rules) == 0 {
		b.WriteString("No operator decisions recorded yet.\n")
		return b.String()
	}

	b.WriteString("| Rule | Description | Accepted | Rejected | Modified | Accept rate |\n")
	b.WriteString("|------|-------------|---------:|---------:|---------:|------------:|\n")
	for _, q := range r.Rules {
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %.0f%% |\n",
			q.Code, q.Description, q.Accepted, q.Rejected, q.Modified, q.AcceptRate()*100)
	}

	var noted []*types.RuleQuality
	for _, q := range r.Rules {
		if len(q.Notes) > 0 {
			noted = append(noted, q)
		}
	}
	if len(noted) > 0 {
		b.WriteString("\n## Operator notes\n\n")
		for _, q := range noted {
			fmt.Fprintf(&b, "### %s\n\n", q.Code)
			for _, n := range q.Notes {
				fmt.Fprintf(&b, "- %s\n", n)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
