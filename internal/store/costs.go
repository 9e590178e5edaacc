package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CostRepo is the AI spend ledger. Every Gemini call books one entry so
// spend is reconstructable per article and per component.
type CostRepo struct {
	pool *pgxpool.Pool
}

// CostEntry is one booked AI call.
type CostEntry struct {
	ID           int64
	ArticleID    int64
	Component    string // parser, optimizer, publisher
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CreatedAt    time.Time
}

// Record books one entry.
func (r *CostRepo) Record(ctx context.Context, e CostEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cost_entries (article_id, component, model, input_tokens, output_tokens, cost_usd)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ArticleID, e.Component, e.Model, e.InputTokens, e.OutputTokens, e.CostUSD)
	if err != nil {
		return fmt.Errorf("recording cost entry: %w", err)
	}
	return nil
}

// ArticleTotal sums the booked spend for one article.
func (r *CostRepo) ArticleTotal(ctx context.Context, articleID int64) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_entries WHERE article_id = $1`,
		articleID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing article spend: %w", err)
	}
	return total, nil
}

// ComponentSummary is the per-component slice of the ledger.
type ComponentSummary struct {
	Component    string
	Calls        int
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Summary aggregates spend since the given time, per component.
func (r *CostRepo) Summary(ctx context.Context, since time.Time) ([]ComponentSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT component, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM cost_entries
		 WHERE created_at >= $1
		 GROUP BY component
		 ORDER BY component`,
		since)
	if err != nil {
		return nil, fmt.Errorf("summarizing spend: %w", err)
	}
	defer rows.Close()

	var out []ComponentSummary
	for rows.Next() {
		var s ComponentSummary
		if err := rows.Scan(&s.Component, &s.Calls, &s.InputTokens, &s.OutputTokens, &s.CostUSD); err != nil {
			return nil, fmt.Errorf("scanning spend row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
