package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"copydesk/internal/types"
)

// ProofreadRepo stores issues, operator decisions and the append-only
// review history.
type ProofreadRepo struct {
	pool *pgxpool.Pool
}

const issueColumns = `id, article_id, rule_id, rule_class, severity, start_offset, end_offset,
	original_text, suggested_text, reasoning, confidence, ruleset_generation, superseded, created_at`

// severityOrder renders the canonical issue ordering in SQL: offset
// ascending, then severity descending as the tie-break.
const severityOrder = `CASE severity WHEN 'critical' THEN 3 WHEN 'error' THEN 2 WHEN 'warning' THEN 1 ELSE 0 END`

func scanIssue(row rowScanner) (*types.Issue, error) {
	var is types.Issue
	err := row.Scan(
		&is.ID, &is.ArticleID, &is.RuleID, &is.RuleClass, &is.Severity,
		&is.StartOffset, &is.EndOffset, &is.OriginalText, &is.SuggestedText,
		&is.Reasoning, &is.Confidence, &is.RulesetGeneration, &is.Superseded, &is.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning issue: %w", err)
	}
	return &is, nil
}

// ReplaceIssues supersedes the article's active issue set and inserts the
// fresh analysis inside tx. The inserted issues come back with ids so the
// caller can attach carried-forward decisions.
func (r *ProofreadRepo) ReplaceIssues(ctx context.Context, tx pgx.Tx, articleID int64, issues []types.Issue) ([]*types.Issue, error) {
	if _, err := tx.Exec(ctx,
		`UPDATE proofreading_issues SET superseded = TRUE WHERE article_id = $1 AND NOT superseded`,
		articleID); err != nil {
		return nil, fmt.Errorf("superseding previous issues: %w", err)
	}

	query := `
		INSERT INTO proofreading_issues (article_id, rule_id, rule_class, severity, start_offset, end_offset,
			original_text, suggested_text, reasoning, confidence, ruleset_generation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING ` + issueColumns

	inserted := make([]*types.Issue, 0, len(issues))
	for _, is := range issues {
		row := tx.QueryRow(ctx, query,
			articleID, is.RuleID, is.RuleClass, is.Severity, is.StartOffset, is.EndOffset,
			is.OriginalText, is.SuggestedText, is.Reasoning, is.Confidence, is.RulesetGeneration)
		stored, err := scanIssue(row)
		if err != nil {
			return nil, fmt.Errorf("inserting issue: %w", err)
		}
		inserted = append(inserted, stored)
	}
	return inserted, nil
}

// ActiveIssues returns the current issue set in canonical order.
func (r *ProofreadRepo) ActiveIssues(ctx context.Context, articleID int64) ([]*types.Issue, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+issueColumns+` FROM proofreading_issues
		 WHERE article_id = $1 AND NOT superseded
		 ORDER BY start_offset ASC, `+severityOrder+` DESC, id ASC`,
		articleID)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// GetIssue loads one issue.
func (r *ProofreadRepo) GetIssue(ctx context.Context, id int64) (*types.Issue, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM proofreading_issues WHERE id = $1`, id)
	return scanIssue(row)
}

const decisionColumns = `id, article_id, issue_id, decision, modified_content, notes,
	decided_by, decided_at, revision, superseded, archived, carried`

func scanDecision(row rowScanner) (*types.Decision, error) {
	var d types.Decision
	err := row.Scan(
		&d.ID, &d.ArticleID, &d.IssueID, &d.Decision, &d.ModifiedContent, &d.Notes,
		&d.DecidedBy, &d.DecidedAt, &d.Revision, &d.Superseded, &d.Archived, &d.Carried,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning decision: %w", err)
	}
	return &d, nil
}

// SubmitDecision records an operator decision on an issue.
//
// expectedRevision implements optimistic concurrency: 0 means "no prior
// decision", otherwise it must match the active decision's revision. A
// mismatch surfaces as ErrStaleState and the caller re-reads. On match
// the prior decision is superseded and retained, and the new decision
// gets revision+1.
func (r *ProofreadRepo) SubmitDecision(ctx context.Context, d types.Decision, expectedRevision int) (*types.Decision, error) {
	if d.Decision == types.DecisionModified && strings.TrimSpace(d.ModifiedContent) == "" {
		return nil, fmt.Errorf("modified decision requires modified_content")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning decision transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	issue, err := r.lockIssue(ctx, tx, d.IssueID)
	if err != nil {
		return nil, err
	}
	if issue.Superseded {
		return nil, fmt.Errorf("%w: issue %d belongs to a superseded analysis", types.ErrStaleState, d.IssueID)
	}
	d.ArticleID = issue.ArticleID

	var (
		currentID  int64
		currentRev int
	)
	err = tx.QueryRow(ctx,
		`SELECT id, revision FROM proofreading_decisions
		 WHERE issue_id = $1 AND NOT superseded AND NOT archived
		 FOR UPDATE`,
		d.IssueID).Scan(&currentID, &currentRev)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedRevision != 0 {
			return nil, fmt.Errorf("%w: no active decision on issue %d", types.ErrStaleState, d.IssueID)
		}
		d.Revision = 1
	case err != nil:
		return nil, fmt.Errorf("reading active decision: %w", err)
	default:
		if expectedRevision != currentRev {
			return nil, fmt.Errorf("%w: issue %d decision is at revision %d", types.ErrStaleState, d.IssueID, currentRev)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE proofreading_decisions SET superseded = TRUE WHERE id = $1`, currentID); err != nil {
			return nil, fmt.Errorf("superseding decision: %w", err)
		}
		d.Revision = currentRev + 1
	}

	stored, err := r.insertDecision(ctx, tx, d)
	if err != nil {
		return nil, err
	}

	action := "decision_submitted"
	if stored.Revision > 1 {
		action = "decision_superseded"
	}
	var ruleCode string
	_ = tx.QueryRow(ctx, `SELECT code FROM rules WHERE id = $1`, issue.RuleID).Scan(&ruleCode)
	if err := r.appendHistory(ctx, tx, HistoryEntry{
		ArticleID:         stored.ArticleID,
		IssueID:           stored.IssueID,
		DecisionID:        stored.ID,
		RulesetGeneration: issue.RulesetGeneration,
		RuleCode:          ruleCode,
		Action:            action,
		Actor:             stored.DecidedBy,
		Payload: map[string]interface{}{
			"decision": stored.Decision,
			"revision": stored.Revision,
		},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing decision: %w", err)
	}
	return stored, nil
}

func (r *ProofreadRepo) lockIssue(ctx context.Context, tx pgx.Tx, issueID int64) (*types.Issue, error) {
	row := tx.QueryRow(ctx, `SELECT `+issueColumns+` FROM proofreading_issues WHERE id = $1 FOR UPDATE`, issueID)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: decision references missing issue %d", types.ErrInvariant, issueID)
		}
		return nil, err
	}
	return issue, nil
}

func (r *ProofreadRepo) insertDecision(ctx context.Context, tx pgx.Tx, d types.Decision) (*types.Decision, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO proofreading_decisions (article_id, issue_id, decision, modified_content, notes,
			decided_by, revision, carried)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING `+decisionColumns,
		d.ArticleID, d.IssueID, d.Decision, d.ModifiedContent, d.Notes, d.DecidedBy, d.Revision, d.Carried)
	stored, err := scanDecision(row)
	if err != nil {
		return nil, fmt.Errorf("inserting decision: %w", err)
	}
	return stored, nil
}

// InsertCarried attaches a carried-forward decision to a fresh issue
// inside tx. Carried decisions start a new revision chain.
func (r *ProofreadRepo) InsertCarried(ctx context.Context, tx pgx.Tx, d types.Decision, generation int, ruleCode string) (*types.Decision, error) {
	d.Revision = 1
	d.Carried = true
	stored, err := r.insertDecision(ctx, tx, d)
	if err != nil {
		return nil, err
	}
	if err := r.appendHistory(ctx, tx, HistoryEntry{
		ArticleID:         stored.ArticleID,
		IssueID:           stored.IssueID,
		DecisionID:        stored.ID,
		RulesetGeneration: generation,
		RuleCode:          ruleCode,
		Action:            "decision_carried",
		Actor:             stored.DecidedBy,
		Payload:           map[string]interface{}{"decision": stored.Decision},
	}); err != nil {
		return nil, err
	}
	return stored, nil
}

// ArchiveActiveDecisions retires the article's active decisions inside
// tx. Used by re-analysis; archived decisions stay queryable for the
// feedback report.
func (r *ProofreadRepo) ArchiveActiveDecisions(ctx context.Context, tx pgx.Tx, articleID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE proofreading_decisions SET archived = TRUE
		 WHERE article_id = $1 AND NOT superseded AND NOT archived`,
		articleID)
	if err != nil {
		return fmt.Errorf("archiving decisions: %w", err)
	}
	return nil
}

// ActiveDecisions returns the article's live decisions keyed by issue.
func (r *ProofreadRepo) ActiveDecisions(ctx context.Context, articleID int64) (map[int64]*types.Decision, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM proofreading_decisions
		 WHERE article_id = $1 AND NOT superseded AND NOT archived`,
		articleID)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	defer rows.Close()

	decisions := make(map[int64]*types.Decision)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions[d.IssueID] = d
	}
	return decisions, rows.Err()
}

// DecisionHistory returns every revision recorded on an issue,
// oldest-first.
func (r *ProofreadRepo) DecisionHistory(ctx context.Context, issueID int64) ([]*types.Decision, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM proofreading_decisions WHERE issue_id = $1 ORDER BY revision ASC, id ASC`,
		issueID)
	if err != nil {
		return nil, fmt.Errorf("listing decision history: %w", err)
	}
	defer rows.Close()

	var history []*types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, d)
	}
	return history, rows.Err()
}

// HistoryEntry is one append-only review-history record.
type HistoryEntry struct {
	ArticleID         int64
	IssueID           int64
	DecisionID        int64
	RulesetGeneration int
	RuleCode          string
	Action            string
	Actor             string
	Payload           map[string]interface{}
}

// AppendHistory records a review event outside any transaction.
func (r *ProofreadRepo) AppendHistory(ctx context.Context, e HistoryEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := r.appendHistory(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ProofreadRepo) appendHistory(ctx context.Context, tx pgx.Tx, e HistoryEntry) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding history payload: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO proofreading_history (article_id, issue_id, decision_id, ruleset_generation, rule_code, action, actor, payload)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ArticleID, e.IssueID, e.DecisionID, e.RulesetGeneration, e.RuleCode, e.Action, e.Actor, payloadJSON)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// RuleQuality aggregates live operator decisions per rule for the
// advisory feedback report. generation 0 means all generations.
func (r *ProofreadRepo) RuleQuality(ctx context.Context, generation int) ([]*types.RuleQuality, error) {
	query := `
		SELECT i.rule_id,
		       COALESCE(ru.code, ''),
		       COALESCE(ru.description, ''),
		       COUNT(*) FILTER (WHERE d.decision = 'accepted'),
		       COUNT(*) FILTER (WHERE d.decision = 'rejected'),
		       COUNT(*) FILTER (WHERE d.decision = 'modified'),
		       COALESCE(ARRAY_AGG(d.notes) FILTER (WHERE d.notes <> ''), '{}')
		FROM proofreading_decisions d
		JOIN proofreading_issues i ON i.id = d.issue_id
		LEFT JOIN rules ru ON ru.id = i.rule_id
		WHERE NOT d.superseded AND NOT d.archived`
	args := []any{}
	if generation > 0 {
		args = append(args, generation)
		query += fmt.Sprintf(" AND i.ruleset_generation = $%d", len(args))
	}
	query += ` GROUP BY i.rule_id, ru.code, ru.description ORDER BY ru.code`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating rule quality: %w", err)
	}
	defer rows.Close()

	var out []*types.RuleQuality
	for rows.Next() {
		var q types.RuleQuality
		if err := rows.Scan(&q.RuleID, &q.Code, &q.Description, &q.Accepted, &q.Rejected, &q.Modified, &q.Notes); err != nil {
			return nil, fmt.Errorf("scanning rule quality row: %w", err)
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

// SaveQualityReport materializes one report snapshot.
func (r *ProofreadRepo) SaveQualityReport(ctx context.Context, generation int, report interface{}) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding quality report: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO rule_quality_reports (ruleset_generation, report) VALUES ($1, $2)`,
		generation, reportJSON)
	if err != nil {
		return fmt.Errorf("saving quality report: %w", err)
	}
	return nil
}

// LatestQualityReport returns the most recent materialized report.
func (r *ProofreadRepo) LatestQualityReport(ctx context.Context) (generation int, report json.RawMessage, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT ruleset_generation, report FROM rule_quality_reports ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&generation, &report)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, types.ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("loading quality report: %w", err)
	}
	return generation, report, nil
}
