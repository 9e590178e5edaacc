package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"copydesk/internal/types"
)

// RuleRepo stores versioned proofreading rulesets.
type RuleRepo struct {
	pool *pgxpool.Pool
}

const rulesetColumns = `id, version, status, generation, published_at, publisher, created_at`

func scanRuleset(row rowScanner) (*types.RuleSet, error) {
	var rs types.RuleSet
	err := row.Scan(&rs.ID, &rs.Version, &rs.Status, &rs.Generation, &rs.PublishedAt, &rs.Publisher, &rs.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning ruleset: %w", err)
	}
	return &rs, nil
}

// CreateDraft opens a new draft ruleset at the next version number,
// optionally copying the rules of a source ruleset as the starting
// point.
func (r *RuleRepo) CreateDraft(ctx context.Context, copyFrom int64) (*types.RuleSet, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning draft transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO rulesets (version, status)
		 SELECT COALESCE(MAX(version), 0) + 1, 'draft' FROM rulesets
		 RETURNING `+rulesetColumns)
	rs, err := scanRuleset(row)
	if err != nil {
		return nil, fmt.Errorf("creating draft ruleset: %w", err)
	}

	if copyFrom > 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO rules (ruleset_id, code, pattern, description, severity, enabled)
			 SELECT $1, code, pattern, description, severity, enabled FROM rules WHERE ruleset_id = $2`,
			rs.ID, copyFrom)
		if err != nil {
			return nil, fmt.Errorf("copying rules into draft: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing draft: %w", err)
	}
	return rs, nil
}

// Get loads one ruleset.
func (r *RuleRepo) Get(ctx context.Context, id int64) (*types.RuleSet, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rulesetColumns+` FROM rulesets WHERE id = $1`, id)
	return scanRuleset(row)
}

// Active returns the single published ruleset.
func (r *RuleRepo) Active(ctx context.Context) (*types.RuleSet, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+rulesetColumns+` FROM rulesets WHERE status = 'published' ORDER BY generation DESC LIMIT 1`)
	return scanRuleset(row)
}

// List returns every ruleset, newest version first.
func (r *RuleRepo) List(ctx context.Context) ([]*types.RuleSet, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rulesetColumns+` FROM rulesets ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing rulesets: %w", err)
	}
	defer rows.Close()

	var sets []*types.RuleSet
	for rows.Next() {
		rs, err := scanRuleset(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	return sets, rows.Err()
}

const ruleColumns = `id, ruleset_id, code, pattern, description, severity, enabled`

func scanRule(row rowScanner) (*types.Rule, error) {
	var rule types.Rule
	err := row.Scan(&rule.ID, &rule.RulesetID, &rule.Code, &rule.Pattern, &rule.Description, &rule.Severity, &rule.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning rule: %w", err)
	}
	return &rule, nil
}

// Rules returns the rules of a ruleset ordered by code.
func (r *RuleRepo) Rules(ctx context.Context, rulesetID int64) ([]*types.Rule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE ruleset_id = $1 ORDER BY code ASC`, rulesetID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var rules []*types.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertRule adds or updates a rule on a draft ruleset. Published and
// archived rulesets are immutable.
func (r *RuleRepo) UpsertRule(ctx context.Context, rule types.Rule) (*types.Rule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning rule transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status types.RulesetStatus
	err = tx.QueryRow(ctx, `SELECT status FROM rulesets WHERE id = $1 FOR UPDATE`, rule.RulesetID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading ruleset: %w", err)
	}
	if status != types.RulesetDraft {
		return nil, fmt.Errorf("ruleset %d is %s; only drafts accept rule edits", rule.RulesetID, status)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO rules (ruleset_id, code, pattern, description, severity, enabled)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (ruleset_id, code) DO UPDATE SET
			pattern = EXCLUDED.pattern,
			description = EXCLUDED.description,
			severity = EXCLUDED.severity,
			enabled = EXCLUDED.enabled
		 RETURNING `+ruleColumns,
		rule.RulesetID, rule.Code, rule.Pattern, rule.Description, rule.Severity, rule.Enabled)
	stored, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("upserting rule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing rule: %w", err)
	}
	return stored, nil
}

// Publish activates a draft ruleset transactionally: the draft is
// validated, the current published set is demoted to archived, and the
// generation counter bumps. In-flight analyses keep their old generation
// tag and complete normally.
//
// validate runs inside the transaction against the draft's rules, so a
// concurrent rule edit cannot slip between validation and activation.
func (r *RuleRepo) Publish(ctx context.Context, id int64, publisher string, validate func([]*types.Rule) error) (*types.RuleSet, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning publish transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+rulesetColumns+` FROM rulesets WHERE id = $1 FOR UPDATE`, id)
	rs, err := scanRuleset(row)
	if err != nil {
		return nil, err
	}
	if rs.Status != types.RulesetDraft {
		return nil, fmt.Errorf("ruleset %d is %s; only drafts can be published", id, rs.Status)
	}

	if validate != nil {
		rows, err := tx.Query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE ruleset_id = $1 ORDER BY code`, id)
		if err != nil {
			return nil, fmt.Errorf("loading draft rules: %w", err)
		}
		var rules []*types.Rule
		for rows.Next() {
			rule, err := scanRule(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			rules = append(rules, rule)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("loading draft rules: %w", err)
		}
		if err := validate(rules); err != nil {
			return nil, fmt.Errorf("ruleset %d failed validation: %w", id, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rulesets SET status = 'archived' WHERE status = 'published'`); err != nil {
		return nil, fmt.Errorf("archiving previous ruleset: %w", err)
	}

	row = tx.QueryRow(ctx,
		`UPDATE rulesets SET
			status = 'published',
			generation = (SELECT COALESCE(MAX(generation), 0) + 1 FROM rulesets),
			published_at = now(),
			publisher = $2
		 WHERE id = $1
		 RETURNING `+rulesetColumns,
		id, publisher)
	published, err := scanRuleset(row)
	if err != nil {
		return nil, fmt.Errorf("publishing ruleset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing publication: %w", err)
	}
	return published, nil
}

// Archive demotes a draft that will never ship.
func (r *RuleRepo) Archive(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rulesets SET status = 'archived' WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return fmt.Errorf("archiving ruleset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ruleset %d is not a draft", types.ErrInvalidTransition, id)
	}
	return nil
}
