package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"copydesk/internal/types"
)

// TaskRepo stores publish tasks. Tasks are append-mostly: progress
// fields advance, terminal transitions happen once, rows are never
// deleted.
type TaskRepo struct {
	pool *pgxpool.Pool
}

const taskColumns = `id, article_id, provider, status, progress, current_step,
	started_at, completed_at, duration_seconds, cost_usd, retry_count, max_retries,
	screenshots, error_message, cms_article_id, published_url, correlation_id, created_at, updated_at`

func scanTask(row rowScanner) (*types.PublishTask, error) {
	var (
		t         types.PublishTask
		shotsJSON []byte
		duration  *float64
	)
	err := row.Scan(
		&t.ID, &t.ArticleID, &t.Provider, &t.Status, &t.Progress, &t.CurrentStep,
		&t.StartedAt, &t.CompletedAt, &duration, &t.CostUSD, &t.RetryCount, &t.MaxRetries,
		&shotsJSON, &t.ErrorMessage, &t.CMSArticleID, &t.PublishedURL, &t.CorrelationID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning publish task: %w", err)
	}
	if duration != nil {
		t.DurationSecs = *duration
	}
	if len(shotsJSON) > 0 {
		if err := json.Unmarshal(shotsJSON, &t.Screenshots); err != nil {
			return nil, fmt.Errorf("decoding screenshots: %w", err)
		}
	}
	return &t, nil
}

// Create persists the task row before any CMS interaction happens. The
// durable id anchors the at-most-once guarantee across crashes.
func (r *TaskRepo) Create(ctx context.Context, articleID int64, provider types.Provider, maxRetries int, correlationID string) (*types.PublishTask, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO publish_tasks (article_id, provider, status, max_retries, correlation_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+taskColumns,
		articleID, provider, types.TaskPending, maxRetries, correlationID)
	return scanTask(row)
}

// Get loads one task.
func (r *TaskRepo) Get(ctx context.Context, id int64) (*types.PublishTask, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM publish_tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListByArticle returns an article's tasks, newest first.
func (r *TaskRepo) ListByArticle(ctx context.Context, articleID int64) ([]*types.PublishTask, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM publish_tasks WHERE article_id = $1 ORDER BY created_at DESC, id DESC`,
		articleID)
	if err != nil {
		return nil, fmt.Errorf("listing publish tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.PublishTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ActiveForArticle returns the non-terminal task on an article, or
// ErrNotFound. At most one publish runs per article at a time.
func (r *TaskRepo) ActiveForArticle(ctx context.Context, articleID int64) (*types.PublishTask, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM publish_tasks
		 WHERE article_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		 ORDER BY created_at DESC LIMIT 1`,
		articleID)
	return scanTask(row)
}

// Start stamps started_at on the first attempt only; retries keep the
// original start time, which also anchors the draft-adoption window.
func (r *TaskRepo) Start(ctx context.Context, id int64) (*types.PublishTask, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE publish_tasks SET
			status = $2,
			started_at = COALESCE(started_at, now()),
			updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		 RETURNING `+taskColumns,
		id, types.TaskInitializing)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %d is terminal", types.ErrStaleState, id)
		}
		return nil, err
	}
	return t, nil
}

// UpdateProgress advances the task through its step sequence. Progress
// is monotonic: a stale writer can never move the bar backwards.
func (r *TaskRepo) UpdateProgress(ctx context.Context, id int64, status types.TaskStatus, progress int, currentStep string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE publish_tasks SET
			status = $2,
			progress = GREATEST(progress, $3),
			current_step = $4,
			updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, status, progress, currentStep)
	if err != nil {
		return fmt.Errorf("updating task progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %d is terminal", types.ErrStaleState, id)
	}
	return nil
}

// AppendScreenshot attaches one screenshot reference to the task.
func (r *TaskRepo) AppendScreenshot(ctx context.Context, id int64, shot types.Screenshot) error {
	shotJSON, err := json.Marshal(shot)
	if err != nil {
		return fmt.Errorf("encoding screenshot: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE publish_tasks SET screenshots = screenshots || $2::jsonb, updated_at = now() WHERE id = $1`,
		id, shotJSON)
	if err != nil {
		return fmt.Errorf("appending screenshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// IncrementRetry books one more attempt and returns the updated task.
// Terminal tasks and exhausted tasks reject the increment.
func (r *TaskRepo) IncrementRetry(ctx context.Context, id int64) (*types.PublishTask, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE publish_tasks SET retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1 AND retry_count < max_retries AND status NOT IN ('completed', 'failed', 'cancelled')
		 RETURNING `+taskColumns,
		id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %d cannot retry", types.ErrStaleState, id)
		}
		return nil, err
	}
	return t, nil
}

// AddCost folds one attempt's spend into the task before the next try.
// Terminal transitions carry the final attempt's cost themselves.
func (r *TaskRepo) AddCost(ctx context.Context, id int64, costUSD float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE publish_tasks SET cost_usd = cost_usd + $2, updated_at = now() WHERE id = $1`,
		id, costUSD)
	if err != nil {
		return fmt.Errorf("adding task cost: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Complete records the successful terminal transition inside tx so that
// the article and worklist updates land atomically with it.
func (r *TaskRepo) Complete(ctx context.Context, tx pgx.Tx, id int64, cmsArticleID, publishedURL string, costUSD float64) (*types.PublishTask, error) {
	row := tx.QueryRow(ctx,
		`UPDATE publish_tasks SET
			status = $2,
			progress = 100,
			current_step = 'done',
			completed_at = now(),
			duration_seconds = EXTRACT(EPOCH FROM (now() - started_at)),
			cost_usd = cost_usd + $3,
			cms_article_id = $4,
			published_url = $5,
			updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		 RETURNING `+taskColumns,
		id, types.TaskCompleted, costUSD, cmsArticleID, publishedURL)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %d already terminal", types.ErrStaleState, id)
		}
		return nil, err
	}
	return t, nil
}

// Fail records the failed terminal transition inside tx.
func (r *TaskRepo) Fail(ctx context.Context, tx pgx.Tx, id int64, errMsg string, costUSD float64) (*types.PublishTask, error) {
	row := tx.QueryRow(ctx,
		`UPDATE publish_tasks SET
			status = $2,
			completed_at = now(),
			duration_seconds = EXTRACT(EPOCH FROM (now() - started_at)),
			cost_usd = cost_usd + $3,
			error_message = $4,
			updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		 RETURNING `+taskColumns,
		id, types.TaskFailed, costUSD, errMsg)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %d already terminal", types.ErrStaleState, id)
		}
		return nil, err
	}
	return t, nil
}

// Cancel marks a cooperatively cancelled task. CMS side effects are not
// rolled back; the row keeps whatever progress was reached.
func (r *TaskRepo) Cancel(ctx context.Context, id int64) (*types.PublishTask, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE publish_tasks SET
			status = $2,
			completed_at = now(),
			duration_seconds = CASE WHEN started_at IS NULL THEN NULL ELSE EXTRACT(EPOCH FROM (now() - started_at)) END,
			updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		 RETURNING `+taskColumns,
		id, types.TaskCancelled)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %d already terminal", types.ErrStaleState, id)
		}
		return nil, err
	}
	return t, nil
}

// Interrupted returns tasks stranded in a non-terminal state, oldest
// first. Startup recovery feeds these through the adoption check before
// deciding to retry or fail them.
func (r *TaskRepo) Interrupted(ctx context.Context) ([]*types.PublishTask, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM publish_tasks
		 WHERE status NOT IN ('idle', 'completed', 'failed', 'cancelled')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing interrupted tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.PublishTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
