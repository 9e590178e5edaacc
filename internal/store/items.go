package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"copydesk/internal/types"
)

// ItemRepo stores worklist items.
type ItemRepo struct {
	pool *pgxpool.Pool
}

const itemColumns = `id, document_id, status, article_id, raw_html, raw_text, title, author,
	document_metadata, notes, error_message, archived, synced_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*types.WorklistItem, error) {
	var (
		item      types.WorklistItem
		metaJSON  []byte
		notesJSON []byte
	)
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.Status, &item.ArticleID,
		&item.RawHTML, &item.RawText, &item.Title, &item.Author,
		&metaJSON, &notesJSON, &item.ErrorMessage, &item.Archived,
		&item.SyncedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning worklist item: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &item.DocumentMetadata); err != nil {
			return nil, fmt.Errorf("decoding document metadata: %w", err)
		}
	}
	if len(notesJSON) > 0 {
		if err := json.Unmarshal(notesJSON, &item.Notes); err != nil {
			return nil, fmt.Errorf("decoding notes: %w", err)
		}
	}
	return &item, nil
}

// SyncResult reports what the sync upsert did to one document.
type SyncResult struct {
	Item           *types.WorklistItem
	Created        bool
	ContentChanged bool
}

// UpsertFromSync creates a worklist item for a newly discovered document
// or refreshes the raw snapshot of an existing one. The item's status is
// never touched here: content changes on an advanced item only refresh
// the snapshot and bump synced_at, and the caller decides whether to
// annotate the item.
func (r *ItemRepo) UpsertFromSync(ctx context.Context, docID, title, author, rawHTML, rawText string, meta types.DocumentMetadata) (*SyncResult, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding document metadata: %w", err)
	}

	// The previous snapshot decides ContentChanged; the upsert below
	// overwrites it.
	var prevHTML string
	existed := true
	err = r.pool.QueryRow(ctx,
		`SELECT raw_html FROM worklist_items WHERE document_id = $1`, docID).Scan(&prevHTML)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checking existing item: %w", err)
		}
		existed = false
	}

	query := `
		INSERT INTO worklist_items (document_id, status, raw_html, raw_text, title, author, document_metadata, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (document_id) DO UPDATE SET
			raw_html = EXCLUDED.raw_html,
			raw_text = EXCLUDED.raw_text,
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			document_metadata = EXCLUDED.document_metadata,
			synced_at = now(),
			updated_at = now()
		RETURNING ` + itemColumns

	item, err := scanItem(r.pool.QueryRow(ctx, query,
		docID, types.StatusPending, rawHTML, rawText, title, author, metaJSON))
	if err != nil {
		return nil, fmt.Errorf("upserting worklist item: %w", err)
	}

	return &SyncResult{
		Item:           item,
		Created:        !existed,
		ContentChanged: existed && prevHTML != rawHTML,
	}, nil
}

// Get loads one item by id.
func (r *ItemRepo) Get(ctx context.Context, id int64) (*types.WorklistItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM worklist_items WHERE id = $1`, id)
	return scanItem(row)
}

// GetByDocumentID loads one item by its document-store id.
func (r *ItemRepo) GetByDocumentID(ctx context.Context, docID string) (*types.WorklistItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM worklist_items WHERE document_id = $1`, docID)
	return scanItem(row)
}

// LockForUpdate loads an item inside tx holding a row lock until the
// transaction ends. Every status transition goes through this.
func (r *ItemRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*types.WorklistItem, error) {
	row := tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM worklist_items WHERE id = $1 FOR UPDATE`, id)
	return scanItem(row)
}

// ListFilter narrows List.
type ListFilter struct {
	Status          types.ItemStatus
	IncludeArchived bool
	Limit           int
	Offset          int
}

// List returns items newest-first.
func (r *ItemRepo) List(ctx context.Context, f ListFilter) ([]*types.WorklistItem, error) {
	query := `SELECT ` + itemColumns + ` FROM worklist_items WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !f.IncludeArchived {
		query += " AND NOT archived"
	}
	query += " ORDER BY updated_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing worklist items: %w", err)
	}
	defer rows.Close()

	var items []*types.WorklistItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListByStatus returns every non-archived item in the given lane,
// oldest-first, so recovery and dispatch drain fairly.
func (r *ItemRepo) ListByStatus(ctx context.Context, status types.ItemStatus) ([]*types.WorklistItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM worklist_items WHERE status = $1 AND NOT archived ORDER BY updated_at ASC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("listing items by status: %w", err)
	}
	defer rows.Close()

	var items []*types.WorklistItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountsByStatus returns lane sizes for the board and metrics.
func (r *ItemRepo) CountsByStatus(ctx context.Context) (map[types.ItemStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM worklist_items WHERE NOT archived GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.ItemStatus]int)
	for rows.Next() {
		var status types.ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Transition moves an item between lanes inside tx. The from-status is
// re-checked in the UPDATE guard so a concurrent writer surfaces as
// ErrStaleState rather than a silent lost update.
func (r *ItemRepo) Transition(ctx context.Context, tx pgx.Tx, id int64, from, to types.ItemStatus) error {
	if !types.CanTransition(from, to) && !types.CanReset(from, to) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE worklist_items SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("transitioning item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d is no longer %s", types.ErrStaleState, id, from)
	}
	return nil
}

// SetError records the operator-visible failure message.
func (r *ItemRepo) SetError(ctx context.Context, tx pgx.Tx, id int64, msg string) error {
	_, err := tx.Exec(ctx,
		`UPDATE worklist_items SET error_message = $1, updated_at = now() WHERE id = $2`, msg, id)
	if err != nil {
		return fmt.Errorf("recording item error: %w", err)
	}
	return nil
}

// ClearError removes the failure message when an item is reset.
func (r *ItemRepo) ClearError(ctx context.Context, tx pgx.Tx, id int64) error {
	return r.SetError(ctx, tx, id, "")
}

// AppendNote appends one operator annotation. Notes are append-only.
func (r *ItemRepo) AppendNote(ctx context.Context, id int64, note types.Note) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	noteJSON, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encoding note: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE worklist_items SET notes = notes || $1::jsonb, updated_at = now() WHERE id = $2`,
		noteJSON, id)
	if err != nil {
		return fmt.Errorf("appending note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// LinkArticle sets the 1:1 article reference once parsing succeeds.
func (r *ItemRepo) LinkArticle(ctx context.Context, tx pgx.Tx, itemID, articleID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE worklist_items SET article_id = $1, updated_at = now() WHERE id = $2`,
		articleID, itemID)
	if err != nil {
		return fmt.Errorf("linking article: %w", err)
	}
	return nil
}

// Archive soft-archives an item. Items are never deleted.
func (r *ItemRepo) Archive(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE worklist_items SET archived = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archiving item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}
