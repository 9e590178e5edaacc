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

// ImageRepo stores extracted article images.
type ImageRepo struct {
	pool *pgxpool.Pool
}

const imageColumns = `id, article_id, position, source_url, preview_path, source_path,
	caption, width, height, file_size_bytes, format, review, created_at`

func scanImage(row rowScanner) (*types.ArticleImage, error) {
	var (
		img        types.ArticleImage
		reviewJSON []byte
	)
	err := row.Scan(
		&img.ID, &img.ArticleID, &img.Position, &img.SourceURL, &img.PreviewPath, &img.SourcePath,
		&img.Caption, &img.Width, &img.Height, &img.FileSizeBytes, &img.Format, &reviewJSON, &img.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning article image: %w", err)
	}
	if len(reviewJSON) > 0 {
		var review types.ImageReview
		if err := json.Unmarshal(reviewJSON, &review); err != nil {
			return nil, fmt.Errorf("decoding image review: %w", err)
		}
		img.Review = &review
	}
	return &img, nil
}

// ReplaceForArticle swaps the full image set inside tx. Re-parsing
// produces a fresh set, so the old rows go away with their reviews.
func (r *ImageRepo) ReplaceForArticle(ctx context.Context, tx pgx.Tx, articleID int64, images []types.ArticleImage) error {
	if _, err := tx.Exec(ctx, `DELETE FROM article_images WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("clearing previous images: %w", err)
	}

	query := `
		INSERT INTO article_images (article_id, position, source_url, preview_path, source_path,
			caption, width, height, file_size_bytes, format)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	for _, img := range images {
		_, err := tx.Exec(ctx, query,
			articleID, img.Position, img.SourceURL, img.PreviewPath, img.SourcePath,
			img.Caption, img.Width, img.Height, img.FileSizeBytes, img.Format)
		if err != nil {
			return fmt.Errorf("inserting image at position %d: %w", img.Position, err)
		}
	}
	return nil
}

// ListByArticle returns images ordered by position.
func (r *ImageRepo) ListByArticle(ctx context.Context, articleID int64) ([]*types.ArticleImage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM article_images WHERE article_id = $1 ORDER BY position ASC`,
		articleID)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var images []*types.ArticleImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SetReview records the zero-or-one operator decision on an image.
// A remove decision deletes the row so positions stay strictly
// increasing across the survivors.
func (r *ImageRepo) SetReview(ctx context.Context, imageID int64, review types.ImageReview) error {
	if review.Action == types.ImageRemove {
		tag, err := r.pool.Exec(ctx, `DELETE FROM article_images WHERE id = $1`, imageID)
		if err != nil {
			return fmt.Errorf("removing image: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return types.ErrNotFound
		}
		return nil
	}

	reviewJSON, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("encoding image review: %w", err)
	}

	var (
		query string
		args  []any
	)
	switch review.Action {
	case types.ImageReplaceCaption:
		query = `UPDATE article_images SET caption = $2, review = $3 WHERE id = $1`
		args = []any{imageID, review.NewValue, reviewJSON}
	case types.ImageReplaceSource:
		query = `UPDATE article_images SET source_url = $2, review = $3 WHERE id = $1`
		args = []any{imageID, review.NewValue, reviewJSON}
	case types.ImageKeep:
		query = `UPDATE article_images SET review = $2 WHERE id = $1`
		args = []any{imageID, reviewJSON}
	default:
		return fmt.Errorf("unknown image action %q", review.Action)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("recording image review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}
