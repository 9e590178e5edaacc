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

// ArticleRepo stores parsed articles.
type ArticleRepo struct {
	pool *pgxpool.Pool
}

const articleColumns = `id, worklist_item_id, title_prefix, title_main, title_suffix, author_name,
	body_html, body_text, meta_description, seo_keywords, tags, categories,
	suggested_title_sets, suggested_meta_description, suggested_seo_keywords, faq_proposals,
	parsing_method, parsing_confidence, parsing_confirmed, parsing_confirmed_by, parsing_confirmed_at,
	status, cms_article_id, published_url, published_at, ai_model_used, generation_cost,
	article_metadata, created_at, updated_at`

func scanArticle(row rowScanner) (*types.Article, error) {
	var (
		a          types.Article
		titlesJSON []byte
		kwJSON     []byte
		faqJSON    []byte
		metaJSON   []byte
	)
	err := row.Scan(
		&a.ID, &a.WorklistItemID, &a.TitlePrefix, &a.TitleMain, &a.TitleSuffix, &a.AuthorName,
		&a.BodyHTML, &a.BodyText, &a.MetaDescription, &a.SEOKeywords, &a.Tags, &a.Categories,
		&titlesJSON, &a.SuggestedMetaDescription, &kwJSON, &faqJSON,
		&a.ParsingMethod, &a.ParsingConfidence, &a.ParsingConfirmed, &a.ParsingConfirmedBy, &a.ParsingConfirmedAt,
		&a.Status, &a.CMSArticleID, &a.PublishedURL, &a.PublishedAt, &a.AIModelUsed, &a.GenerationCostUSD,
		&metaJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning article: %w", err)
	}

	if len(titlesJSON) > 0 {
		if err := json.Unmarshal(titlesJSON, &a.SuggestedTitleSets); err != nil {
			return nil, fmt.Errorf("decoding suggested titles: %w", err)
		}
	}
	if len(kwJSON) > 0 {
		if err := json.Unmarshal(kwJSON, &a.SuggestedSEOKeywords); err != nil {
			return nil, fmt.Errorf("decoding suggested keywords: %w", err)
		}
	}
	if len(faqJSON) > 0 {
		if err := json.Unmarshal(faqJSON, &a.FAQProposals); err != nil {
			return nil, fmt.Errorf("decoding faq proposals: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &a.Metadata)
	}
	return &a, nil
}

func articleJSONFields(a *types.Article) (titles, keywords, faqs, meta []byte, err error) {
	if titles, err = json.Marshal(orEmptySlice(a.SuggestedTitleSets)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encoding suggested titles: %w", err)
	}
	if keywords, err = json.Marshal(a.SuggestedSEOKeywords); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encoding suggested keywords: %w", err)
	}
	if faqs, err = json.Marshal(orEmptySlice(a.FAQProposals)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encoding faq proposals: %w", err)
	}
	m := a.Metadata
	if m == nil {
		m = map[string]interface{}{}
	}
	if meta, err = json.Marshal(m); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encoding article metadata: %w", err)
	}
	return titles, keywords, faqs, meta, nil
}

func orEmptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Create inserts a new article inside tx and returns its id. Used by the
// parse stage together with ItemRepo.LinkArticle.
func (r *ArticleRepo) Create(ctx context.Context, tx pgx.Tx, a *types.Article) (int64, error) {
	titles, keywords, faqs, meta, err := articleJSONFields(a)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO articles (
			worklist_item_id, title_prefix, title_main, title_suffix, author_name,
			body_html, body_text, meta_description, seo_keywords, tags, categories,
			suggested_title_sets, suggested_meta_description, suggested_seo_keywords, faq_proposals,
			parsing_method, parsing_confidence, status, ai_model_used, generation_cost, article_metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id`

	var id int64
	err = tx.QueryRow(ctx, query,
		a.WorklistItemID, a.TitlePrefix, a.TitleMain, a.TitleSuffix, a.AuthorName,
		a.BodyHTML, a.BodyText, a.MetaDescription,
		textArray(a.SEOKeywords), textArray(a.Tags), textArray(a.Categories),
		titles, a.SuggestedMetaDescription, keywords, faqs,
		a.ParsingMethod, a.ParsingConfidence, types.ArticleDraft, a.AIModelUsed, a.GenerationCostUSD, meta,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting article: %w", err)
	}
	return id, nil
}

// UpdateParsed overwrites the parse-derived fields after a re-parse. The
// previous suggestion set is superseded wholesale; operator SEO edits on
// other columns survive.
func (r *ArticleRepo) UpdateParsed(ctx context.Context, tx pgx.Tx, a *types.Article) error {
	query := `
		UPDATE articles SET
			title_prefix = $1, title_main = $2, title_suffix = $3, author_name = $4,
			body_html = $5, body_text = $6,
			parsing_method = $7, parsing_confidence = $8,
			parsing_confirmed = FALSE, parsing_confirmed_by = '', parsing_confirmed_at = NULL,
			updated_at = now()
		WHERE id = $9`

	tag, err := tx.Exec(ctx, query,
		a.TitlePrefix, a.TitleMain, a.TitleSuffix, a.AuthorName,
		a.BodyHTML, a.BodyText, a.ParsingMethod, a.ParsingConfidence, a.ID)
	if err != nil {
		return fmt.Errorf("updating parsed article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// UpdateSuggestions stores a fresh optimization result and adds the call
// cost to the running total.
func (r *ArticleRepo) UpdateSuggestions(ctx context.Context, a *types.Article, costUSD float64) error {
	titles, keywords, faqs, _, err := articleJSONFields(a)
	if err != nil {
		return err
	}

	query := `
		UPDATE articles SET
			suggested_title_sets = $1,
			suggested_meta_description = $2,
			suggested_seo_keywords = $3,
			faq_proposals = $4,
			ai_model_used = $5,
			generation_cost = generation_cost + $6,
			updated_at = now()
		WHERE id = $7`

	tag, err := r.pool.Exec(ctx, query,
		titles, a.SuggestedMetaDescription, keywords, faqs, a.AIModelUsed, costUSD, a.ID)
	if err != nil {
		return fmt.Errorf("updating suggestions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// AddGenerationCost bumps the cost total without touching suggestions.
// Used when a capped or failed call still incurred spend.
func (r *ArticleRepo) AddGenerationCost(ctx context.Context, id int64, costUSD float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE articles SET generation_cost = generation_cost + $1, updated_at = now() WHERE id = $2`,
		costUSD, id)
	if err != nil {
		return fmt.Errorf("recording generation cost: %w", err)
	}
	return nil
}

// SetCostCapOverride records a per-article spend ceiling in the article
// metadata, where the optimizer's budget check reads it before each call.
func (r *ArticleRepo) SetCostCapOverride(ctx context.Context, id int64, capUSD float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE articles SET
			article_metadata = jsonb_set(COALESCE(article_metadata, '{}'::jsonb), '{cost_cap_usd}', to_jsonb($1::numeric)),
			updated_at = now()
		WHERE id = $2`,
		capUSD, id)
	if err != nil {
		return fmt.Errorf("setting cost cap override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// UpdateSEO stores operator edits to the editable SEO fields.
func (r *ArticleRepo) UpdateSEO(ctx context.Context, id int64, metaDescription string, keywords, tags, categories []string) error {
	query := `
		UPDATE articles SET
			meta_description = $1, seo_keywords = $2, tags = $3, categories = $4, updated_at = now()
		WHERE id = $5`

	tag, err := r.pool.Exec(ctx, query,
		metaDescription, textArray(keywords), textArray(tags), textArray(categories), id)
	if err != nil {
		return fmt.Errorf("updating seo fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// UpdateTitle stores operator edits to the title tuple and author.
func (r *ArticleRepo) UpdateTitle(ctx context.Context, id int64, prefix, main, suffix, author string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE articles SET title_prefix=$1, title_main=$2, title_suffix=$3, author_name=$4, updated_at=now() WHERE id=$5`,
		prefix, main, suffix, author, id)
	if err != nil {
		return fmt.Errorf("updating title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// ConfirmParsing records the operator confirmation of the parse result.
func (r *ArticleRepo) ConfirmParsing(ctx context.Context, tx pgx.Tx, id int64, operator string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE articles SET parsing_confirmed = TRUE, parsing_confirmed_by = $1, parsing_confirmed_at = now(), updated_at = now() WHERE id = $2`,
		operator, id)
	if err != nil {
		return fmt.Errorf("confirming parse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// SetBody replaces the sanitized body. Used by review finalize, which
// rewrites body_html and its derived body_text together.
func (r *ArticleRepo) SetBody(ctx context.Context, tx pgx.Tx, id int64, bodyHTML, bodyText string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE articles SET body_html = $1, body_text = $2, updated_at = now() WHERE id = $3`,
		bodyHTML, bodyText, id)
	if err != nil {
		return fmt.Errorf("setting article body: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// SetStatus moves the article's workflow-scoped status.
func (r *ArticleRepo) SetStatus(ctx context.Context, tx pgx.Tx, id int64, status types.ArticleStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE articles SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("setting article status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// RecordPublication stores the CMS outcome inside tx.
func (r *ArticleRepo) RecordPublication(ctx context.Context, tx pgx.Tx, id int64, cmsArticleID, publishedURL string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE articles SET cms_article_id = $1, published_url = $2, published_at = now(), status = $3, updated_at = now() WHERE id = $4`,
		cmsArticleID, publishedURL, types.ArticlePublished, id)
	if err != nil {
		return fmt.Errorf("recording publication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Get loads one article.
func (r *ArticleRepo) Get(ctx context.Context, id int64) (*types.Article, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)
	return scanArticle(row)
}

// GetByItem loads the article owned by a worklist item.
func (r *ArticleRepo) GetByItem(ctx context.Context, itemID int64) (*types.Article, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE worklist_item_id = $1`, itemID)
	return scanArticle(row)
}
