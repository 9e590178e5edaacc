package api

import (
	"time"

	"copydesk/internal/proofread"
	"copydesk/internal/types"
)

// Wire shapes. Domain types stay JSON-free; the API owns its own field
// names so storage changes do not silently leak onto the wire.

type itemSummary struct {
	ID           int64            `json:"id"`
	DocumentID   string           `json:"document_id"`
	Status       types.ItemStatus `json:"status"`
	ArticleID    *int64           `json:"article_id,omitempty"`
	Title        string           `json:"title"`
	Author       string           `json:"author,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	NoteCount    int              `json:"note_count"`
	Archived     bool             `json:"archived,omitempty"`
	SyncedAt     time.Time        `json:"synced_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func summarizeItem(it *types.WorklistItem) itemSummary {
	return itemSummary{
		ID:           it.ID,
		DocumentID:   it.DocumentID,
		Status:       it.Status,
		ArticleID:    it.ArticleID,
		Title:        it.Title,
		Author:       it.Author,
		ErrorMessage: it.ErrorMessage,
		NoteCount:    len(it.Notes),
		Archived:     it.Archived,
		SyncedAt:     it.SyncedAt,
		UpdatedAt:    it.UpdatedAt,
	}
}

type itemDetail struct {
	itemSummary
	RawHTML          string                 `json:"raw_html"`
	DocumentMetadata types.DocumentMetadata `json:"document_metadata"`
	Notes            []types.Note           `json:"notes"`
	CreatedAt        time.Time              `json:"created_at"`
}

func detailItem(it *types.WorklistItem) itemDetail {
	return itemDetail{
		itemSummary:      summarizeItem(it),
		RawHTML:          it.RawHTML,
		DocumentMetadata: it.DocumentMetadata,
		Notes:            it.Notes,
		CreatedAt:        it.CreatedAt,
	}
}

type articleView struct {
	ID             int64  `json:"id"`
	WorklistItemID *int64 `json:"worklist_item_id,omitempty"`

	TitlePrefix  string `json:"title_prefix,omitempty"`
	TitleMain    string `json:"title_main"`
	TitleSuffix  string `json:"title_suffix,omitempty"`
	DisplayTitle string `json:"display_title"`
	AuthorName   string `json:"author_name,omitempty"`

	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text"`

	MetaDescription string   `json:"meta_description,omitempty"`
	SEOKeywords     []string `json:"seo_keywords,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Categories      []string `json:"categories,omitempty"`

	SuggestedTitleSets       []types.TitleSuggestion `json:"suggested_title_sets,omitempty"`
	SuggestedMetaDescription string                  `json:"suggested_meta_description,omitempty"`
	SuggestedSEOKeywords     types.KeywordSet        `json:"suggested_seo_keywords"`
	FAQProposals             []types.FAQ             `json:"faq_proposals,omitempty"`

	ParsingMethod      types.ParsingMethod `json:"parsing_method"`
	ParsingConfidence  float64             `json:"parsing_confidence"`
	ParsingConfirmed   bool                `json:"parsing_confirmed"`
	ParsingConfirmedBy string              `json:"parsing_confirmed_by,omitempty"`
	ParsingConfirmedAt *time.Time          `json:"parsing_confirmed_at,omitempty"`

	Status            types.ArticleStatus `json:"status"`
	CMSArticleID      string              `json:"cms_article_id,omitempty"`
	PublishedURL      string              `json:"published_url,omitempty"`
	PublishedAt       *time.Time          `json:"published_at,omitempty"`
	GenerationCostUSD float64             `json:"generation_cost_usd"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func viewArticle(a *types.Article) articleView {
	return articleView{
		ID:                       a.ID,
		WorklistItemID:           a.WorklistItemID,
		TitlePrefix:              a.TitlePrefix,
		TitleMain:                a.TitleMain,
		TitleSuffix:              a.TitleSuffix,
		DisplayTitle:             a.DisplayTitle(),
		AuthorName:               a.AuthorName,
		BodyHTML:                 a.BodyHTML,
		BodyText:                 a.BodyText,
		MetaDescription:          a.MetaDescription,
		SEOKeywords:              a.SEOKeywords,
		Tags:                     a.Tags,
		Categories:               a.Categories,
		SuggestedTitleSets:       a.SuggestedTitleSets,
		SuggestedMetaDescription: a.SuggestedMetaDescription,
		SuggestedSEOKeywords:     a.SuggestedSEOKeywords,
		FAQProposals:             a.FAQProposals,
		ParsingMethod:            a.ParsingMethod,
		ParsingConfidence:        a.ParsingConfidence,
		ParsingConfirmed:         a.ParsingConfirmed,
		ParsingConfirmedBy:       a.ParsingConfirmedBy,
		ParsingConfirmedAt:       a.ParsingConfirmedAt,
		Status:                   a.Status,
		CMSArticleID:             a.CMSArticleID,
		PublishedURL:             a.PublishedURL,
		PublishedAt:              a.PublishedAt,
		GenerationCostUSD:        a.GenerationCostUSD,
		UpdatedAt:                a.UpdatedAt,
	}
}

type decisionView struct {
	ID              int64              `json:"id"`
	IssueID         int64              `json:"issue_id"`
	Decision        types.DecisionKind `json:"decision"`
	ModifiedContent string             `json:"modified_content,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	DecidedBy       string             `json:"decided_by"`
	DecidedAt       time.Time          `json:"decided_at"`
	Revision        int                `json:"revision"`
	Superseded      bool               `json:"superseded,omitempty"`
	Carried         bool               `json:"carried,omitempty"`
}

func viewDecision(d *types.Decision) decisionView {
	return decisionView{
		ID:              d.ID,
		IssueID:         d.IssueID,
		Decision:        d.Decision,
		ModifiedContent: d.ModifiedContent,
		Notes:           d.Notes,
		DecidedBy:       d.DecidedBy,
		DecidedAt:       d.DecidedAt,
		Revision:        d.Revision,
		Superseded:      d.Superseded,
		Carried:         d.Carried,
	}
}

type issueView struct {
	ID                int64           `json:"id"`
	ArticleID         int64           `json:"article_id"`
	RuleID            int64           `json:"rule_id"`
	RuleClass         types.RuleClass `json:"rule_class"`
	Severity          types.Severity  `json:"severity"`
	StartOffset       int             `json:"start_offset"`
	EndOffset         int             `json:"end_offset"`
	OriginalText      string          `json:"original_text"`
	SuggestedText     string          `json:"suggested_text"`
	Reasoning         string          `json:"reasoning,omitempty"`
	Confidence        float64         `json:"confidence"`
	RulesetGeneration int             `json:"ruleset_generation"`
	Decision          *decisionView   `json:"decision,omitempty"`
}

func viewIssue(i *types.Issue, d *types.Decision) issueView {
	v := issueView{
		ID:                i.ID,
		ArticleID:         i.ArticleID,
		RuleID:            i.RuleID,
		RuleClass:         i.RuleClass,
		Severity:          i.Severity,
		StartOffset:       i.StartOffset,
		EndOffset:         i.EndOffset,
		OriginalText:      i.OriginalText,
		SuggestedText:     i.SuggestedText,
		Reasoning:         i.Reasoning,
		Confidence:        i.Confidence,
		RulesetGeneration: i.RulesetGeneration,
	}
	if d != nil {
		dv := viewDecision(d)
		v.Decision = &dv
	}
	return v
}

type imageView struct {
	ID        int64              `json:"id"`
	ArticleID int64              `json:"article_id"`
	Position  int                `json:"position"`
	SourceURL string             `json:"source_url"`
	Caption   string             `json:"caption,omitempty"`
	Width     int                `json:"width,omitempty"`
	Height    int                `json:"height,omitempty"`
	Format    string             `json:"format,omitempty"`
	Review    *types.ImageReview `json:"review,omitempty"`
}

func viewImage(img *types.ArticleImage) imageView {
	return imageView{
		ID:        img.ID,
		ArticleID: img.ArticleID,
		Position:  img.Position,
		SourceURL: img.SourceURL,
		Caption:   img.Caption,
		Width:     img.Width,
		Height:    img.Height,
		Format:    img.Format,
		Review:    img.Review,
	}
}

type taskView struct {
	ID            int64              `json:"id"`
	ArticleID     int64              `json:"article_id"`
	Provider      types.Provider     `json:"provider"`
	Status        types.TaskStatus   `json:"status"`
	Progress      int                `json:"progress"`
	CurrentStep   string             `json:"current_step,omitempty"`
	RetryCount    int                `json:"retry_count"`
	MaxRetries    int                `json:"max_retries"`
	CostUSD       float64            `json:"cost_usd"`
	DurationSecs  float64            `json:"duration_secs"`
	Screenshots   []types.Screenshot `json:"screenshots,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	CMSArticleID  string             `json:"cms_article_id,omitempty"`
	PublishedURL  string             `json:"published_url,omitempty"`
	CorrelationID string             `json:"correlation_id"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func viewTask(t *types.PublishTask) taskView {
	return taskView{
		ID:            t.ID,
		ArticleID:     t.ArticleID,
		Provider:      t.Provider,
		Status:        t.Status,
		Progress:      t.Progress,
		CurrentStep:   t.CurrentStep,
		RetryCount:    t.RetryCount,
		MaxRetries:    t.MaxRetries,
		CostUSD:       t.CostUSD,
		DurationSecs:  t.DurationSecs,
		Screenshots:   t.Screenshots,
		ErrorMessage:  t.ErrorMessage,
		CMSArticleID:  t.CMSArticleID,
		PublishedURL:  t.PublishedURL,
		CorrelationID: t.CorrelationID,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
		CreatedAt:     t.CreatedAt,
	}
}

type rulesetView struct {
	ID          int64               `json:"id"`
	Version     int                 `json:"version"`
	Status      types.RulesetStatus `json:"status"`
	Generation  int                 `json:"generation"`
	Publisher   string              `json:"publisher,omitempty"`
	PublishedAt *time.Time          `json:"published_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	Rules       []ruleView          `json:"rules,omitempty"`
}

func viewRuleset(rs *types.RuleSet, rules []*types.Rule) rulesetView {
	v := rulesetView{
		ID:          rs.ID,
		Version:     rs.Version,
		Status:      rs.Status,
		Generation:  rs.Generation,
		Publisher:   rs.Publisher,
		PublishedAt: rs.PublishedAt,
		CreatedAt:   rs.CreatedAt,
	}
	for _, r := range rules {
		v.Rules = append(v.Rules, viewRule(r))
	}
	return v
}

type ruleView struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	Class       types.RuleClass `json:"class"`
	Pattern     string          `json:"pattern"`
	Description string          `json:"description"`
	Severity    types.Severity  `json:"severity"`
	Enabled     bool            `json:"enabled"`
}

func viewRule(r *types.Rule) ruleView {
	return ruleView{
		ID:          r.ID,
		Code:        r.Code,
		Class:       r.Class(),
		Pattern:     r.Pattern,
		Description: r.Description,
		Severity:    r.Severity,
		Enabled:     r.Enabled,
	}
}

type mergeConflictView struct {
	IssueID       int64 `json:"issue_id"`
	ConflictsWith int64 `json:"conflicts_with"`
}

type mergeView struct {
	Applied     int                 `json:"applied"`
	Rejected    int                 `json:"rejected"`
	Deferred    int                 `json:"deferred"`
	Conflicts   []mergeConflictView `json:"conflicts,omitempty"`
	AppliedText string              `json:"applied_text,omitempty"`
}

// viewMerge renders a merge outcome. The applied body is included only
// for previews; finalize responses stay small because the stored
// article is the authority afterwards.
func viewMerge(m *proofread.MergeResult, withText bool) mergeView {
	v := mergeView{Applied: m.Applied, Rejected: m.Rejected, Deferred: m.Deferred}
	for _, c := range m.Conflicts {
		v.Conflicts = append(v.Conflicts, mergeConflictView{IssueID: c.IssueID, ConflictsWith: c.ConflictsWith})
	}
	if withText {
		v.AppliedText = m.AppliedText
	}
	return v
}
