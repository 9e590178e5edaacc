package types

import (
	"strings"
	"time"
)

// ParsingMethod records which strategy produced the article.
type ParsingMethod string

const (
	ParsingMethodAI        ParsingMethod = "ai"
	ParsingMethodHeuristic ParsingMethod = "heuristic"
)

// Declared parser confidence per strategy.
const (
	AIParsingConfidence        = 0.95
	HeuristicParsingConfidence = 0.70
)

// ArticleStatus is the workflow-scoped status on the article itself,
// distinct from the worklist lane.
type ArticleStatus string

const (
	ArticleDraft          ArticleStatus = "draft"
	ArticleInReview       ArticleStatus = "in-review"
	ArticleReadyToPublish ArticleStatus = "ready-to-publish"
	ArticlePublishing     ArticleStatus = "publishing"
	ArticlePublished      ArticleStatus = "published"
	ArticleFailed         ArticleStatus = "failed"
)

// TitleSuggestion is one AI-proposed title variant.
type TitleSuggestion struct {
	Prefix     string  `json:"prefix,omitempty"`
	Main       string  `json:"main"`
	Suffix     string  `json:"suffix,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Display returns the concatenated display form of the title variant.
func (t TitleSuggestion) Display() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Prefix, t.Main, t.Suffix} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, " ")
}

// KeywordSet is the tiered SEO keyword proposal.
type KeywordSet struct {
	Focus     string   `json:"focus"`
	Primary   []string `json:"primary"`
	Secondary []string `json:"secondary"`
}

// FAQ is one AI-proposed question/answer pair.
type FAQ struct {
	Question     string  `json:"question"`
	Answer       string  `json:"answer"`
	QuestionType string  `json:"question_type,omitempty"`
	SearchIntent string  `json:"search_intent,omitempty"`
	AIConfidence float64 `json:"ai_confidence"`
}

// Article is the parsed, structured representation of a document,
// one-to-one with a WorklistItem once parsing succeeds. Suggestion
// fields are AI-generated advice and treated as immutable; operators
// edit the SEO fields directly.
type Article struct {
	ID             int64
	WorklistItemID *int64

	TitlePrefix string
	TitleMain   string
	TitleSuffix string
	AuthorName  string

	BodyHTML string
	BodyText string

	// Operator-editable SEO fields.
	MetaDescription string
	SEOKeywords     []string
	Tags            []string
	Categories      []string

	// AI-generated suggestions.
	SuggestedTitleSets       []TitleSuggestion
	SuggestedMetaDescription string
	SuggestedSEOKeywords     KeywordSet
	FAQProposals             []FAQ

	// Parsing audit.
	ParsingMethod      ParsingMethod
	ParsingConfidence  float64
	ParsingConfirmed   bool
	ParsingConfirmedBy string
	ParsingConfirmedAt *time.Time

	// Publication audit.
	CMSArticleID string
	PublishedURL string
	PublishedAt  *time.Time
	Status       ArticleStatus

	// Cost accounting, summed across optimization calls.
	AIModelUsed       string
	GenerationCostUSD float64

	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayTitle returns prefix+main+suffix joined for rendering.
func (a *Article) DisplayTitle() string {
	return TitleSuggestion{Prefix: a.TitlePrefix, Main: a.TitleMain, Suffix: a.TitleSuffix}.Display()
}

// ImageAction is the operator decision on an extracted image.
type ImageAction string

const (
	ImageKeep           ImageAction = "keep"
	ImageRemove         ImageAction = "remove"
	ImageReplaceCaption ImageAction = "replace_caption"
	ImageReplaceSource  ImageAction = "replace_source"
)

// ImageReview is the zero-or-one operator decision on an image.
type ImageReview struct {
	Action   ImageAction `json:"action"`
	NewValue string      `json:"new_value,omitempty"`
	Notes    string      `json:"notes,omitempty"`
}

// ArticleImage is an image reference extracted from the document body.
// Position is the paragraph index; unique per article, dense but not
// gap-free after removals.
type ArticleImage struct {
	ID            int64
	ArticleID     int64
	Position      int
	SourceURL     string
	PreviewPath   string
	SourcePath    string
	Caption       string
	Width         int
	Height        int
	FileSizeBytes int64
	Format        string
	Review        *ImageReview
	CreatedAt     time.Time
}
