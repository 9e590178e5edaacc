package optimizer

import (
	"fmt"
	"strings"

	"copydesk/internal/llm"
	"copydesk/internal/types"
)

// output mirrors the JSON contract of the optimize.article template.
type output struct {
	TitleSuggestions []titleSuggestion `json:"title_suggestions"`
	SEO              seoSuggestions    `json:"seo_suggestions"`
	FAQs             []faq             `json:"faqs"`
}

type titleSuggestion struct {
	Prefix     string  `json:"prefix"`
	Main       string  `json:"main"`
	Suffix     string  `json:"suffix"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

type seoSuggestions struct {
	Keywords struct {
		Focus     string   `json:"focus"`
		Primary   []string `json:"primary"`
		Secondary []string `json:"secondary"`
	} `json:"keywords"`
	MetaDescription string   `json:"meta_description"`
	MetaReasoning   string   `json:"meta_reasoning"`
	MetaScore       float64  `json:"meta_score"`
	Tags            []string `json:"tags"`
	TagReasoning    string   `json:"tag_reasoning"`
}

type faq struct {
	Question     string  `json:"question"`
	Answer       string  `json:"answer"`
	QuestionType string  `json:"question_type"`
	SearchIntent string  `json:"search_intent"`
	AIConfidence float64 `json:"ai_confidence"`
}

// decodeOutput parses and validates the model response. Title and SEO
// are mandatory; thin or missing FAQs degrade to warnings.
func decodeOutput(text string) (*output, []string, error) {
	var out output
	if err := llm.SmartParse(text, &out); err != nil {
		return nil, nil, err
	}

	titles := out.TitleSuggestions[:0]
	for _, tset := range out.TitleSuggestions {
		if strings.TrimSpace(tset.Main) != "" {
			titles = append(titles, tset)
		}
	}
	out.TitleSuggestions = titles

	if len(out.TitleSuggestions) == 0 {
		return nil, nil, fmt.Errorf("%w: no usable title suggestions", types.ErrGenerationFailed)
	}
	if strings.TrimSpace(out.SEO.Keywords.Focus) == "" {
		return nil, nil, fmt.Errorf("%w: missing focus keyword", types.ErrGenerationFailed)
	}
	if strings.TrimSpace(out.SEO.MetaDescription) == "" {
		return nil, nil, fmt.Errorf("%w: missing meta description", types.ErrGenerationFailed)
	}

	var warnings []string
	if n := len(out.FAQs); n < targetFAQCount {
		warnings = append(warnings, fmt.Sprintf("model returned %d faqs, wanted %d", n, targetFAQCount))
	}
	if out.SEO.MetaScore < 0 || out.SEO.MetaScore > 1 {
		warnings = append(warnings, fmt.Sprintf("meta_score %.2f outside [0,1], clamped", out.SEO.MetaScore))
		out.SEO.MetaScore = clamp01(out.SEO.MetaScore)
	}
	return &out, warnings, nil
}

// applyTo writes the suggestion fields onto the article. Operator-owned
// SEO fields are untouched; suggestions live alongside until the
// operator adopts them.
func (o *output) applyTo(a *types.Article) {
	a.SuggestedTitleSets = make([]types.TitleSuggestion, 0, len(o.TitleSuggestions))
	for _, tset := range o.TitleSuggestions {
		a.SuggestedTitleSets = append(a.SuggestedTitleSets, types.TitleSuggestion{
			Prefix:     strings.TrimSpace(tset.Prefix),
			Main:       strings.TrimSpace(tset.Main),
			Suffix:     strings.TrimSpace(tset.Suffix),
			Reasoning:  strings.TrimSpace(tset.Reasoning),
			Confidence: clamp01(tset.Confidence),
		})
	}

	a.SuggestedMetaDescription = strings.TrimSpace(o.SEO.MetaDescription)
	a.SuggestedSEOKeywords = types.KeywordSet{
		Focus:     strings.TrimSpace(o.SEO.Keywords.Focus),
		Primary:   trimAll(o.SEO.Keywords.Primary),
		Secondary: trimAll(o.SEO.Keywords.Secondary),
	}
	if len(a.Tags) == 0 {
		a.Tags = trimAll(o.SEO.Tags)
	}

	a.FAQProposals = make([]types.FAQ, 0, len(o.FAQs))
	for _, f := range o.FAQs {
		if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
			continue
		}
		a.FAQProposals = append(a.FAQProposals, types.FAQ{
			Question:     strings.TrimSpace(f.Question),
			Answer:       strings.TrimSpace(f.Answer),
			QuestionType: f.QuestionType,
			SearchIntent: f.SearchIntent,
			AIConfidence: clamp01(f.AIConfidence),
		})
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
