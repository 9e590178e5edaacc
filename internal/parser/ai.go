package parser

import (
	"context"
	"fmt"
	"strings"

	"copydesk/internal/llm"
	"copydesk/internal/prompt"
	"copydesk/internal/sanitize"
	"copydesk/internal/types"
)

// aiArticle mirrors the JSON contract of the parse.article template.
type aiArticle struct {
	TitlePrefix     string    `json:"title_prefix"`
	TitleMain       string    `json:"title_main"`
	TitleSuffix     string    `json:"title_suffix"`
	AuthorRaw       string    `json:"author_raw"`
	AuthorName      string    `json:"author_name"`
	BodyHTML        string    `json:"body_html"`
	MetaDescription string    `json:"meta_description"`
	SEOKeywords     []string  `json:"seo_keywords"`
	Tags            []string  `json:"tags"`
	Categories      []string  `json:"categories"`
	Images          []aiImage `json:"images"`
}

type aiImage struct {
	SourceURL string `json:"source_url"`
	Caption   string `json:"caption"`
	Position  int    `json:"position"`
}

// parseAI runs the structured-extraction model call. Temperature is
// pinned to zero so re-parses stay reproducible.
func (p *Parser) parseAI(ctx context.Context, body string) (*types.Article, []types.ArticleImage, llm.Usage, float64, error) {
	system, user, err := prompt.Get().Render(prompt.ParseArticle, map[string]any{
		"RawHTML": body,
	})
	if err != nil {
		return nil, nil, llm.Usage{}, 0, err
	}

	resp, err := p.client.Generate(ctx, llm.Request{
		System:     system,
		Prompt:     user,
		JSONOutput: true,
		Timeout:    p.cfg.AICallTimeout(),
	})
	if p.metrics != nil {
		var usage llm.Usage
		var cost float64
		if resp != nil {
			usage, cost = resp.Usage, resp.CostUSD
		}
		p.metrics.RecordModelUsage("parser", err, int32(usage.InputTokens), int32(usage.OutputTokens), cost)
	}
	if err != nil {
		return nil, nil, llm.Usage{}, 0, err
	}

	var out aiArticle
	if err := llm.SmartParse(resp.Text, &out); err != nil {
		return nil, nil, resp.Usage, resp.CostUSD, fmt.Errorf("%w: %v", types.ErrGenerationFailed, err)
	}
	article, images, err := out.toArticle()
	if err != nil {
		return nil, nil, resp.Usage, resp.CostUSD, err
	}
	article.AIModelUsed = resp.Model
	return article, images, resp.Usage, resp.CostUSD, nil
}

// toArticle validates the model output and converts it. Unusable output
// is an ErrGenerationFailed so the caller falls back to the heuristic.
func (o *aiArticle) toArticle() (*types.Article, []types.ArticleImage, error) {
	if strings.TrimSpace(o.TitleMain) == "" {
		return nil, nil, fmt.Errorf("%w: empty title_main", types.ErrGenerationFailed)
	}
	if len(o.BodyHTML) < minBodyBytes {
		return nil, nil, fmt.Errorf("%w: body_html %d bytes, need %d", types.ErrGenerationFailed, len(o.BodyHTML), minBodyBytes)
	}

	clean, err := sanitize.Sanitize(o.BodyHTML)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: body rejected by sanitizer: %v", types.ErrGenerationFailed, err)
	}

	a := &types.Article{
		TitlePrefix:     strings.TrimSpace(o.TitlePrefix),
		TitleMain:       strings.TrimSpace(o.TitleMain),
		TitleSuffix:     strings.TrimSpace(o.TitleSuffix),
		AuthorName:      strings.TrimSpace(o.AuthorName),
		BodyHTML:        clean.HTML,
		BodyText:        clean.Text,
		MetaDescription: strings.TrimSpace(o.MetaDescription),
		SEOKeywords:     dropEmpty(o.SEOKeywords),
		Tags:            dropEmpty(o.Tags),
		Categories:      dropEmpty(o.Categories),
	}
	if a.AuthorName == "" && o.AuthorRaw != "" {
		a.AuthorName = trimAuthorLine(o.AuthorRaw)
	}

	images := make([]types.ArticleImage, 0, len(o.Images))
	for _, img := range o.Images {
		if strings.TrimSpace(img.SourceURL) == "" {
			continue
		}
		pos := img.Position
		if pos < 0 {
			pos = 0
		}
		images = append(images, types.ArticleImage{
			Position:  pos,
			SourceURL: strings.TrimSpace(img.SourceURL),
			Caption:   strings.TrimSpace(img.Caption),
		})
	}
	return a, images, nil
}

func dropEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
