package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"copydesk/internal/types"
)

// FrontMatter carries author-supplied metadata overrides from a YAML
// preamble. Values present here win over anything either parsing
// strategy extracts.
type FrontMatter struct {
	Title       string   `yaml:"title"`
	Author      string   `yaml:"author"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Tags        []string `yaml:"tags"`
	Categories  []string `yaml:"categories"`
	AutoProcess *bool    `yaml:"auto_process"`
}

// SplitFrontMatter separates a leading "---" fenced YAML preamble from
// the document. Documents without a preamble come back unchanged with a
// nil FrontMatter. A preamble that is present but unparseable is
// reported as an error; the body is still returned so parsing can
// proceed without the overrides.
func SplitFrontMatter(raw string) (*FrontMatter, string, error) {
	const fence = "---"
	trimmed := strings.TrimLeft(raw, "\uFEFF")
	if !strings.HasPrefix(trimmed, fence) {
		return nil, raw, nil
	}

	rest := trimmed[len(fence):]
	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		return nil, raw, nil
	}
	end := len(fence) + idx + 1 + len(fence)
	tail := trimmed[end:]
	if tail != "" && !strings.HasPrefix(tail, "\n") && !strings.HasPrefix(tail, "\r\n") {
		return nil, raw, nil
	}

	body := strings.TrimPrefix(strings.TrimPrefix(tail, "\r\n"), "\n")
	yamlSrc := strings.TrimPrefix(rest[:idx+1], "\n")

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(yamlSrc), &fm); err != nil {
		return nil, body, fmt.Errorf("front matter: %w", err)
	}
	return &fm, body, nil
}

// apply overlays the front-matter fields onto a parsed article.
func (fm *FrontMatter) apply(a *types.Article) {
	if fm == nil {
		return
	}
	if t := strings.TrimSpace(fm.Title); t != "" {
		a.TitlePrefix, a.TitleMain, a.TitleSuffix = splitTitle(t)
	}
	if au := strings.TrimSpace(fm.Author); au != "" {
		a.AuthorName = au
	}
	if d := strings.TrimSpace(fm.Description); d != "" {
		a.MetaDescription = d
	}
	if len(fm.Keywords) > 0 {
		a.SEOKeywords = fm.Keywords
	}
	if len(fm.Tags) > 0 {
		a.Tags = fm.Tags
	}
	if len(fm.Categories) > 0 {
		a.Categories = fm.Categories
	}
}
