package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/config"
	"copydesk/internal/llm"
	"copydesk/internal/types"
)

type fakeClient struct {
	generateFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)
}

func (f *fakeClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f.generateFunc(ctx, req)
}

func (f *fakeClient) GenerateVision(ctx context.Context, req llm.VisionRequest) (*llm.Response, error) {
	return nil, errors.New("not used")
}

const sampleDoc = `<html><body>
<h1>【NEWS】Edge Caching Explained: A Field Guide</h1>
<p>來源: example.com | 2024/03/12 | 14:30</p>
<p>文/林小美</p>
<p>Edge caching moves article content closer to readers so pages load faster even under heavy traffic conditions worldwide.</p>
<figure><img src="https://cdn.example.com/a.png" alt="cache diagram"><figcaption>How a cache tier sits in front of origin</figcaption></figure>
<p>Operators tune cache expiry per route. Cache expiry controls freshness while cache hit ratio controls cost. A good cache policy balances both cache goals.</p>
<p><img src="https://cdn.example.com/b.png" alt="hit ratio chart"></p>
<p>Monitoring cache behaviour over time shows when the cache policy needs another pass.</p>
</body></html>`

func aiJSON() string {
	return `{
		"title_prefix": "【NEWS】",
		"title_main": "Edge Caching Explained",
		"title_suffix": "A Field Guide",
		"author_raw": "文/林小美",
		"author_name": "林小美",
		"body_html": "<p>Edge caching moves article content closer to readers so pages load faster even under heavy traffic conditions worldwide.</p><p>Operators tune cache expiry per route to balance freshness against cost.</p>",
		"meta_description": "Edge caching moves article content closer to readers so pages load faster.",
		"seo_keywords": ["edge caching", "cache expiry"],
		"tags": ["infrastructure"],
		"categories": [],
		"images": [{"source_url": "https://cdn.example.com/a.png", "caption": "diagram", "position": 0}]
	}`
}

func testConfig(useAI bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Parser.UseAI = useAI
	cfg.Parser.HeuristicFallback = true
	return cfg
}

func TestParseDocumentAIStrategy(t *testing.T) {
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			assert.True(t, req.JSONOutput)
			return &llm.Response{
				Text:    aiJSON(),
				Usage:   llm.Usage{InputTokens: 900, OutputTokens: 300},
				CostUSD: 0.002,
				Model:   "gemini-2.5-flash",
			}, nil
		},
	}

	p := New(testConfig(true), client, nil)
	res, err := p.ParseDocument(context.Background(), sampleDoc)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, types.ParsingMethodAI, res.Method)
	assert.InDelta(t, types.AIParsingConfidence, res.Confidence, 1e-9)
	assert.Equal(t, "Edge Caching Explained", res.Article.TitleMain)
	assert.Equal(t, "【NEWS】", res.Article.TitlePrefix)
	assert.Equal(t, "林小美", res.Article.AuthorName)
	assert.NotEmpty(t, res.Article.BodyText)
	assert.Equal(t, 0.002, res.CostUSD)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "https://cdn.example.com/a.png", res.Images[0].SourceURL)
}

func TestParseDocumentFallsBackOnBadModelOutput(t *testing.T) {
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: `{"title_main": ""}`}, nil
		},
	}

	p := New(testConfig(true), client, nil)
	res, err := p.ParseDocument(context.Background(), sampleDoc)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, types.ParsingMethodHeuristic, res.Method)
	assert.InDelta(t, types.HeuristicParsingConfidence, res.Confidence, 1e-9)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "ai strategy")
}

func TestParseDocumentFallbackDisabled(t *testing.T) {
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return nil, errors.New("model offline")
		},
	}

	cfg := testConfig(true)
	cfg.Parser.HeuristicFallback = false
	p := New(cfg, client, nil)

	res, err := p.ParseDocument(context.Background(), sampleDoc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Article)
	require.Len(t, res.Errors, 1)
}

func TestParseDocumentHeuristicOnly(t *testing.T) {
	p := New(testConfig(false), nil, nil)

	res, err := p.ParseDocument(context.Background(), sampleDoc)
	require.NoError(t, err)
	require.True(t, res.Success)

	a := res.Article
	assert.Equal(t, "【NEWS】", a.TitlePrefix)
	assert.Equal(t, "Edge Caching Explained", a.TitleMain)
	assert.Equal(t, "A Field Guide", a.TitleSuffix)
	assert.Equal(t, "林小美", a.AuthorName)
	assert.NotContains(t, a.BodyHTML, "<img")
	assert.NotContains(t, a.BodyText, "來源")
	assert.NotEmpty(t, a.MetaDescription)
	assert.NotEmpty(t, a.SEOKeywords)

	require.Len(t, res.Images, 2)
	assert.Equal(t, "How a cache tier sits in front of origin", res.Images[0].Caption)
	assert.Equal(t, "hit ratio chart", res.Images[1].Caption)
	assert.Greater(t, res.Images[1].Position, res.Images[0].Position)
}

func TestParseDocumentBothStrategiesFail(t *testing.T) {
	p := New(testConfig(false), nil, nil)

	res, err := p.ParseDocument(context.Background(), "<html><body><script>x()</script></body></html>")
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
}

func TestParseDocumentContextCancelled(t *testing.T) {
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return nil, context.Canceled
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(testConfig(true), client, nil)
	_, err := p.ParseDocument(ctx, sampleDoc)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFrontMatterOverrides(t *testing.T) {
	doc := `---
title: Overridden Title
author: Overridden Author
tags: [a, b]
---
<p>Edge caching moves article content closer to readers so pages load faster even under heavy traffic conditions worldwide and beyond.</p>`

	p := New(testConfig(false), nil, nil)
	res, err := p.ParseDocument(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, "Overridden Title", res.Article.TitleMain)
	assert.Equal(t, "Overridden Author", res.Article.AuthorName)
	assert.Equal(t, []string{"a", "b"}, res.Article.Tags)
}

func TestFrontMatterInvalidYAMLIsWarning(t *testing.T) {
	doc := "---\ntags: [unclosed\n---\n<p>Edge caching moves article content closer to readers so pages load faster even under heavy traffic conditions worldwide and beyond.</p>"

	p := New(testConfig(false), nil, nil)
	res, err := p.ParseDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)
}
