package optimizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/config"
	"copydesk/internal/llm"
	"copydesk/internal/store"
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

type fakeArticles struct {
	getFunc     func(ctx context.Context, id int64) (*types.Article, error)
	updateFunc  func(ctx context.Context, a *types.Article, costUSD float64) error
	addCostFunc func(ctx context.Context, id int64, costUSD float64) error
}

func (f *fakeArticles) Get(ctx context.Context, id int64) (*types.Article, error) {
	return f.getFunc(ctx, id)
}

func (f *fakeArticles) UpdateSuggestions(ctx context.Context, a *types.Article, costUSD float64) error {
	if f.updateFunc == nil {
		return nil
	}
	return f.updateFunc(ctx, a, costUSD)
}

func (f *fakeArticles) AddGenerationCost(ctx context.Context, id int64, costUSD float64) error {
	if f.addCostFunc == nil {
		return nil
	}
	return f.addCostFunc(ctx, id, costUSD)
}

type fakeCosts struct {
	recordFunc func(ctx context.Context, e store.CostEntry) error
	totalFunc  func(ctx context.Context, articleID int64) (float64, error)
}

func (f *fakeCosts) Record(ctx context.Context, e store.CostEntry) error {
	if f.recordFunc == nil {
		return nil
	}
	return f.recordFunc(ctx, e)
}

func (f *fakeCosts) ArticleTotal(ctx context.Context, articleID int64) (float64, error) {
	if f.totalFunc == nil {
		return 0, nil
	}
	return f.totalFunc(ctx, articleID)
}

const optJSON = `{
	"title_suggestions": [
		{"main": "Faster Pages With Edge Caching", "reasoning": "keyword up front", "confidence": 0.9},
		{"prefix": "【Guide】", "main": "Edge Caching in Practice", "reasoning": "guide framing", "confidence": 0.8}
	],
	"seo_suggestions": {
		"keywords": {
			"focus": "edge caching",
			"primary": ["cache policy", "cdn", "latency"],
			"secondary": ["hit ratio", "origin load", "ttl", "purge", "stale-while-revalidate"]
		},
		"meta_description": "Learn how edge caching cuts page latency, what cache policies matter, and how to keep hit ratios high without serving stale articles to readers.",
		"meta_reasoning": "covers focus keyword and benefit",
		"meta_score": 0.86,
		"tags": ["caching", "cdn", "performance"],
		"tag_reasoning": "topic tags"
	},
	"faqs": [
		{"question": "What is edge caching?", "answer": "It stores copies of content near readers.", "question_type": "what", "search_intent": "informational", "ai_confidence": 0.9},
		{"question": "How do I pick a TTL?", "answer": "Balance freshness against hit ratio.", "question_type": "how", "search_intent": "informational", "ai_confidence": 0.8}
	]
}`

func baseArticle() *types.Article {
	return &types.Article{
		ID:        7,
		TitleMain: "Edge Caching",
		BodyText:  "Edge caching moves article content closer to readers.",
	}
}

func newEngine(t *testing.T, client llm.Client, articles ArticleStore, costs CostLedger) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	return New(cfg, client, articles, costs, nil)
}

func TestGenerateAll(t *testing.T) {
	var updated *types.Article
	var updatedCost float64
	var recorded []store.CostEntry

	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			assert.True(t, req.JSONOutput)
			return &llm.Response{
				Text:    optJSON,
				Usage:   llm.Usage{InputTokens: 2000, OutputTokens: 900},
				CostUSD: 0.012,
				Model:   "gemini-2.5-flash",
			}, nil
		},
	}
	articles := &fakeArticles{
		getFunc: func(ctx context.Context, id int64) (*types.Article, error) { return baseArticle(), nil },
		updateFunc: func(ctx context.Context, a *types.Article, costUSD float64) error {
			updated, updatedCost = a, costUSD
			return nil
		},
	}
	costs := &fakeCosts{
		recordFunc: func(ctx context.Context, e store.CostEntry) error {
			recorded = append(recorded, e)
			return nil
		},
	}

	e := newEngine(t, client, articles, costs)
	res, err := e.GenerateAll(context.Background(), 7, false)
	require.NoError(t, err)

	require.NotNil(t, updated)
	assert.Len(t, updated.SuggestedTitleSets, 2)
	assert.Equal(t, "edge caching", updated.SuggestedSEOKeywords.Focus)
	assert.Len(t, updated.SuggestedSEOKeywords.Primary, 3)
	assert.Len(t, updated.FAQProposals, 2)
	assert.Equal(t, 0.012, updatedCost)
	assert.Equal(t, "gemini-2.5-flash", updated.AIModelUsed)

	require.Len(t, recorded, 1)
	assert.Equal(t, "optimizer", recorded[0].Component)
	assert.Equal(t, int64(7), recorded[0].ArticleID)

	assert.False(t, res.Shared)
	assert.False(t, res.Cached)
	assert.Equal(t, 0.012, res.CostUSD)
	// Two FAQs is under target, so a warning surfaces.
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "faqs")
}

func TestGenerateAllReturnsExistingWithoutRegenerate(t *testing.T) {
	calls := 0
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			calls++
			return &llm.Response{Text: optJSON}, nil
		},
	}
	articles := &fakeArticles{
		getFunc: func(ctx context.Context, id int64) (*types.Article, error) {
			a := baseArticle()
			a.SuggestedTitleSets = []types.TitleSuggestion{{Main: "Existing"}}
			return a, nil
		},
	}

	e := newEngine(t, client, articles, &fakeCosts{})
	res, err := e.GenerateAll(context.Background(), 7, false)
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "Existing", res.Article.SuggestedTitleSets[0].Main)
}

func TestGenerateAllRegenerateForcesCall(t *testing.T) {
	calls := 0
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			calls++
			return &llm.Response{Text: optJSON, Model: "gemini-2.5-flash"}, nil
		},
	}
	articles := &fakeArticles{
		getFunc: func(ctx context.Context, id int64) (*types.Article, error) {
			a := baseArticle()
			a.SuggestedTitleSets = []types.TitleSuggestion{{Main: "Existing"}}
			return a, nil
		},
	}

	e := newEngine(t, client, articles, &fakeCosts{})
	res, err := e.GenerateAll(context.Background(), 7, true)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.False(t, res.Cached)
	assert.Equal(t, "Faster Pages With Edge Caching", res.Article.SuggestedTitleSets[0].Main)
}

func TestGenerateAllCostCap(t *testing.T) {
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			t.Fatal("model must not be called past the cap")
			return nil, nil
		},
	}
	updateCalled := false
	articles := &fakeArticles{
		getFunc: func(ctx context.Context, id int64) (*types.Article, error) { return baseArticle(), nil },
		updateFunc: func(ctx context.Context, a *types.Article, costUSD float64) error {
			updateCalled = true
			return nil
		},
	}
	costs := &fakeCosts{
		totalFunc: func(ctx context.Context, articleID int64) (float64, error) {
			return 0.50, nil // already at the cap
		},
	}

	e := newEngine(t, client, articles, costs)
	_, err := e.GenerateAll(context.Background(), 7, false)
	require.ErrorIs(t, err, types.ErrCostCapExceeded)
	assert.False(t, updateCalled)
}

func TestGenerateAllSchemaViolation(t *testing.T) {
	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return &llm.Response{
				Text:    `{"title_suggestions": [], "seo_suggestions": {}, "faqs": []}`,
				Model:   "gemini-2.5-flash",
				Usage:   llm.Usage{InputTokens: 900, OutputTokens: 40},
				CostUSD: 0.011,
			}, nil
		},
	}
	updateCalled := false
	var bookedCost float64
	articles := &fakeArticles{
		getFunc: func(ctx context.Context, id int64) (*types.Article, error) { return baseArticle(), nil },
		updateFunc: func(ctx context.Context, a *types.Article, costUSD float64) error {
			updateCalled = true
			return nil
		},
		addCostFunc: func(ctx context.Context, id int64, costUSD float64) error {
			bookedCost = costUSD
			return nil
		},
	}
	var entries []store.CostEntry
	costs := &fakeCosts{
		recordFunc: func(ctx context.Context, e store.CostEntry) error {
			entries = append(entries, e)
			return nil
		},
	}

	e := newEngine(t, client, articles, costs)
	_, err := e.GenerateAll(context.Background(), 7, false)
	require.ErrorIs(t, err, types.ErrGenerationFailed)
	assert.False(t, updateCalled, "existing suggestions must stay intact")

	// The wasted call is still paid for.
	assert.InDelta(t, 0.011, bookedCost, 1e-9)
	require.Len(t, entries, 1)
	assert.Equal(t, "optimizer", entries[0].Component)
	assert.InDelta(t, 0.011, entries[0].CostUSD, 1e-9)
}

func TestGenerateAllCollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	client := &fakeClient{
		generateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			if calls.Add(1) == 1 {
				close(entered)
			}
			<-release
			return &llm.Response{Text: optJSON, Model: "gemini-2.5-flash"}, nil
		},
	}
	articles := &fakeArticles{
		getFunc: func(ctx context.Context, id int64) (*types.Article, error) { return baseArticle(), nil },
	}

	e := newEngine(t, client, articles, &fakeCosts{})

	var wg sync.WaitGroup
	var shared atomic.Int32
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			res, err := e.GenerateAll(context.Background(), 7, false)
			assert.NoError(t, err)
			if res != nil && res.Shared {
				shared.Add(1)
			}
		}()
	}

	<-entered
	// Give the second caller time to join the in-flight call.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent calls must collapse")
	assert.Equal(t, int32(2), shared.Load(), "both callers see the shared result")
}
