package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/config"
	"copydesk/internal/types"
)

func TestPublishableImages(t *testing.T) {
	images := []*types.ArticleImage{
		{ID: 1, Caption: "plain"},
		{ID: 2, Review: &types.ImageReview{Action: types.ImageRemove}},
		{ID: 3, Caption: "old", Review: &types.ImageReview{Action: types.ImageReplaceCaption, NewValue: "fresh"}},
		{ID: 4, SourceURL: "http://a/x.png", Review: &types.ImageReview{Action: types.ImageReplaceSource, NewValue: "http://a/y.png"}},
		{ID: 5, Review: &types.ImageReview{Action: types.ImageKeep}},
	}

	out := publishableImages(images)
	require.Len(t, out, 4)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, "fresh", out[1].Caption)
	assert.Equal(t, "http://a/y.png", out[2].SourceURL)
	assert.Equal(t, int64(5), out[3].ID)

	// Replacements copy; the loaded rows stay untouched.
	assert.Equal(t, "old", images[2].Caption)
	assert.Equal(t, "http://a/x.png", images[3].SourceURL)
}

func TestBackoffStaysInsideJitterBand(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.Initial = "2s"
	cfg.Retry.Factor = 2.0
	cfg.Retry.JitterPercent = 25
	m := &Manager{cfg: cfg}

	bases := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	}
	for retry, base := range bases {
		for i := 0; i < 25; i++ {
			d := m.backoff(retry)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75), "retry %d", retry)
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25), "retry %d", retry)
		}
	}
}

func TestBackoffWithoutJitterIsExact(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.Initial = "1s"
	cfg.Retry.Factor = 3.0
	cfg.Retry.JitterPercent = 0
	m := &Manager{cfg: cfg}

	assert.Equal(t, time.Second, m.backoff(1))
	assert.Equal(t, 3*time.Second, m.backoff(2))
	assert.Equal(t, 9*time.Second, m.backoff(3))
}

func TestAdoptionWindowMatchesDraftSearch(t *testing.T) {
	assert.Equal(t, 5*time.Minute, adoptionWindow)
	assert.Equal(t, 3*time.Second, absDuration(-3*time.Second))
	assert.Equal(t, 3*time.Second, absDuration(3*time.Second))
}
