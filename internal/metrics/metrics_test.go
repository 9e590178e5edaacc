package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersWithoutPanic(t *testing.T) {
	m := New()
	require.NotNil(t, m)

	// A second instance must not collide with the first.
	require.NotPanics(t, func() { New() })
}

func TestObserveStage(t *testing.T) {
	m := New()

	m.ObserveStage(StageParse, nil, 2*time.Second)
	m.ObserveStage(StageParse, errors.New("boom"), time.Second)

	ok := testutil.CollectAndCount(m.StageDuration)
	assert.Equal(t, 2, ok, "expected one series per outcome")
}

func TestRecordModelUsage(t *testing.T) {
	m := New()

	m.RecordModelUsage("optimizer", nil, 1000, 200, 0.0125)
	m.RecordModelUsage("optimizer", errors.New("timeout"), 0, 0, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AICalls.WithLabelValues("optimizer", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AICalls.WithLabelValues("optimizer", "error")))
	assert.Equal(t, float64(1000), testutil.ToFloat64(m.AITokens.WithLabelValues("optimizer", "input")))
	assert.InDelta(t, 0.0125, testutil.ToFloat64(m.AICostUSD.WithLabelValues("optimizer")), 1e-9)
}

func TestRecordPublishOutcome(t *testing.T) {
	m := New()

	m.RecordPublishOutcome("playwright", true)
	m.RecordPublishOutcome("playwright", false)
	m.RecordPublishOutcome("hybrid", true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishOutcomes.WithLabelValues("playwright", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishOutcomes.WithLabelValues("playwright", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishOutcomes.WithLabelValues("hybrid", "completed")))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.RecordTransition("pending", "parsing")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "copydesk_item_transitions_total")
}
