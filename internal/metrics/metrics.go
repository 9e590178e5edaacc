// Package metrics exposes the service's Prometheus collectors.
// Collectors register on an instance-owned registry rather than the
// global default so tests can build isolated instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "copydesk"

// Stage labels used by the duration histograms and queue gauges.
const (
	StageSync      = "sync"
	StageParse     = "parse"
	StageOptimize  = "optimize"
	StageProofread = "proofread"
	StagePublish   = "publish"
	StageReport    = "report"
)

// Metrics holds every collector the service emits.
type Metrics struct {
	registry *prometheus.Registry

	// Worklist lifecycle.
	ItemTransitions *prometheus.CounterVec
	ItemResets      prometheus.Counter
	StageDuration   *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	ActiveWorkers   *prometheus.GaugeVec
	ItemsByStatus   *prometheus.GaugeVec

	// Document store synchronization.
	SyncRuns      *prometheus.CounterVec
	SyncDocuments *prometheus.CounterVec

	// Model usage.
	AICalls     *prometheus.CounterVec
	AITokens    *prometheus.CounterVec
	AICostUSD   *prometheus.CounterVec
	CostCapHits prometheus.Counter

	// Review activity.
	Decisions         *prometheus.CounterVec
	DecisionConflicts prometheus.Counter
	IssuesRaised      *prometheus.CounterVec

	// Publishing.
	PublishOutcomes   *prometheus.CounterVec
	PublishRetries    prometheus.Counter
	DraftAdoptions    prometheus.Counter
	ScreenshotsStored prometheus.Counter
}

// New builds a Metrics instance with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		ItemTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_transitions_total",
			Help:      "Worklist item state transitions by from/to lane.",
		}, []string{"from", "to"}),
		ItemResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_resets_total",
			Help:      "Operator resets out of the failed lane.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of pipeline stage executions.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage", "outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in each stage queue.",
		}, []string{"stage"}),
		ActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently executing a job per stage.",
		}, []string{"stage"}),
		ItemsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_by_status",
			Help:      "Worklist items per lane, refreshed by the sync loop.",
		}, []string{"status"}),

		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Document store sync passes by outcome.",
		}, []string{"outcome"}),
		SyncDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_documents_total",
			Help:      "Documents seen during sync by result.",
		}, []string{"result"}),

		AICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_calls_total",
			Help:      "Model calls by component and outcome.",
		}, []string{"component", "outcome"}),
		AITokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "Tokens consumed by component and direction.",
		}, []string{"component", "direction"}),
		AICostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_cost_usd_total",
			Help:      "Accumulated model spend in USD by component.",
		}, []string{"component"}),
		CostCapHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_cap_hits_total",
			Help:      "Model calls refused because the per-article cap was reached.",
		}),

		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Operator decisions on proofreading issues by kind.",
		}, []string{"decision"}),
		DecisionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_conflicts_total",
			Help:      "Decisions skipped at finalize because of overlapping edits.",
		}),
		IssuesRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_raised_total",
			Help:      "Proofreading issues raised by severity.",
		}, []string{"severity"}),

		PublishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_outcomes_total",
			Help:      "Terminal publish task outcomes by provider.",
		}, []string{"provider", "outcome"}),
		PublishRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_retries_total",
			Help:      "Publish attempts beyond the first.",
		}),
		DraftAdoptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_adoptions_total",
			Help:      "Retries that adopted a draft created by an earlier attempt.",
		}),
		ScreenshotsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_stored_total",
			Help:      "Publish step screenshots written to blob storage.",
		}),
	}

	reg.MustRegister(
		m.ItemTransitions, m.ItemResets, m.StageDuration, m.QueueDepth,
		m.ActiveWorkers, m.ItemsByStatus,
		m.SyncRuns, m.SyncDocuments,
		m.AICalls, m.AITokens, m.AICostUSD, m.CostCapHits,
		m.Decisions, m.DecisionConflicts, m.IssuesRaised,
		m.PublishOutcomes, m.PublishRetries, m.DraftAdoptions, m.ScreenshotsStored,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// RecordTransition counts a worklist lane change.
func (m *Metrics) RecordTransition(from, to string) {
	m.ItemTransitions.WithLabelValues(from, to).Inc()
}

// RecordModelUsage books one model call's tokens and spend.
func (m *Metrics) RecordModelUsage(component string, err error, inputTokens, outputTokens int32, costUSD float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AICalls.WithLabelValues(component, outcome).Inc()
	m.AITokens.WithLabelValues(component, "input").Add(float64(inputTokens))
	m.AITokens.WithLabelValues(component, "output").Add(float64(outputTokens))
	m.AICostUSD.WithLabelValues(component).Add(costUSD)
}

// RecordPublishOutcome counts a terminal publish task state.
func (m *Metrics) RecordPublishOutcome(provider string, success bool) {
	outcome := "completed"
	if !success {
		outcome = "failed"
	}
	m.PublishOutcomes.WithLabelValues(provider, outcome).Inc()
}

// SetStatusCounts refreshes the per-lane item gauges.
func (m *Metrics) SetStatusCounts(counts map[string]int) {
	for status, n := range counts {
		m.ItemsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
