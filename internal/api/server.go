// Package api exposes the operator REST surface: worklist reads and
// lane moves, proofreading decisions, image review, publish triggers,
// ruleset management and the rule-quality report. Authentication proper
// is external; the server only checks a shared bearer token and trusts
// the X-Operator header for attribution once that check passed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"copydesk/internal/config"
	"copydesk/internal/docstore"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/proofread"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

// Operator is the worklist surface the API drives. The orchestrator
// implements it; tests substitute a stub.
type Operator interface {
	Advance(ctx context.Context, itemID int64, to types.ItemStatus, actor string) error
	Reset(ctx context.Context, itemID int64, to types.ItemStatus, note, actor string) error
	AddNote(ctx context.Context, itemID int64, text, actor string) error
	RequestCancel(itemID int64) bool
	RequestReparse(ctx context.Context, itemID int64, actor string) error
	ReOptimize(ctx context.Context, itemID int64, actor string) error
	ReProofread(ctx context.Context, itemID int64, actor string) error
	FinalizeReview(ctx context.Context, itemID int64, actor string) (*proofread.MergeResult, error)
	TriggerPublish(ctx context.Context, itemID int64, provider types.Provider, actor string) (*types.PublishTask, error)
}

// Reviewer is the proofreading service surface behind the preview,
// ruleset and report endpoints.
type Reviewer interface {
	Preview(ctx context.Context, articleID int64) (*proofread.MergeResult, error)
	PublishRuleset(ctx context.Context, rulesetID int64, publisher string) (*types.RuleSet, error)
	BuildQualityReport(ctx context.Context) (*proofread.QualityReport, error)
	LatestQualityReport(ctx context.Context) (*proofread.QualityReport, error)
}

// SecretLister exposes vault key names. Values never cross this
// boundary.
type SecretLister interface {
	List(ctx context.Context) ([]string, error)
}

// Server hosts the operator API.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	ops      Operator
	reviews  Reviewer
	secrets  SecretLister
	docs     docstore.Client
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// NewServer wires the API against its collaborators. Metrics may be
// nil, which leaves the endpoint unmounted; readiness probes cover
// only the components actually wired.
func NewServer(cfg *config.Config, st *store.Store, ops Operator, reviews Reviewer, secrets SecretLister, docs docstore.Client, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		ops:      ops,
		reviews:  reviews,
		secrets:  secrets,
		docs:     docs,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Router assembles the chi route tree. Health and metrics stay outside
// the token check so probes and scrapers need no secret.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recovering, s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.API.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Operator"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Route("/worklist", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetItem)
				r.Get("/article", s.handleGetItemArticle)
				r.Put("/article", s.handleEditArticle)
				r.Post("/advance", s.handleAdvance)
				r.Post("/reset", s.handleReset)
				r.Post("/cancel", s.handleCancel)
				r.Post("/notes", s.handleAddNote)
				r.Post("/reparse", s.handleReparse)
				r.Post("/reoptimize", s.handleReOptimize)
				r.Post("/reproofread", s.handleReProofread)
				r.Post("/finalize", s.handleFinalize)
				r.Post("/publish", s.handleTriggerPublish)
				r.Post("/cost-cap", s.handleCostCap)
			})
		})

		r.Route("/articles/{id}", func(r chi.Router) {
			r.Get("/issues", s.handleListIssues)
			r.Get("/preview", s.handlePreview)
			r.Get("/images", s.handleListImages)
			r.Get("/tasks", s.handleListTasks)
		})

		r.Route("/issues/{id}", func(r chi.Router) {
			r.Post("/decision", s.handleSubmitDecision)
			r.Get("/history", s.handleDecisionHistory)
		})

		r.Post("/images/{id}/review", s.handleImageReview)
		r.Get("/tasks/{id}", s.handleGetTask)

		r.Route("/rulesets", func(r chi.Router) {
			r.Get("/", s.handleListRulesets)
			r.Post("/", s.handleCreateDraft)
			r.Get("/{id}", s.handleGetRuleset)
			r.Put("/{id}/rules", s.handleUpsertRule)
			r.Post("/{id}/publish", s.handlePublishRuleset)
			r.Post("/{id}/archive", s.handleArchiveRuleset)
		})

		r.Get("/reports/rule-quality", s.handleQualityReport)
		r.Get("/credentials", s.handleListCredentials)
	})
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.API.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.API("listening on %s", s.cfg.API.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
