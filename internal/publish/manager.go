package publish

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"

	"copydesk/internal/cms"
	"copydesk/internal/config"
	"copydesk/internal/llm"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/store"
	"copydesk/internal/types"
	"copydesk/internal/vault"
)

// Vault keys for the CMS login. Values travel straight from the vault
// into the browser session and nowhere else.
const (
	credKeyUsername = "cms_username"
	credKeyPassword = "cms_password"
)

// SelectorSource yields the current selector map. cms.Watcher.Current
// satisfies it; tests hand in a literal.
type SelectorSource func() *cms.SelectorMap

// Manager owns the publish task lifecycle: the durable row before any
// CMS interaction, provider selection, bounded retries with backoff,
// draft adoption on retry and cost accounting across attempts.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	vault     *vault.Vault
	selectors SelectorSource
	shots     ShotStore
	providers map[types.Provider]Provider
	metrics   *metrics.Metrics
}

// NewManager wires the three providers against shared infrastructure.
func NewManager(cfg *config.Config, st *store.Store, vlt *vault.Vault, client llm.Client, selectors SelectorSource, shots ShotStore, m *metrics.Metrics) *Manager {
	headless := cfg.Publisher.CMS.Headless
	browser := NewBrowserProvider(headless, shots)
	agent := NewComputerUseProvider(headless, shots, client, cfg.LLM.ComputerUseModel, cfg.AICallTimeout(), m)
	return &Manager{
		cfg:       cfg,
		store:     st,
		vault:     vlt,
		selectors: selectors,
		shots:     shots,
		providers: map[types.Provider]Provider{
			types.ProviderPlaywright:  browser,
			types.ProviderComputerUse: agent,
			types.ProviderHybrid:      NewHybridProvider(browser, agent),
		},
		metrics: m,
	}
}

// Begin creates the durable task row. An empty provider falls back to
// the configured default. A second active task on the same article is
// refused with ErrBusy.
func (m *Manager) Begin(ctx context.Context, articleID int64, provider types.Provider, correlationID string) (*types.PublishTask, error) {
	if provider == "" {
		provider = types.Provider(m.cfg.Publisher.Provider)
	}
	if !types.ValidProvider(provider) {
		return nil, fmt.Errorf("%w: unknown provider %q", types.ErrInvariant, provider)
	}

	active, err := m.store.Tasks.ActiveForArticle(ctx, articleID)
	if err == nil {
		return nil, fmt.Errorf("%w: task %d already active for article %d", types.ErrBusy, active.ID, articleID)
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	task, err := m.store.Tasks.Create(ctx, articleID, provider, m.cfg.Publisher.MaxRetries, correlationID)
	if err != nil {
		return nil, err
	}
	logging.Publish("task %d created for article %d (provider=%s)", task.ID, articleID, provider)
	return task, nil
}

// Run drives the task to a terminal state and returns the terminal row.
// The returned error covers infrastructure trouble only; a failed
// publish is reported through the task's status and error message.
func (m *Manager) Run(ctx context.Context, taskID int64) (*types.PublishTask, error) {
	task, err := m.store.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if types.IsTerminalTask(task.Status) {
		return task, nil
	}

	article, err := m.store.Articles.Get(ctx, task.ArticleID)
	if err != nil {
		return nil, err
	}
	images, err := m.store.Images.ListByArticle(ctx, task.ArticleID)
	if err != nil {
		return nil, err
	}
	images = publishableImages(images)

	creds, err := m.credentials(ctx)
	if err != nil {
		// Missing or unreachable credentials fail the task outright;
		// an operator has to fix the vault before another try.
		return m.fail(task, fmt.Errorf("cms credentials: %w", err), 0)
	}

	m.mirrorArticleStatus(ctx, task, types.ArticlePublishing)

	for {
		task, err = m.store.Tasks.Start(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		attempt := task.RetryCount + 1
		logging.AuditWithCorrelation(task.CorrelationID).PublishAttempt(task.ArticleID, task.ID, string(task.Provider), attempt)
		logging.Publish("task %d attempt %d/%d (provider=%s)", task.ID, attempt, task.MaxRetries+1, task.Provider)

		if task.RetryCount > 0 {
			adopted, aerr := m.tryAdopt(ctx, task, article, creds)
			if aerr != nil {
				logging.PublishWarn("task %d adoption check: %v", task.ID, aerr)
			}
			if adopted != nil {
				return adopted, nil
			}
		}

		out := m.attempt(ctx, task, article, images, creds)
		m.persistShots(task.ID, out.Screenshots)

		if out.Success {
			return m.complete(ctx, task, out)
		}

		cause := out.Err
		if cause == nil {
			cause = errors.New("publish attempt failed")
		}
		if ctx.Err() == nil && types.IsTransient(cause) && task.CanRetry() {
			retried, rerr := m.store.Tasks.IncrementRetry(ctx, task.ID)
			if rerr == nil {
				task = retried
				if out.CostUSD > 0 {
					if cerr := m.store.Tasks.AddCost(ctx, task.ID, out.CostUSD); cerr != nil {
						logging.PublishWarn("task %d cost carry: %v", task.ID, cerr)
					}
				}
				if m.metrics != nil {
					m.metrics.PublishRetries.Inc()
				}
				delay := m.backoff(task.RetryCount)
				logging.PublishWarn("task %d attempt %d failed (%v); retrying in %s", task.ID, attempt, cause, delay.Round(time.Millisecond))
				select {
				case <-ctx.Done():
					return m.fail(task, fmt.Errorf("%w: %v", types.ErrCancelled, ctx.Err()), 0)
				case <-time.After(delay):
				}
				continue
			}
			logging.PublishWarn("task %d retry refused: %v", task.ID, rerr)
		}
		return m.fail(task, cause, out.CostUSD)
	}
}

// Cancel marks the task cancelled. The running attempt, if any, unwinds
// through its context; CMS side effects are not rolled back.
func (m *Manager) Cancel(ctx context.Context, taskID int64) (*types.PublishTask, error) {
	task, err := m.store.Tasks.Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordPublishOutcome(string(task.Provider), false)
	}
	logging.Publish("task %d cancelled at step %s (%d%%)", task.ID, task.CurrentStep, task.Progress)
	return task, nil
}

// Resume sweeps tasks stranded by a process restart. Never-started
// tasks and tasks with retry budget left are returned for re-running;
// exhausted tasks get one final adoption look and otherwise fail.
func (m *Manager) Resume(ctx context.Context) ([]*types.PublishTask, error) {
	stranded, err := m.store.Tasks.Interrupted(ctx)
	if err != nil {
		return nil, err
	}
	if len(stranded) == 0 {
		return nil, nil
	}
	logging.Publish("recovering %d interrupted publish tasks", len(stranded))

	var rerun []*types.PublishTask
	for _, task := range stranded {
		if task.StartedAt == nil {
			// Never reached the CMS; safe to run as a first attempt.
			rerun = append(rerun, task)
			continue
		}
		if task.CanRetry() {
			retried, rerr := m.store.Tasks.IncrementRetry(ctx, task.ID)
			if rerr != nil {
				logging.PublishWarn("task %d restart retry refused: %v", task.ID, rerr)
				continue
			}
			rerun = append(rerun, retried)
			continue
		}

		article, aerr := m.store.Articles.Get(ctx, task.ArticleID)
		if aerr == nil {
			if creds, cerr := m.credentials(ctx); cerr == nil {
				if adopted, derr := m.tryAdopt(ctx, task, article, creds); derr == nil && adopted != nil {
					continue
				}
			}
		}
		if _, ferr := m.fail(task, errors.New("process restarted mid-publish; retry budget exhausted and no draft found to adopt"), 0); ferr != nil {
			logging.PublishError("task %d restart fail: %v", task.ID, ferr)
		}
	}
	return rerun, nil
}

// attempt runs one provider attempt under the total publish timeout.
func (m *Manager) attempt(ctx context.Context, task *types.PublishTask, article *types.Article, images []*types.ArticleImage, creds Credentials) *Outcome {
	provider, ok := m.providers[task.Provider]
	if !ok {
		return &Outcome{Err: fmt.Errorf("%w: no provider %q", types.ErrInvariant, task.Provider)}
	}

	req := &Request{
		Task:        task,
		Article:     article,
		Images:      images,
		BaseURL:     m.cfg.Publisher.CMS.BaseURL,
		Selectors:   m.selectors(),
		Creds:       creds,
		StepTimeout: m.cfg.StepTimeout(),
		Progress:    m.sink(task.ID),
	}

	actx, cancel := context.WithTimeout(ctx, m.cfg.TotalTimeout())
	defer cancel()

	out, _ := provider.Publish(actx, req)
	if out == nil {
		out = &Outcome{Err: errors.New("provider returned no outcome")}
	}
	if out.Err != nil && actx.Err() != nil && ctx.Err() == nil {
		out.Err = fmt.Errorf("%w: publish exceeded %s: %v", types.ErrTimeout, m.cfg.Publisher.TotalTimeout, out.Err)
	}
	return out
}

// tryAdopt looks for a draft an earlier attempt already saved. A match
// completes the task without touching the compose flow again.
func (m *Manager) tryAdopt(ctx context.Context, task *types.PublishTask, article *types.Article, creds Credentials) (*types.PublishTask, error) {
	if task.StartedAt == nil {
		return nil, nil
	}
	sel := m.selectors()

	sess, err := newSession(ctx, m.cfg.Publisher.CMS.Headless, m.cfg.StepTimeout(), sel.Waits.ElementRetries)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	req := &Request{BaseURL: m.cfg.Publisher.CMS.BaseURL, Selectors: sel, Creds: creds, StepTimeout: m.cfg.StepTimeout()}
	if err := doLogin(ctx, sess, req); err != nil {
		return nil, err
	}
	match, err := findExistingDraft(ctx, sess, sel, req.BaseURL, article.DisplayTitle(), *task.StartedAt)
	if err != nil || match == nil {
		return nil, err
	}

	var done *types.PublishTask
	err = m.store.WithTx(ctx, func(tx pgx.Tx) error {
		t, terr := m.store.Tasks.Complete(ctx, tx, task.ID, match.CMSArticleID, match.URL, 0)
		if terr != nil {
			return terr
		}
		done = t
		return m.store.Articles.RecordPublication(ctx, tx, task.ArticleID, match.CMSArticleID, match.URL)
	})
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.DraftAdoptions.Inc()
		m.metrics.RecordPublishOutcome(string(task.Provider), true)
	}
	audit := logging.AuditWithCorrelation(task.CorrelationID)
	audit.DraftAdopted(task.ID, match.CMSArticleID)
	audit.PublishOutcome(task.ArticleID, task.ID, true, int64(done.DurationSecs*1000), "")
	logging.Publish("task %d adopted existing draft %s", task.ID, match.CMSArticleID)
	return done, nil
}

func (m *Manager) complete(ctx context.Context, task *types.PublishTask, out *Outcome) (*types.PublishTask, error) {
	var done *types.PublishTask
	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		t, terr := m.store.Tasks.Complete(ctx, tx, task.ID, out.CMSArticleID, out.PublishedURL, out.CostUSD)
		if terr != nil {
			return terr
		}
		done = t
		return m.store.Articles.RecordPublication(ctx, tx, task.ArticleID, out.CMSArticleID, out.PublishedURL)
	})
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordPublishOutcome(string(task.Provider), true)
	}
	logging.AuditWithCorrelation(task.CorrelationID).PublishOutcome(task.ArticleID, task.ID, true, int64(done.DurationSecs*1000), "")
	logging.Publish("task %d completed: draft %s at %s (cost $%.4f)", task.ID, done.CMSArticleID, done.PublishedURL, done.CostUSD)
	return done, nil
}

// fail records the terminal failure. No compensating delete happens on
// the CMS side; an orphan draft stays visible to operators. The write
// runs on its own context: the attempt's is usually already dead when
// a task fails, and the terminal row must land regardless.
func (m *Manager) fail(task *types.PublishTask, cause error, costUSD float64) (*types.PublishTask, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var done *types.PublishTask
	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		t, terr := m.store.Tasks.Fail(ctx, tx, task.ID, cause.Error(), costUSD)
		if terr != nil {
			return terr
		}
		done = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mirrorArticleStatus(ctx, task, types.ArticleFailed)

	if m.metrics != nil {
		m.metrics.RecordPublishOutcome(string(task.Provider), false)
	}
	logging.AuditWithCorrelation(task.CorrelationID).PublishOutcome(task.ArticleID, task.ID, false, int64(done.DurationSecs*1000), cause.Error())
	logging.PublishError("task %d failed: %v", task.ID, cause)
	return done, nil
}

// mirrorArticleStatus reflects the task's state onto the article row.
// The task row stays authoritative; a mirror that cannot be written
// only warns.
func (m *Manager) mirrorArticleStatus(ctx context.Context, task *types.PublishTask, status types.ArticleStatus) {
	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		return m.store.Articles.SetStatus(ctx, tx, task.ArticleID, status)
	})
	if err != nil {
		logging.PublishWarn("task %d article status %s: %v", task.ID, status, err)
	}
}

// credentials resolves the CMS login pair from the vault.
func (m *Manager) credentials(ctx context.Context) (Credentials, error) {
	username, err := m.vault.Get(ctx, credKeyUsername)
	if err != nil {
		return Credentials{}, err
	}
	password, err := m.vault.Get(ctx, credKeyPassword)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Username: username, Password: password}, nil
}

// sink persists provider progress as it happens so operators and crash
// recovery see the latest step. Write failures degrade to warnings.
func (m *Manager) sink(taskID int64) ProgressSink {
	return ProgressFunc(func(step string, percent int, status types.TaskStatus, _ string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.Tasks.UpdateProgress(ctx, taskID, status, percent, step); err != nil {
			logging.PublishWarn("task %d progress %s: %v", taskID, step, err)
		}
	})
}

// persistShots appends one attempt's screenshot references to the row.
func (m *Manager) persistShots(taskID int64, shots []types.Screenshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, shot := range shots {
		if err := m.store.Tasks.AppendScreenshot(ctx, taskID, shot); err != nil {
			logging.PublishWarn("task %d screenshot %s: %v", taskID, shot.Step, err)
			return
		}
	}
}

// backoff returns the delay before the given retry (1-based), with the
// configured jitter spread around the exponential curve.
func (m *Manager) backoff(retry int) time.Duration {
	d := float64(m.cfg.RetryInitial()) * math.Pow(m.cfg.Retry.Factor, float64(retry-1))
	if m.cfg.Retry.JitterPercent > 0 {
		span := d * float64(m.cfg.Retry.JitterPercent) / 100
		d = d - span + rand.Float64()*2*span
	}
	return time.Duration(d)
}

// publishableImages drops operator-removed images and applies caption
// replacements before the set reaches a provider.
func publishableImages(images []*types.ArticleImage) []*types.ArticleImage {
	out := make([]*types.ArticleImage, 0, len(images))
	for _, img := range images {
		if img.Review != nil {
			switch img.Review.Action {
			case types.ImageRemove:
				continue
			case types.ImageReplaceCaption:
				cp := *img
				cp.Caption = img.Review.NewValue
				img = &cp
			case types.ImageReplaceSource:
				cp := *img
				cp.SourceURL = img.Review.NewValue
				img = &cp
			}
		}
		out = append(out, img)
	}
	return out
}
