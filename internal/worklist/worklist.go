// Package worklist is the orchestrator at the center of the service. It
// owns the item state machine: lane transitions serialize on row locks,
// stage work runs on bounded worker pools, the document-store sync keeps
// the worklist current, and startup recovery re-queues whatever a dead
// process left mid-stage.
package worklist

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"copydesk/internal/config"
	"copydesk/internal/docstore"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/optimizer"
	"copydesk/internal/parser"
	"copydesk/internal/proofread"
	"copydesk/internal/publish"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

// queueDepthFactor sizes each dispatch queue relative to its worker
// pool. Beyond that, producers back off instead of queueing more work.
const queueDepthFactor = 4

// autoActor attributes transitions taken by the auto-process path.
const autoActor = "auto-process"

// terminalWriteTimeout bounds the bookkeeping writes that must land
// even when the job's own context is already dead.
const terminalWriteTimeout = 10 * time.Second

// Orchestrator drives worklist items through the pipeline.
type Orchestrator struct {
	cfg         *config.Config
	store       *store.Store
	docs        docstore.Client
	parser      *parser.Parser
	optimizer   *optimizer.Engine
	proofreader *proofread.Service
	publisher   *publish.Manager
	metrics     *metrics.Metrics

	parseQ     *queue
	proofreadQ *queue
	publishQ   *queue

	cancels *canceller
}

// New wires the orchestrator. Worker pools are sized from
// cfg.Orchestrator.Workers; each queue buffers four jobs per worker.
func New(cfg *config.Config, st *store.Store, docs docstore.Client, p *parser.Parser,
	opt *optimizer.Engine, pr *proofread.Service, pub *publish.Manager, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		store:       st,
		docs:        docs,
		parser:      p,
		optimizer:   opt,
		proofreader: pr,
		publisher:   pub,
		metrics:     m,
		parseQ:      newQueue(metrics.StageParse, cfg.Orchestrator.Workers.Parse, m),
		proofreadQ:  newQueue(metrics.StageProofread, cfg.Orchestrator.Workers.Proofread, m),
		publishQ:    newQueue(metrics.StagePublish, cfg.Orchestrator.Workers.Publish, m),
		cancels:     newCanceller(),
	}
}

// Start runs the stage workers, the sync loop and the report loop until
// ctx ends. Callers should run Recover first so stranded work is queued
// before new work competes for slots.
func (o *Orchestrator) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < o.cfg.Orchestrator.Workers.Parse; i++ {
		g.Go(func() error { return o.worker(ctx, o.parseQ, o.parseItem) })
	}
	for i := 0; i < o.cfg.Orchestrator.Workers.Proofread; i++ {
		g.Go(func() error { return o.worker(ctx, o.proofreadQ, o.proofreadItem) })
	}
	for i := 0; i < o.cfg.Orchestrator.Workers.Publish; i++ {
		g.Go(func() error { return o.worker(ctx, o.publishQ, o.publishItem) })
	}
	g.Go(func() error { return o.syncLoop(ctx) })
	g.Go(func() error { return o.reportLoop(ctx) })

	logging.Worklist("orchestrator started: %d parse, %d proofread, %d publish workers",
		o.cfg.Orchestrator.Workers.Parse, o.cfg.Orchestrator.Workers.Proofread, o.cfg.Orchestrator.Workers.Publish)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		logging.Worklist("orchestrator stopped")
		return nil
	}
	return err
}

// queue is one bounded dispatch lane. Producers reserve a slot before
// they touch item state, so a full lane fails fast with no half-moved
// items; the slot frees when a worker dequeues the job.
type queue struct {
	stage  string
	jobs   chan job
	slots  chan struct{}
	depth  prometheus.Gauge
	active prometheus.Gauge
}

// job is one unit of stage work. Publish jobs carry the durable task id
// created at dispatch time.
type job struct {
	itemID     int64
	taskID     int64
	actor      string
	regenerate bool
	cid        string
}

func newQueue(stage string, workers int, m *metrics.Metrics) *queue {
	n := workers * queueDepthFactor
	return &queue{
		stage:  stage,
		jobs:   make(chan job, n),
		slots:  make(chan struct{}, n),
		depth:  m.QueueDepth.WithLabelValues(stage),
		active: m.ActiveWorkers.WithLabelValues(stage),
	}
}

// reserve claims a queue slot, failing fast when the lane is saturated.
func (q *queue) reserve() bool {
	select {
	case q.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (q *queue) release() {
	<-q.slots
}

// push hands a job to the workers. The caller must hold a reservation,
// which is what makes the send non-blocking.
func (q *queue) push(j job) {
	q.jobs <- j
	q.depth.Set(float64(len(q.jobs)))
}

// worker drains one stage queue until ctx ends. Job failures are the
// job's problem (the item is already parked in failed by then); the
// worker only books the outcome.
func (o *Orchestrator) worker(ctx context.Context, q *queue, run func(context.Context, job) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-q.jobs:
			q.release()
			q.depth.Set(float64(len(q.jobs)))
			q.active.Inc()
			start := time.Now()
			err := run(ctx, j)
			q.active.Dec()
			o.metrics.ObserveStage(q.stage, err, time.Since(start))
			if err != nil {
				logging.WorklistError("%s job for item %d: %v", q.stage, j.itemID, err)
			}
		}
	}
}

// dispatch reserves a slot, performs the guarded lane change, and hands
// the job to the stage workers, in that order: a full lane must surface
// before any state moves.
func (o *Orchestrator) dispatch(ctx context.Context, q *queue, j job, from, to types.ItemStatus) error {
	if !q.reserve() {
		return fmt.Errorf("%w: %s lane at capacity %d", types.ErrBusy, q.stage, cap(q.jobs))
	}
	if err := o.advance(ctx, j.itemID, from, to, j.actor); err != nil {
		q.release()
		return err
	}
	q.push(j)
	return nil
}

// requeue enqueues without a lane change, for items already sitting in
// their working lane (recovery, resets into parsing or proofreading).
func (o *Orchestrator) requeue(q *queue, j job) error {
	if !q.reserve() {
		return fmt.Errorf("%w: %s lane at capacity %d", types.ErrBusy, q.stage, cap(q.jobs))
	}
	q.push(j)
	return nil
}

// backoffDelay mirrors the model client's retry curve: initial *
// factor^(n-1) with a jitter-percent spread either side.
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	d := float64(o.cfg.RetryInitial()) * math.Pow(o.cfg.Retry.Factor, float64(attempt-1))
	if pct := o.cfg.Retry.JitterPercent; pct > 0 {
		span := d * float64(pct) / 100
		d = d - span + rand.Float64()*2*span
	}
	return time.Duration(d)
}

// canceller tracks the cancel handle of each in-flight job so operator
// cancellation reaches a running stage. One job per item at a time.
type canceller struct {
	mu sync.Mutex
	m  map[int64]context.CancelFunc
}

func newCanceller() *canceller {
	return &canceller{m: make(map[int64]context.CancelFunc)}
}

func (c *canceller) register(itemID int64, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[itemID] = cancel
}

func (c *canceller) clear(itemID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, itemID)
}

// cancel pulls the item's cancellation flag. Reports whether a job was
// actually running.
func (c *canceller) cancel(itemID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.m[itemID]
	if ok {
		cancel()
	}
	return ok
}

// jobContext bounds a job and registers its cancel handle so
// RequestCancel can reach it. d == 0 means no stage deadline.
func (o *Orchestrator) jobContext(ctx context.Context, itemID int64, d time.Duration) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	o.cancels.register(itemID, cancel)
	return ctx, func() {
		o.cancels.clear(itemID)
		cancel()
	}
}

// autoAdvance reports whether an item may cross review gates without an
// operator. Both the config mode and the per-item flag must agree; a
// global default is never enough to skip a human gate.
func (o *Orchestrator) autoAdvance(item *types.WorklistItem) bool {
	return o.cfg.Orchestrator.AutoProcess == config.AutoProcessPerItemFlag &&
		item.DocumentMetadata.AutoProcess
}
