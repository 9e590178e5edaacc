package worklist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"copydesk/internal/config"
	"copydesk/internal/metrics"
	"copydesk/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueueBackpressure(t *testing.T) {
	q := newQueue(metrics.StageParse, 1, metrics.New())

	// One worker buffers four jobs.
	for i := 0; i < queueDepthFactor; i++ {
		require.True(t, q.reserve(), "slot %d", i)
		q.push(job{itemID: int64(i)})
	}
	assert.False(t, q.reserve(), "a full lane must refuse the fifth producer")

	// Dequeue frees the slot the way the worker loop does.
	j := <-q.jobs
	q.release()
	assert.Equal(t, int64(0), j.itemID)
	assert.True(t, q.reserve())
	q.release()
}

func TestQueueReleaseAfterFailedTransition(t *testing.T) {
	q := newQueue(metrics.StagePublish, 1, metrics.New())

	require.True(t, q.reserve())
	q.release()

	// The released slot is usable again; nothing was queued.
	assert.Empty(t, q.jobs)
	for i := 0; i < queueDepthFactor; i++ {
		require.True(t, q.reserve(), "slot %d", i)
	}
	assert.False(t, q.reserve())
}

func TestCancellerCancelsOnlyRunningJobs(t *testing.T) {
	c := newCanceller()

	ctx, cancel := context.WithCancel(context.Background())
	c.register(7, cancel)

	assert.False(t, c.cancel(8), "unknown item has no job to cancel")
	require.True(t, c.cancel(7))
	assert.Error(t, ctx.Err(), "the registered context must be cancelled")

	// The handle stays until the job's own defer clears it.
	assert.True(t, c.cancel(7))
	c.clear(7)
	assert.False(t, c.cancel(7))
}

func TestAutoAdvanceRequiresModeAndFlag(t *testing.T) {
	flagged := &types.WorklistItem{DocumentMetadata: types.DocumentMetadata{AutoProcess: true}}
	plain := &types.WorklistItem{}

	cfg := config.DefaultConfig()
	cfg.Orchestrator.AutoProcess = config.AutoProcessOff
	o := &Orchestrator{cfg: cfg}
	assert.False(t, o.autoAdvance(flagged), "mode off ignores the item flag")
	assert.False(t, o.autoAdvance(plain))

	cfg.Orchestrator.AutoProcess = config.AutoProcessPerItemFlag
	assert.True(t, o.autoAdvance(flagged))
	assert.False(t, o.autoAdvance(plain), "the per-item flag is still required")
}
