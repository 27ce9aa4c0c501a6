package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/recordstream/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPoolDefaults(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, processor)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 256, pool.queueSize)
}

func TestNewPoolNilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[testWork](5, 100, nil)
	})
}

func TestPoolStartSubmitStop(t *testing.T) {
	var processedCount atomic.Int64
	processor := func(_ context.Context, _ testWork) error {
		processedCount.Add(1)
		return nil
	}

	pool := NewPool(2, 10, processor)
	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}

	require.Eventually(t, func() bool {
		return processedCount.Load() == 5
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, pool.Stop(5*time.Second))
	assert.ErrorIs(t, pool.Submit(testWork{id: 999}), ErrPoolStopped)
}

func TestPoolMetricsAccumulateAcrossPools(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, err := metric.NewPoolMetrics(registry, "test_pool")
	require.NoError(t, err)

	processor := func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("boom")
		}
		return nil
	}

	// Two short-lived pools share one metrics set, the way batch runs do
	for run := 0; run < 2; run++ {
		pool := NewPool(2, 10, processor, WithMetrics[testWork](m))
		require.NoError(t, pool.Start(context.Background()))
		require.NoError(t, pool.Submit(testWork{id: 1}))
		require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
		require.NoError(t, pool.Stop(5*time.Second))
	}

	assert.Equal(t, float64(4), promtestutil.ToFloat64(m.Submitted))
	assert.Equal(t, float64(4), promtestutil.ToFloat64(m.Processed))
	assert.Equal(t, float64(2), promtestutil.ToFloat64(m.Failed))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(m.Dropped))
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error { return nil })
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)
}

func TestPoolQueueFull(t *testing.T) {
	started := make(chan struct{}, 4)
	block := make(chan struct{})
	processor := func(_ context.Context, _ testWork) error {
		started <- struct{}{}
		<-block
		return nil
	}

	pool := NewPool(1, 1, processor)
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(block)
		pool.Stop(time.Second)
	}()

	// First item occupies the single worker, second fills the queue; the pool
	// is a backpressure signal, not an unbounded buffer.
	require.NoError(t, pool.Submit(testWork{id: 1}))
	<-started
	require.NoError(t, pool.Submit(testWork{id: 2}))

	err := pool.Submit(testWork{id: 3})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPoolStats(t *testing.T) {
	var failures atomic.Int64
	processor := func(_ context.Context, w testWork) error {
		if w.fail {
			failures.Add(1)
			return errors.New("work failed")
		}
		return nil
	}

	pool := NewPool(2, 10, processor)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))

	require.Eventually(t, func() bool {
		return pool.Stats().Processed == 2
	}, time.Second, 10*time.Millisecond)

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Failed)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPoolContextCancellation(t *testing.T) {
	started := make(chan struct{}, 1)
	processor := func(ctx context.Context, _ testWork) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, 10, processor)
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Submit(testWork{id: 1}))

	<-started
	cancel()

	require.NoError(t, pool.Stop(time.Second))
}
