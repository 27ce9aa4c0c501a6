// Package worker provides a generic bounded worker pool used for CPU-bound
// batch processing. Pool workers only ever run the supplied processor; they
// never perform network waits, keeping the CPU domain separate from the
// I/O domain.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/recordstream/metric"
)

// Pool is a generic worker pool processing work items of type T
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *metric.PoolMetrics
	wg       *sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetrics instruments the pool. The PoolMetrics set is registered once
// per prefix and may be shared by many short-lived pools; their counters
// accumulate.
func WithMetrics[T any](m *metric.PoolMetrics) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = m
	}
}

// NewPool creates a worker pool. Zero or negative workers/queueSize fall back
// to defaults. A nil processor panics: the pool is useless without one.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Start starts the worker pool
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Submit submits work to the pool without blocking. Returns ErrQueueFull when
// the queue is at capacity; the caller owns the backpressure decision.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.Submitted.Inc()
			p.metrics.QueueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.Dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for in-flight work to drain
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, work)
			duration := time.Since(start)

			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}

			if p.metrics != nil {
				p.metrics.Processed.Inc()
				status := "success"
				if err != nil {
					p.metrics.Failed.Inc()
					status = "error"
				}
				p.metrics.ProcessingTime.WithLabelValues(status).Observe(duration.Seconds())
				p.metrics.QueueDepth.Set(float64(len(p.workChan)))
			}
		}
	}
}
