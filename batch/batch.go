// Package batch implements the parallel batch processor.
//
// A bulk payload is partitioned into indexed chunks, each chunk is
// transformed on a bounded CPU worker pool, and outputs are reassembled in
// chunk-index order, so the merged result is identical to serial processing
// regardless of which worker finished first. Chunks share no mutable state;
// a transform that touches shared data must go through the record store's
// own concurrency-safe operations.
package batch

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/metric"
	"github.com/c360/recordstream/pkg/worker"
)

// Chunk is an independently processable slice of a larger batch input,
// tagged with its position for deterministic reassembly.
type Chunk[T any] struct {
	Index int
	Items []T
}

// Options configures a batch run
type Options struct {
	// Workers bounds the CPU pool. Zero means GOMAXPROCS.
	Workers int
	// StopTimeout bounds the drain wait when a run finishes
	StopTimeout time.Duration
	// Metrics instruments the pool of every run sharing these options.
	// Nil disables instrumentation.
	Metrics *metric.PoolMetrics
}

// DefaultOptions sizes the pool to available hardware parallelism
func DefaultOptions() Options {
	return Options{
		Workers:     runtime.GOMAXPROCS(0),
		StopTimeout: 10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Minute
	}
	return o
}

// minChunkSize keeps tiny inputs from being over-partitioned; below this
// many items per chunk the scheduling overhead outweighs the parallelism.
const minChunkSize = 64

// ChunkSize picks a chunk size for n items across the given worker count
func ChunkSize(n, workers int) int {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	size := (n + workers - 1) / workers
	if size < minChunkSize {
		size = minChunkSize
	}
	return size
}

// Split partitions items into contiguous chunks of at most chunkSize,
// preserving order. chunkSize <= 0 falls back to ChunkSize defaults.
func Split[T any](items []T, chunkSize int) []Chunk[T] {
	if chunkSize <= 0 {
		chunkSize = ChunkSize(len(items), 0)
	}

	var chunks []Chunk[T]
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, Chunk[T]{Index: len(chunks), Items: items[start:end]})
	}
	return chunks
}

// Process transforms every chunk on the worker pool and merges outputs in
// chunk-index order (strict mode). The first failed chunk aborts the run:
// in-flight chunks are cancelled, and the error of the lowest-indexed failed
// chunk is returned so the outcome is independent of completion order.
func Process[T, O any](ctx context.Context, chunks []Chunk[T],
	transform func(context.Context, Chunk[T]) (O, error), opts Options) ([]O, error) {

	outputs, errs := run(ctx, chunks, transform, opts, true)

	// Chunks aborted by cancellation carry context.Canceled; prefer the real
	// chunk error so the reported failure is independent of completion order.
	var firstCancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if firstCancelled == nil {
				firstCancelled = err
			}
			continue
		}
		return nil, err
	}
	if firstCancelled != nil {
		return nil, firstCancelled
	}
	return outputs, nil
}

// ProcessPartial transforms every chunk and reports failures per chunk
// instead of aborting (lenient mode). Outputs holds the result for every
// successful chunk in chunk-index order; failed chunks are skipped in the
// output and their errors returned in chunk-index order.
func ProcessPartial[T, O any](ctx context.Context, chunks []Chunk[T],
	transform func(context.Context, Chunk[T]) (O, error), opts Options) ([]O, []error) {

	outputs, errs := run(ctx, chunks, transform, opts, false)

	var (
		kept     []O
		failures []error
	)
	for i, err := range errs {
		if err != nil {
			failures = append(failures, err)
			continue
		}
		kept = append(kept, outputs[i])
	}
	return kept, failures
}

// run executes transform over all chunks. Each slot of the returned slices
// belongs to exactly one worker, so no locking is needed around them.
func run[T, O any](ctx context.Context, chunks []Chunk[T],
	transform func(context.Context, Chunk[T]) (O, error), opts Options, abortOnError bool) ([]O, []error) {

	opts = opts.withDefaults()
	outputs := make([]O, len(chunks))
	chunkErrs := make([]error, len(chunks))
	if len(chunks) == 0 {
		return outputs, chunkErrs
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if abortOnError {
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	completed := make([]atomic.Bool, len(chunks))

	var poolOpts []worker.Option[int]
	if opts.Metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[int](opts.Metrics))
	}

	pool := worker.NewPool(opts.Workers, len(chunks), func(wctx context.Context, idx int) error {
		defer completed[idx].Store(true)

		if wctx.Err() != nil {
			chunkErrs[idx] = wctx.Err()
			return wctx.Err()
		}
		out, err := transform(wctx, chunks[idx])
		if err != nil {
			chunkErrs[idx] = err
			if abortOnError {
				cancel()
			}
			return err
		}
		outputs[idx] = out
		return nil
	}, poolOpts...)

	if err := pool.Start(runCtx); err != nil {
		chunkErrs[0] = errors.Wrap(err, "batch", "run", "start pool")
		return outputs, chunkErrs
	}

	for i := range chunks {
		// The queue is sized to the chunk count, so Submit cannot fail with
		// a full queue; any error here is a lifecycle bug.
		if err := pool.Submit(i); err != nil {
			chunkErrs[i] = errors.Wrap(err, "batch", "run", "submit chunk")
			completed[i].Store(true)
		}
	}

	stopErr := pool.Stop(opts.StopTimeout)

	// Slots the pool never reached (cancellation, drain timeout) must not be
	// mistaken for successful zero-value outputs.
	for i := range chunkErrs {
		if completed[i].Load() || chunkErrs[i] != nil {
			continue
		}
		switch {
		case runCtx.Err() != nil:
			chunkErrs[i] = runCtx.Err()
		case stopErr != nil:
			chunkErrs[i] = errors.WrapTransient(stopErr, "batch", "run", "drain pool")
		}
	}

	return outputs, chunkErrs
}
