// Package worker consumes job envelopes from the broker and applies
// them to the record store. Delivery is at-least-once, so every message
// passes the idempotency ledger before any side effect: duplicates of
// finished jobs are acknowledged and skipped. Transient failures leave
// the message unacked for redelivery; permanent failures are recorded
// in the ledger and then acknowledged, so no job disappears silently.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/recordstream/batch"
	"github.com/c360/recordstream/broker"
	"github.com/c360/recordstream/csvcodec"
	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/ledger"
	"github.com/c360/recordstream/metric"
	"github.com/c360/recordstream/record"
	"github.com/c360/recordstream/results"
	"github.com/c360/recordstream/store"
)

// updateAttempts bounds the read-apply-CAS loop for update jobs
const updateAttempts = 5

// Worker applies queued jobs to the store
type Worker struct {
	store     *store.Store
	queue     broker.Subscriber
	jobs      ledger.Ledger
	results   results.Store
	metrics   *metric.PipelineMetrics
	logger    *slog.Logger
	batchOpts batch.Options
	now       func() time.Time
}

// Option configures a Worker
type Option func(*Worker)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics wires the pipeline metrics
func WithMetrics(m *metric.PipelineMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithBatchOptions overrides the parallelism of bulk jobs
func WithBatchOptions(opts batch.Options) Option {
	return func(w *Worker) { w.batchOpts = opts }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New creates a Worker over the given collaborators
func New(st *store.Store, queue broker.Subscriber, jobs ledger.Ledger, res results.Store, opts ...Option) *Worker {
	w := &Worker{
		store:     st,
		queue:     queue,
		jobs:      jobs,
		results:   res,
		logger:    slog.Default(),
		batchOpts: batch.DefaultOptions(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to the queue. It returns once the subscription is
// established; message handling continues until ctx is cancelled or the
// queue is closed.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.queue.Subscribe(ctx, w.handle); err != nil {
		return errors.Wrap(err, "Worker", "Start", "subscribe")
	}
	w.logger.Info("worker started")
	return nil
}

func (w *Worker) redeliver(env envelope.Envelope, ack broker.Ack, cause error) {
	w.logger.Warn("leaving job for redelivery",
		"op", string(env.Op),
		"correlation_id", env.CorrelationID,
		"error", cause)
	if w.metrics != nil {
		w.metrics.JobsRedelivered.Inc()
	}
	if err := ack.Nak(); err != nil {
		w.logger.Error("nak failed", "correlation_id", env.CorrelationID, "error", err)
	}
}

func (w *Worker) handle(ctx context.Context, env envelope.Envelope, ack broker.Ack) {
	claimed, err := w.jobs.Begin(ctx, env.CorrelationID, env.Op)
	if err != nil {
		w.redeliver(env, ack, err)
		return
	}
	if !claimed {
		w.logger.Info("skipping duplicate delivery",
			"op", string(env.Op), "correlation_id", env.CorrelationID)
		if w.metrics != nil {
			w.metrics.JobsDuplicate.Inc()
		}
		if err := ack.Ack(); err != nil {
			w.logger.Error("ack failed", "correlation_id", env.CorrelationID, "error", err)
		}
		return
	}

	start := w.now()
	resultKey, procErr := w.process(ctx, env)
	if w.metrics != nil {
		w.metrics.ProcessingTime.WithLabelValues(string(env.Op)).
			Observe(w.now().Sub(start).Seconds())
	}

	switch {
	case procErr == nil:
		if err := w.jobs.Complete(ctx, env.CorrelationID, resultKey); err != nil {
			w.redeliver(env, ack, err)
			return
		}
		if w.metrics != nil {
			w.metrics.JobsProcessed.WithLabelValues(string(env.Op), "success").Inc()
		}
		w.logger.Info("job completed",
			"op", string(env.Op), "correlation_id", env.CorrelationID)

	case errors.IsTransient(procErr):
		// Ledger entry stays in processing; the redelivered message
		// will claim it again.
		w.redeliver(env, ack, procErr)
		return

	default:
		if err := w.jobs.Fail(ctx, env.CorrelationID, procErr.Error()); err != nil {
			w.redeliver(env, ack, err)
			return
		}
		if w.metrics != nil {
			w.metrics.JobsProcessed.WithLabelValues(string(env.Op), "failed").Inc()
		}
		w.logger.Warn("job failed",
			"op", string(env.Op),
			"correlation_id", env.CorrelationID,
			"error", procErr)
	}

	if err := ack.Ack(); err != nil {
		w.logger.Error("ack failed", "correlation_id", env.CorrelationID, "error", err)
	}
}

// process applies one envelope. The switch is exhaustive over the
// operation set; Decode already rejected unknown operations, so the
// default arm only fires if the two fall out of sync.
func (w *Worker) process(ctx context.Context, env envelope.Envelope) (string, error) {
	switch env.Op {
	case envelope.OpCreate:
		return "", w.applyCreate(env)
	case envelope.OpUpdate:
		return "", w.applyUpdate(env)
	case envelope.OpDelete:
		return "", w.applyDelete(env)
	case envelope.OpBulkImport:
		return w.applyBulkImport(ctx, env)
	case envelope.OpBulkExport:
		return w.applyBulkExport(ctx, env)
	default:
		return "", errors.WrapInvalid(errors.ErrUnknownOp, "Worker", "process", string(env.Op))
	}
}

func (w *Worker) countStoreOp(op string) {
	w.countStoreOps(op, 1)
}

// countStoreOps records n store operations at once; bulk imports count
// one per applied row so the counter tracks actual store writes.
func (w *Worker) countStoreOps(op string, n int) {
	if w.metrics != nil && n > 0 {
		w.metrics.StoreOps.WithLabelValues(op).Add(float64(n))
	}
}

func (w *Worker) applyCreate(env envelope.Envelope) error {
	payload, err := envelope.DecodePayload[envelope.CreatePayload](env)
	if err != nil {
		return err
	}
	if err := payload.Req.Validate(); err != nil {
		return err
	}
	if w.store.EmailExists(payload.Req.Email) {
		return errors.WrapInvalid(errors.ErrValidation, "Worker", "applyCreate", "email already registered")
	}

	rec := record.New("", payload.Req, w.now())
	w.store.Put(rec.ID, rec)
	w.countStoreOp("create")
	return nil
}

func (w *Worker) applyUpdate(env envelope.Envelope) error {
	payload, err := envelope.DecodePayload[envelope.UpdatePayload](env)
	if err != nil {
		return err
	}
	if err := payload.Req.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		current, err := w.store.Get(payload.ID)
		if err != nil {
			return err
		}
		updated := payload.Req.Apply(current, w.now())
		err = w.store.CompareAndPut(payload.ID, current.Version, updated)
		if err == nil {
			w.countStoreOp("update")
			return nil
		}
		if !errors.Is(err, errors.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	// Contention this persistent is worth another delivery
	return errors.WrapTransient(lastErr, "Worker", "applyUpdate", payload.ID)
}

func (w *Worker) applyDelete(env envelope.Envelope) error {
	payload, err := envelope.DecodePayload[envelope.DeletePayload](env)
	if err != nil {
		return err
	}
	if _, err := w.store.Delete(payload.ID); err != nil {
		return err
	}
	w.countStoreOp("delete")
	return nil
}

// rowFailure is one rejected line in a lenient import report
type rowFailure struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// importReport is the stored output of a lenient bulk import
type importReport struct {
	CorrelationID string       `json:"correlation_id"`
	Imported      int          `json:"imported"`
	Rejected      int          `json:"rejected"`
	Failures      []rowFailure `json:"failures,omitempty"`
}

func (w *Worker) applyBulkImport(ctx context.Context, env envelope.Envelope) (string, error) {
	payload, err := envelope.DecodePayload[envelope.BulkImportPayload](env)
	if err != nil {
		return "", err
	}

	rows, err := csvcodec.ReadRaw(payload.CSV)
	if err != nil {
		return "", err
	}

	chunks := batch.Split(rows, batch.ChunkSize(len(rows), w.batchOpts.Workers))

	if payload.Mode == envelope.ModeLenient {
		return w.importLenient(ctx, env.CorrelationID, chunks)
	}
	return "", w.importStrict(ctx, chunks)
}

// importStrict parses the whole document before touching the store, so
// one malformed row leaves the store exactly as it was.
func (w *Worker) importStrict(ctx context.Context, chunks []batch.Chunk[csvcodec.RawRow]) error {
	parsed, err := batch.Process(ctx, chunks,
		func(_ context.Context, chunk batch.Chunk[csvcodec.RawRow]) ([]csvcodec.ImportRow, error) {
			out := make([]csvcodec.ImportRow, 0, len(chunk.Items))
			for _, raw := range chunk.Items {
				row, err := csvcodec.ParseRow(raw)
				if err != nil {
					return nil, tagChunk(err, chunk.Index)
				}
				out = append(out, row)
			}
			return out, nil
		}, w.batchOpts)
	if err != nil {
		if w.metrics != nil {
			w.metrics.RowsRejected.Inc()
		}
		return err
	}

	n := 0
	for _, rows := range parsed {
		for _, row := range rows {
			w.applyImportRow(row)
			n++
		}
	}
	if w.metrics != nil {
		w.metrics.RowsImported.Add(float64(n))
	}
	w.countStoreOps("create", n)
	w.logger.Info("bulk import applied", "rows", n, "mode", "strict")
	return nil
}

// importChunk is the per-chunk outcome of a lenient import: parse
// failures are collected per row instead of failing the chunk.
type importChunk struct {
	rows     []csvcodec.ImportRow
	failures []rowFailure
}

// importLenient applies every valid row and stores a report naming the
// rejected lines. The job completes even when rows were rejected; the
// report is its output.
func (w *Worker) importLenient(ctx context.Context, correlationID string, chunks []batch.Chunk[csvcodec.RawRow]) (string, error) {
	outputs, errs := batch.ProcessPartial(ctx, chunks,
		func(_ context.Context, chunk batch.Chunk[csvcodec.RawRow]) (importChunk, error) {
			var out importChunk
			for _, raw := range chunk.Items {
				row, err := csvcodec.ParseRow(raw)
				if err != nil {
					out.failures = append(out.failures, rowFailure{
						Line:  raw.Line,
						Error: rowErrorMessage(err),
					})
					continue
				}
				out.rows = append(out.rows, row)
			}
			return out, nil
		}, w.batchOpts)

	// The transform never fails a chunk, so errors here mean the run
	// itself was cancelled or the pool broke down.
	for _, err := range errs {
		if err != nil {
			return "", errors.WrapTransient(err, "Worker", "importLenient", "chunk processing aborted")
		}
	}

	report := importReport{CorrelationID: correlationID}
	for _, chunk := range outputs {
		for _, row := range chunk.rows {
			w.applyImportRow(row)
			report.Imported++
		}
		report.Failures = append(report.Failures, chunk.failures...)
	}
	report.Rejected = len(report.Failures)

	if w.metrics != nil {
		w.metrics.RowsImported.Add(float64(report.Imported))
		w.metrics.RowsRejected.Add(float64(report.Rejected))
	}
	w.countStoreOps("create", report.Imported)

	data, err := json.Marshal(report)
	if err != nil {
		return "", errors.WrapFatal(err, "Worker", "importLenient", "marshal report")
	}
	key := "reports/" + correlationID
	if err := w.results.Put(ctx, key, data); err != nil {
		return "", errors.WrapTransient(err, "Worker", "importLenient", "store report")
	}

	w.logger.Info("bulk import applied",
		"rows", report.Imported, "rejected", report.Rejected, "mode", "lenient")
	return key, nil
}

// applyImportRow upserts one parsed row. Rows without an id get a fresh
// one; rows without timestamps get the current time.
func (w *Worker) applyImportRow(row csvcodec.ImportRow) {
	now := w.now()
	id := row.ID
	if id == "" {
		id = uuid.New().String()
	}

	rec := record.New(id, row.Req, now)
	if !row.CreatedAt.IsZero() {
		rec.CreatedAt = row.CreatedAt
	}
	if !row.UpdatedAt.IsZero() {
		rec.UpdatedAt = row.UpdatedAt
	}
	w.store.Put(id, rec)
}

func (w *Worker) applyBulkExport(ctx context.Context, env envelope.Envelope) (string, error) {
	payload, err := envelope.DecodePayload[envelope.BulkExportPayload](env)
	if err != nil {
		return "", err
	}
	if payload.Format != "" && payload.Format != "csv" {
		return "", errors.WrapInvalid(errors.ErrValidation, "Worker", "applyBulkExport",
			"unsupported format "+payload.Format)
	}

	var snapshot []record.Record
	for rec := range w.store.Scan() {
		snapshot = append(snapshot, rec)
	}
	w.countStoreOp("scan")

	chunks := batch.Split(snapshot, batch.ChunkSize(len(snapshot), w.batchOpts.Workers))
	encoded, err := batch.Process(ctx, chunks,
		func(_ context.Context, chunk batch.Chunk[record.Record]) ([]byte, error) {
			return csvcodec.EncodeRows(chunk.Items)
		}, w.batchOpts)
	if err != nil {
		return "", errors.WrapTransient(err, "Worker", "applyBulkExport", "encode snapshot")
	}

	var doc strings.Builder
	doc.Write(csvcodec.EncodeHeader())
	for _, part := range encoded {
		doc.Write(part)
	}

	key := "exports/" + env.CorrelationID
	if err := w.results.Put(ctx, key, []byte(doc.String())); err != nil {
		return "", errors.WrapTransient(err, "Worker", "applyBulkExport", "store export")
	}

	w.logger.Info("export stored", "rows", len(snapshot), "key", key)
	return key, nil
}

// tagChunk stamps the chunk index onto a row-level parse error
func tagChunk(err error, index int) error {
	var ce *errors.ChunkError
	if errors.As(err, &ce) {
		return errors.NewChunkError(index, ce.Line, ce.Unwrap())
	}
	return err
}

// rowErrorMessage strips the positional prefix from a ChunkError so the
// report does not repeat the line number it already carries.
func rowErrorMessage(err error) string {
	var ce *errors.ChunkError
	if errors.As(err, &ce) && ce.Unwrap() != nil {
		return ce.Unwrap().Error()
	}
	return fmt.Sprintf("%v", err)
}
