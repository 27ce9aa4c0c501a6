// Package dispatch is the request-facing service: it validates
// incoming operations, applies single-record CRUD synchronously against
// the store, and hands bulk work to the broker as async jobs tracked in
// the ledger.
package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/c360/recordstream/broker"
	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/ledger"
	"github.com/c360/recordstream/metric"
	"github.com/c360/recordstream/record"
	"github.com/c360/recordstream/results"
	"github.com/c360/recordstream/store"
)

// updateAttempts bounds the re-read loop when a synchronous update
// races another writer.
const updateAttempts = 3

// Dispatcher coordinates the synchronous and asynchronous operation
// paths.
type Dispatcher struct {
	store   *store.Store
	queue   broker.Publisher
	jobs    ledger.Ledger
	results results.Store
	metrics *metric.PipelineMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics wires the pipeline metrics
func WithMetrics(m *metric.PipelineMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher over the given collaborators
func New(st *store.Store, queue broker.Publisher, jobs ledger.Ledger, res results.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   st,
		queue:   queue,
		jobs:    jobs,
		results: res,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) countStoreOp(op string) {
	if d.metrics != nil {
		d.metrics.StoreOps.WithLabelValues(op).Inc()
	}
}

// Create validates and inserts a new record. Email uniqueness is checked
// before the insert but not held across it, so concurrent creates racing
// on the same email are not serialized; the original system accepts the
// same window.
func (d *Dispatcher) Create(_ context.Context, req record.CreateRequest) (record.Record, error) {
	if err := req.Validate(); err != nil {
		return record.Record{}, err
	}
	if d.store.EmailExists(req.Email) {
		return record.Record{}, errors.WrapInvalid(errors.ErrValidation, "Dispatcher", "Create", "email already registered")
	}

	rec := record.New("", req, d.now())
	d.store.Put(rec.ID, rec)
	// Fresh uuid, so the insert always lands at version 1
	rec.Version = 1
	d.countStoreOp("create")

	d.logger.Debug("record created", "id", rec.ID)
	return rec, nil
}

// Get returns the record by id
func (d *Dispatcher) Get(_ context.Context, id string) (record.Record, error) {
	rec, err := d.store.Get(id)
	if err != nil {
		return record.Record{}, err
	}
	d.countStoreOp("read")
	return rec, nil
}

// Update applies a partial update. Concurrent writers are handled with
// a bounded read-apply-CAS loop; the conflict surfaces to the caller
// only when every attempt loses the race.
func (d *Dispatcher) Update(_ context.Context, id string, req record.UpdateRequest) (record.Record, error) {
	if err := req.Validate(); err != nil {
		return record.Record{}, err
	}

	var lastErr error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		current, err := d.store.Get(id)
		if err != nil {
			return record.Record{}, err
		}

		if req.Email != nil {
			lowered := strings.ToLower(*req.Email)
			if !strings.EqualFold(current.Email, lowered) && d.store.EmailExists(lowered) {
				return record.Record{}, errors.WrapInvalid(errors.ErrValidation, "Dispatcher", "Update", "email already registered")
			}
		}

		updated := req.Apply(current, d.now())
		err = d.store.CompareAndPut(id, current.Version, updated)
		if err == nil {
			d.countStoreOp("update")
			return d.store.Get(id)
		}
		if !errors.Is(err, errors.ErrVersionConflict) {
			return record.Record{}, err
		}
		lastErr = err
	}
	return record.Record{}, lastErr
}

// Delete removes the record by id
func (d *Dispatcher) Delete(_ context.Context, id string) (record.Record, error) {
	rec, err := d.store.Delete(id)
	if err != nil {
		return record.Record{}, err
	}
	d.countStoreOp("delete")
	d.logger.Debug("record deleted", "id", id)
	return rec, nil
}

// ListOptions selects a page of records. Query filters on a
// case-insensitive substring match over name and email.
type ListOptions struct {
	Page     int
	PageSize int
	Query    string
}

// ListResult is one page plus the total match count
type ListResult struct {
	Records  []record.Record `json:"records"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// List returns a deterministic page of the current snapshot, ordered
// by creation time then id.
func (d *Dispatcher) List(_ context.Context, opts ListOptions) (ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	query := strings.ToLower(opts.Query)
	var matched []record.Record
	for rec := range d.store.Scan() {
		if query != "" &&
			!strings.Contains(strings.ToLower(rec.Name), query) &&
			!strings.Contains(strings.ToLower(rec.Email), query) {
			continue
		}
		matched = append(matched, rec)
	}
	d.countStoreOp("scan")

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := (opts.Page - 1) * opts.PageSize
	if start > total {
		start = total
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}

	page := matched[start:end]
	if page == nil {
		page = []record.Record{}
	}
	return ListResult{
		Records:  page,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}, nil
}

// enqueue writes the pending ledger entry and publishes exactly one
// envelope. A publish failure settles the entry as failed so status
// queries do not hang on pending forever.
func (d *Dispatcher) enqueue(ctx context.Context, op envelope.Op, payload any) (string, error) {
	env, err := envelope.New(op, payload)
	if err != nil {
		return "", err
	}

	if err := d.jobs.Create(ctx, env.CorrelationID, op); err != nil {
		return "", err
	}

	if err := d.queue.Enqueue(ctx, env); err != nil {
		if failErr := d.jobs.Fail(ctx, env.CorrelationID, "enqueue failed: "+err.Error()); failErr != nil {
			d.logger.Error("could not settle unpublished job",
				"correlation_id", env.CorrelationID, "error", failErr)
		}
		return "", err
	}

	if d.metrics != nil {
		d.metrics.JobsEnqueued.WithLabelValues(string(op)).Inc()
	}
	d.logger.Info("job accepted",
		"op", string(op), "correlation_id", env.CorrelationID)
	return env.CorrelationID, nil
}

// Import accepts a CSV document for asynchronous bulk import and
// returns the correlation id to poll.
func (d *Dispatcher) Import(ctx context.Context, csv []byte, mode envelope.ImportMode) (string, error) {
	if len(csv) == 0 {
		return "", errors.WrapInvalid(errors.ErrEmptyPayload, "Dispatcher", "Import", "empty csv document")
	}
	if mode == "" {
		mode = envelope.ModeStrict
	}
	if mode != envelope.ModeStrict && mode != envelope.ModeLenient {
		return "", errors.WrapInvalid(errors.ErrValidation, "Dispatcher", "Import", "unknown import mode "+string(mode))
	}
	return d.enqueue(ctx, envelope.OpBulkImport, envelope.BulkImportPayload{CSV: csv, Mode: mode})
}

// Export requests an asynchronous snapshot export and returns the
// correlation id to poll.
func (d *Dispatcher) Export(ctx context.Context, format string) (string, error) {
	if format == "" {
		format = "csv"
	}
	if format != "csv" {
		return "", errors.WrapInvalid(errors.ErrValidation, "Dispatcher", "Export", "unsupported format "+format)
	}
	return d.enqueue(ctx, envelope.OpBulkExport, envelope.BulkExportPayload{Format: format})
}

// Status returns the ledger entry for an async job
func (d *Dispatcher) Status(ctx context.Context, correlationID string) (ledger.JobRecord, error) {
	return d.jobs.Get(ctx, correlationID)
}

// Result returns the stored output of a completed job. Pending and
// processing jobs report ErrJobNotCompleted; completed jobs without
// output report ErrNotFound.
func (d *Dispatcher) Result(ctx context.Context, correlationID string) ([]byte, error) {
	job, err := d.jobs.Get(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if !job.State.Terminal() {
		return nil, errors.WrapInvalid(errors.ErrJobNotCompleted, "Dispatcher", "Result", correlationID)
	}
	if job.ResultKey == "" {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "Dispatcher", "Result", "job produced no output")
	}
	return d.results.Get(ctx, job.ResultKey)
}
