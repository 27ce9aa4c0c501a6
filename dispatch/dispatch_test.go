package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/recordstream/broker"
	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/ledger"
	"github.com/c360/recordstream/record"
	"github.com/c360/recordstream/results"
	"github.com/c360/recordstream/store"
)

type fixture struct {
	dispatcher *Dispatcher
	store      *store.Store
	queue      *broker.MemoryQueue
	jobs       *ledger.MemoryLedger
	results    *results.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.New(),
		queue:   broker.NewMemoryQueue(),
		jobs:    ledger.NewMemoryLedger(),
		results: results.NewMemoryStore(),
	}
	t.Cleanup(f.queue.Close)
	f.dispatcher = New(f.store, f.queue, f.jobs, f.results)
	return f
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.dispatcher.Create(ctx, record.CreateRequest{
		Name: "Ada Lovelace", Email: "Ada@Example.com", Age: 36,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "ada@example.com", rec.Email)
	assert.Equal(t, int64(1), rec.Version)

	got, err := f.dispatcher.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCreateRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  record.CreateRequest
	}{
		{"empty name", record.CreateRequest{Email: "a@b.com", Age: 1}},
		{"empty email", record.CreateRequest{Name: "A", Age: 1}},
		{"email without at", record.CreateRequest{Name: "A", Email: "nope", Age: 1}},
		{"negative age", record.CreateRequest{Name: "A", Email: "a@b.com", Age: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.Create(ctx, tt.req)
			assert.ErrorIs(t, err, errors.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Create(ctx, record.CreateRequest{Name: "A", Email: "a@b.com", Age: 1})
	require.NoError(t, err)

	_, err = f.dispatcher.Create(ctx, record.CreateRequest{Name: "B", Email: "A@B.com", Age: 2})
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Equal(t, 1, f.store.Len())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.dispatcher.Create(ctx, record.CreateRequest{Name: "A", Email: "a@b.com", Age: 30})
	require.NoError(t, err)

	name := "Alice"
	age := 31
	updated, err := f.dispatcher.Update(ctx, rec.ID, record.UpdateRequest{Name: &name, Age: &age})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)
	assert.Equal(t, 31, updated.Age)
	assert.Equal(t, "a@b.com", updated.Email)
	assert.Equal(t, int64(2), updated.Version)
}

func TestUpdateMissingRecord(t *testing.T) {
	f := newFixture(t)
	name := "X"
	_, err := f.dispatcher.Update(context.Background(), "missing", record.UpdateRequest{Name: &name})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUpdateEmptyRequestRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.dispatcher.Create(ctx, record.CreateRequest{Name: "A", Email: "a@b.com", Age: 1})
	require.NoError(t, err)

	_, err = f.dispatcher.Update(ctx, rec.ID, record.UpdateRequest{})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestUpdateRejectsTakenEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Create(ctx, record.CreateRequest{Name: "A", Email: "a@b.com", Age: 1})
	require.NoError(t, err)
	rec, err := f.dispatcher.Create(ctx, record.CreateRequest{Name: "B", Email: "b@b.com", Age: 2})
	require.NoError(t, err)

	taken := "a@b.com"
	_, err = f.dispatcher.Update(ctx, rec.ID, record.UpdateRequest{Email: &taken})
	assert.ErrorIs(t, err, errors.ErrValidation)

	// Re-submitting your own email is not a conflict
	own := "B@b.com"
	updated, err := f.dispatcher.Update(ctx, rec.ID, record.UpdateRequest{Email: &own})
	require.NoError(t, err)
	assert.Equal(t, "b@b.com", updated.Email)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.dispatcher.Create(ctx, record.CreateRequest{Name: "A", Email: "a@b.com", Age: 1})
	require.NoError(t, err)

	deleted, err := f.dispatcher.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, deleted.ID)

	_, err = f.dispatcher.Delete(ctx, rec.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestListPaginationAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.dispatcher.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 25; i++ {
		_, err := f.dispatcher.Create(ctx, record.CreateRequest{
			Name:  fmt.Sprintf("User %02d", i),
			Email: fmt.Sprintf("user%02d@example.com", i),
			Age:   20 + i,
		})
		require.NoError(t, err)
	}

	page, err := f.dispatcher.List(ctx, ListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	require.Len(t, page.Records, 10)
	assert.Equal(t, "User 00", page.Records[0].Name)

	page3, err := f.dispatcher.List(ctx, ListOptions{Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page3.Records, 5)
	assert.Equal(t, "User 24", page3.Records[4].Name)

	// Past the end is an empty page, not an error
	empty, err := f.dispatcher.List(ctx, ListOptions{Page: 9, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, empty.Records)
	assert.Equal(t, 25, empty.Total)

	search, err := f.dispatcher.List(ctx, ListOptions{Query: "user1"})
	require.NoError(t, err)
	assert.Equal(t, 10, search.Total)

	byName, err := f.dispatcher.List(ctx, ListOptions{Query: "USER 07"})
	require.NoError(t, err)
	require.Len(t, byName.Records, 1)
	assert.Equal(t, "User 07", byName.Records[0].Name)
}

func TestImportEnqueuesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	csv := []byte("id,name,email,age,created_at,updated_at\n")
	id, err := f.dispatcher.Import(ctx, csv, envelope.ModeStrict)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := f.dispatcher.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, job.State)
	assert.Equal(t, envelope.OpBulkImport, job.Op)
	assert.Equal(t, 1, f.queue.Len())
}

func TestImportRejectsEmptyPayload(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Import(context.Background(), nil, envelope.ModeStrict)
	assert.ErrorIs(t, err, errors.ErrEmptyPayload)
	assert.Equal(t, 0, f.queue.Len())
}

func TestImportRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Import(context.Background(), []byte("x"), "wild")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestExportDefaultsToCSV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.dispatcher.Export(ctx, "")
	require.NoError(t, err)

	job, err := f.dispatcher.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, envelope.OpBulkExport, job.Op)

	_, err = f.dispatcher.Export(ctx, "parquet")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestEnqueueFailureSettlesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.Close()

	_, err := f.dispatcher.Import(ctx, []byte("x"), envelope.ModeLenient)
	assert.ErrorIs(t, err, errors.ErrBrokerUnavailable)
}

func TestResultStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.dispatcher.Export(ctx, "csv")
	require.NoError(t, err)

	// Still pending
	_, err = f.dispatcher.Result(ctx, id)
	assert.ErrorIs(t, err, errors.ErrJobNotCompleted)

	// Completed with output
	require.NoError(t, f.results.Put(ctx, "exports/"+id, []byte("id,name\n")))
	require.NoError(t, f.jobs.Complete(ctx, id, "exports/"+id))

	data, err := f.dispatcher.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n", string(data))
}

func TestResultCompletedWithoutOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.dispatcher.Export(ctx, "csv")
	require.NoError(t, err)
	require.NoError(t, f.jobs.Complete(ctx, id, ""))

	_, err = f.dispatcher.Result(ctx, id)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrJobNotFound)
}
