//go:build integration

package results

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/natsclient"
	"github.com/c360/recordstream/testutil"
)

func newKVStore(ctx context.Context, t *testing.T) *KVStore {
	t.Helper()

	natsURL := testutil.StartNATS(ctx, t)

	client, err := natsclient.NewClient(natsURL)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	s, err := NewKVStore(ctx, client, jetstream.KeyValueConfig{
		Bucket: "test-results",
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	return s
}

func TestIntegration_KVResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(ctx, t)

	recs := testutil.Records(25)
	doc, err := testutil.CSVDocument(recs)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "exports/job-1", doc))

	got, err := s.Get(ctx, "exports/job-1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestIntegration_KVResultsListByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(ctx, t)

	require.NoError(t, s.Put(ctx, "exports/job-1", []byte("a")))
	require.NoError(t, s.Put(ctx, "exports/job-2", []byte("b")))
	require.NoError(t, s.Put(ctx, "reports/job-3", []byte("c")))

	keys, err := s.List(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/job-1", "exports/job-2"}, keys)

	keys, err = s.List(ctx, "reports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/job-3"}, keys)
}

func TestIntegration_KVResultsDelete(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(ctx, t)

	require.NoError(t, s.Put(ctx, "reports/job-1", []byte("report")))
	require.NoError(t, s.Delete(ctx, "reports/job-1"))

	_, err := s.Get(ctx, "reports/job-1")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	// Deleting a missing key stays idempotent
	assert.NoError(t, s.Delete(ctx, "reports/job-1"))
}
