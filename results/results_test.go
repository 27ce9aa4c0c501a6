package results

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/recordstream/errors"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "exports/job-1.csv", []byte("id,name\n")))

	data, err := s.Get(ctx, "exports/job-1.csv")
	require.NoError(t, err)
	assert.Equal(t, "id,name\n", string(data))
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v1")))
	require.NoError(t, s.Put(ctx, "k", []byte("v2")))

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestMemoryStoreIsolatesCallerBuffers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, s.Put(ctx, "k", buf))
	buf[0] = 'X'

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	// Mutating the returned slice must not affect the stored value
	data[0] = 'Y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

func TestMemoryStoreListByPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "exports/job-2.csv", []byte("b")))
	require.NoError(t, s.Put(ctx, "exports/job-1.csv", []byte("a")))
	require.NoError(t, s.Put(ctx, "reports/job-3.json", []byte("c")))

	keys, err := s.List(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/job-1.csv", "exports/job-2.csv"}, keys)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestKVKeyMapping(t *testing.T) {
	assert.Equal(t, "exports.job-1", toKVKey("exports/job-1"))
	assert.Equal(t, "exports/job-1", fromKVKey(toKVKey("exports/job-1")))
}
