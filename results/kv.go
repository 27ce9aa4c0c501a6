package results

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/natsclient"
)

// KVStore backs the result store with a NATS KV bucket so output
// written by a worker is readable from the API process.
//
// Result keys use '/' separators; KV keys use '.', so the two are
// mapped at the boundary. Key segments must not themselves contain
// '.' for the mapping to round-trip, which holds for the
// prefix-plus-correlation-id keys the workers generate.
type KVStore struct {
	kv *natsclient.KVStore
}

// DefaultResultsBucket returns the bucket config used when none is
// supplied. Results expire with the ledger entries that point at them.
func DefaultResultsBucket() jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{
		Bucket: "record-results",
		TTL:    24 * time.Hour,
	}
}

// NewKVStore creates the bucket if needed and returns the store
func NewKVStore(ctx context.Context, client *natsclient.Client, cfg jetstream.KeyValueConfig) (*KVStore, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "NewKVStore", "create bucket")
	}
	return &KVStore{kv: client.NewKVStore(bucket)}, nil
}

func toKVKey(key string) string   { return strings.ReplaceAll(key, "/", ".") }
func fromKVKey(key string) string { return strings.ReplaceAll(key, ".", "/") }

// Put stores data at the key
func (s *KVStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, toKVKey(key), data); err != nil {
		return errors.WrapTransient(err, "KVStore", "Put", key)
	}
	return nil
}

// Get retrieves the data for the key
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, toKVKey(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrNotFound, "KVStore", "Get", key)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", key)
	}
	return entry.Value, nil
}

// List returns matching keys in lexicographic order
func (s *KVStore) List(ctx context.Context, prefix string) ([]string, error) {
	all, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "List", prefix)
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		mapped := fromKVKey(k)
		if strings.HasPrefix(mapped, prefix) {
			keys = append(keys, mapped)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the key
func (s *KVStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, toKVKey(key))
	if err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "KVStore", "Delete", key)
	}
	return nil
}
