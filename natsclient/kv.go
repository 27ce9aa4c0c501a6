package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/recordstream/pkg/retry"
)

// Well-known KV errors
var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operation behavior
type KVOptions struct {
	MaxRetries   int           // CAS retry attempts beyond the first
	RetryDelay   time.Duration // initial delay between retries
	Timeout      time.Duration // per-operation timeout
	MaxValueSize int           // reject values larger than this
}

// DefaultKVOptions returns the defaults used by the ledger and result stores
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:   10,
		RetryDelay:   10 * time.Millisecond,
		Timeout:      5 * time.Second,
		MaxValueSize: 1024 * 1024,
	}
}

// KVStore provides KV operations with built-in CAS retry
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
}

// NewKVStore wraps a bucket with CAS-aware operations
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{bucket: bucket, options: options}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put creates or replaces a key without a revision check
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Create writes a key only if it does not already exist
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

// Update performs a CAS write against an explicit revision
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

func (kv *KVStore) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// UpdateWithRetry applies updateFn to the current value under CAS, retrying
// on revision conflicts. A missing key is presented to updateFn as nil and
// created on success.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	err := retry.Do(ctx, kv.retryConfig(), func() error {
		var currentValue []byte
		var revision uint64

		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			currentValue = entry.Value
			revision = entry.Revision
		case IsKVNotFoundError(err):
			// Missing key: create path, revision stays 0
		default:
			return fmt.Errorf("kv get failed during update: %w", err)
		}

		newValue, err := updateFn(currentValue)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("update function error: %w", err))
		}

		if kv.options.MaxValueSize > 0 && len(newValue) > kv.options.MaxValueSize {
			return retry.NonRetryable(fmt.Errorf("value size %d exceeds maximum %d",
				len(newValue), kv.options.MaxValueSize))
		}

		if revision == 0 {
			_, err = kv.bucket.Create(ctx, key, newValue)
		} else {
			_, err = kv.Update(ctx, key, newValue, revision)
		}
		if err == nil {
			return nil
		}
		if IsKVConflictError(err) {
			// Another writer got in first, re-read and retry
			return err
		}
		return fmt.Errorf("kv write failed: %w", err)
	})

	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// Delete removes a key
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys lists all keys in the bucket. Returns an empty slice for an
// empty bucket.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// IsKVNotFoundError reports whether err indicates a missing key
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") ||
		strings.Contains(errMsg, "10037")
}

// IsKVConflictError reports whether err indicates a CAS conflict or
// create-on-existing-key
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, ErrKVKeyExists) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "wrong last sequence") ||
		strings.Contains(errMsg, "10071") ||
		strings.Contains(errMsg, "key exists") ||
		strings.Contains(errMsg, "10058")
}
