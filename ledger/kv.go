package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/natsclient"
	"github.com/c360/recordstream/pkg/retry"
)

// KVLedger stores job state in a NATS KV bucket so the API and worker
// processes share one view. Terminal-vs-claim races between workers are
// settled by the bucket's revision CAS.
type KVLedger struct {
	kv  *natsclient.KVStore
	now func() time.Time
}

// DefaultLedgerBucket is the bucket config used when none is supplied.
// The TTL prunes finished jobs so the bucket does not grow without
// bound.
func DefaultLedgerBucket() jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{
		Bucket: "record-jobs",
		TTL:    24 * time.Hour,
	}
}

// NewKVLedger creates the bucket if needed and returns the ledger
func NewKVLedger(ctx context.Context, client *natsclient.Client, cfg jetstream.KeyValueConfig) (*KVLedger, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVLedger", "NewKVLedger", "create bucket")
	}
	return &KVLedger{kv: client.NewKVStore(bucket), now: time.Now}, nil
}

// Create writes a pending entry unless the id already exists
func (l *KVLedger) Create(ctx context.Context, correlationID string, op envelope.Op) error {
	now := l.now().UTC()
	data, err := json.Marshal(JobRecord{
		CorrelationID: correlationID,
		Op:            op,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return errors.WrapFatal(err, "KVLedger", "Create", "marshal entry")
	}

	_, err = l.kv.Create(ctx, correlationID, data)
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			// Entry exists, enqueue retry path
			return nil
		}
		return errors.WrapTransient(err, "KVLedger", "Create", correlationID)
	}
	return nil
}

// Begin claims the job under CAS, returning false for terminal-state
// duplicates.
func (l *KVLedger) Begin(ctx context.Context, correlationID string, op envelope.Op) (bool, error) {
	claimed := true
	err := l.kv.UpdateWithRetry(ctx, correlationID, func(current []byte) ([]byte, error) {
		now := l.now().UTC()

		var job JobRecord
		if len(current) == 0 {
			job = JobRecord{
				CorrelationID: correlationID,
				Op:            op,
				State:         StateProcessing,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
		} else {
			if err := json.Unmarshal(current, &job); err != nil {
				return nil, retry.NonRetryable(errors.WrapFatal(err, "KVLedger", "Begin", "unmarshal entry"))
			}
			if job.State.Terminal() {
				claimed = false
				// Terminal entries are left untouched. Rewriting the
				// same bytes keeps the CAS write path uniform.
				return current, nil
			}
			job.State = StateProcessing
			job.UpdatedAt = now
		}
		claimed = true
		return json.Marshal(job)
	})
	if err != nil {
		return false, errors.WrapTransient(err, "KVLedger", "Begin", correlationID)
	}
	return claimed, nil
}

func (l *KVLedger) settle(ctx context.Context, correlationID string, state State, errMsg, resultKey string) error {
	found := true
	err := l.kv.UpdateWithRetry(ctx, correlationID, func(current []byte) ([]byte, error) {
		if len(current) == 0 {
			found = false
			return nil, retry.NonRetryable(errors.ErrJobNotFound)
		}
		var job JobRecord
		if err := json.Unmarshal(current, &job); err != nil {
			return nil, retry.NonRetryable(errors.WrapFatal(err, "KVLedger", "settle", "unmarshal entry"))
		}
		job.State = state
		job.Error = errMsg
		job.ResultKey = resultKey
		job.UpdatedAt = l.now().UTC()
		return json.Marshal(job)
	})
	if err != nil {
		if !found {
			return errors.WrapInvalid(errors.ErrJobNotFound, "KVLedger", "settle", correlationID)
		}
		return errors.WrapTransient(err, "KVLedger", "settle", correlationID)
	}
	return nil
}

// Complete marks the job done
func (l *KVLedger) Complete(ctx context.Context, correlationID, resultKey string) error {
	return l.settle(ctx, correlationID, StateCompleted, "", resultKey)
}

// Fail marks the job permanently failed
func (l *KVLedger) Fail(ctx context.Context, correlationID, message string) error {
	return l.settle(ctx, correlationID, StateFailed, message, "")
}

// Get returns the entry for the correlation id
func (l *KVLedger) Get(ctx context.Context, correlationID string) (JobRecord, error) {
	entry, err := l.kv.Get(ctx, correlationID)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return JobRecord{}, errors.WrapInvalid(errors.ErrJobNotFound, "KVLedger", "Get", correlationID)
		}
		return JobRecord{}, errors.WrapTransient(err, "KVLedger", "Get", correlationID)
	}

	var job JobRecord
	if err := json.Unmarshal(entry.Value, &job); err != nil {
		return JobRecord{}, errors.WrapFatal(err, "KVLedger", "Get", "unmarshal entry")
	}
	return job, nil
}
