package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/errors"
)

// MemoryLedger keeps job state in a map. It covers tests and
// single-process deployments; anything with separate API and worker
// processes needs the KV-backed ledger.
type MemoryLedger struct {
	mu   sync.RWMutex
	jobs map[string]JobRecord
	now  func() time.Time
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{jobs: make(map[string]JobRecord), now: time.Now}
}

// Create writes a pending entry unless the id already exists
func (l *MemoryLedger) Create(_ context.Context, correlationID string, op envelope.Op) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.jobs[correlationID]; ok {
		return nil
	}
	now := l.now().UTC()
	l.jobs[correlationID] = JobRecord{
		CorrelationID: correlationID,
		Op:            op,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// Begin claims the job, returning false for terminal-state duplicates
func (l *MemoryLedger) Begin(_ context.Context, correlationID string, op envelope.Op) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	job, ok := l.jobs[correlationID]
	if !ok {
		// Delivery beat the ledger write, or the entry was pruned.
		// Claim it fresh so the job is not lost.
		l.jobs[correlationID] = JobRecord{
			CorrelationID: correlationID,
			Op:            op,
			State:         StateProcessing,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return true, nil
	}

	if job.State.Terminal() {
		return false, nil
	}

	job.State = StateProcessing
	job.UpdatedAt = now
	l.jobs[correlationID] = job
	return true, nil
}

func (l *MemoryLedger) settle(correlationID string, state State, errMsg, resultKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[correlationID]
	if !ok {
		return errors.WrapInvalid(errors.ErrJobNotFound, "MemoryLedger", "settle", correlationID)
	}
	job.State = state
	job.Error = errMsg
	job.ResultKey = resultKey
	job.UpdatedAt = l.now().UTC()
	l.jobs[correlationID] = job
	return nil
}

// Complete marks the job done
func (l *MemoryLedger) Complete(_ context.Context, correlationID, resultKey string) error {
	return l.settle(correlationID, StateCompleted, "", resultKey)
}

// Fail marks the job permanently failed
func (l *MemoryLedger) Fail(_ context.Context, correlationID, message string) error {
	return l.settle(correlationID, StateFailed, message, "")
}

// Get returns the entry for the correlation id
func (l *MemoryLedger) Get(_ context.Context, correlationID string) (JobRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	job, ok := l.jobs[correlationID]
	if !ok {
		return JobRecord{}, errors.WrapInvalid(errors.ErrJobNotFound, "MemoryLedger", "Get", correlationID)
	}
	return job, nil
}
