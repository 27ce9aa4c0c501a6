// Package ledger tracks the lifecycle of async jobs and gives workers
// the idempotency check that makes at-least-once delivery safe. Every
// job is keyed by its correlation id; a redelivered message whose job
// already reached a terminal state is acknowledged without reprocessing.
package ledger

import (
	"context"
	"time"

	"github.com/c360/recordstream/envelope"
)

// State is the lifecycle state of a job
type State string

// Job lifecycle states. Completed and Failed are terminal.
const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// JobRecord is one ledger entry
type JobRecord struct {
	CorrelationID string      `json:"correlation_id"`
	Op            envelope.Op `json:"op"`
	State         State       `json:"state"`
	Error         string      `json:"error,omitempty"`
	ResultKey     string      `json:"result_key,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Ledger records job state transitions. Implementations must be safe
// for use from multiple goroutines, and the KV-backed one additionally
// spans processes.
type Ledger interface {
	// Create writes a pending entry for a newly enqueued job. Creating
	// an id that already exists is a no-op, so enqueue retries stay
	// idempotent.
	Create(ctx context.Context, correlationID string, op envelope.Op) error

	// Begin claims the job for processing. It returns false when the
	// job already reached a terminal state, which tells the worker to
	// ack the duplicate delivery and skip the work. A job stuck in
	// processing (a worker died mid-job) is claimable again.
	Begin(ctx context.Context, correlationID string, op envelope.Op) (bool, error)

	// Complete marks the job done. resultKey points at stored output
	// for jobs that produce any, and is empty otherwise.
	Complete(ctx context.Context, correlationID, resultKey string) error

	// Fail marks the job permanently failed with a diagnostic message
	Fail(ctx context.Context, correlationID, message string) error

	// Get returns the entry, or errors.ErrJobNotFound
	Get(ctx context.Context, correlationID string) (JobRecord, error)
}
