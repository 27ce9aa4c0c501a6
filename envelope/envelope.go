// Package envelope defines the wire format for a unit of asynchronous work.
//
// An Envelope is immutable once published. The operation tag is a closed set:
// the worker loop switches over it exhaustively, so adding an operation is a
// compile-time-checked extension, not an open-ended dynamic lookup. The
// correlation id is unique per logical request; it keys the idempotency
// ledger and routes export results back to the requesting caller.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/record"
)

// SchemaVersion is the current envelope wire schema version
const SchemaVersion = 1

// Op tags the operation an envelope carries
type Op string

// The closed set of envelope operations
const (
	OpCreate     Op = "create"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpBulkImport Op = "bulk_import"
	OpBulkExport Op = "bulk_export"
)

// Valid reports whether op is a known operation tag
func (op Op) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpBulkImport, OpBulkExport:
		return true
	default:
		return false
	}
}

// Envelope is one unit of asynchronous work
type Envelope struct {
	SchemaVersion int
	Op            Op
	CorrelationID string
	Payload       json.RawMessage
	EnqueuedAt    time.Time
}

// ImportMode selects how a bulk import treats malformed rows
type ImportMode string

// Import modes
const (
	// ModeStrict rejects the whole batch on the first malformed row,
	// leaving the store unchanged. Default for imports.
	ModeStrict ImportMode = "strict"
	// ModeLenient imports valid rows and reports malformed ones by line
	ModeLenient ImportMode = "lenient"
)

// CreatePayload carries a single-record create
type CreatePayload struct {
	Req record.CreateRequest `json:"req"`
}

// UpdatePayload carries a single-record update
type UpdatePayload struct {
	ID  string               `json:"id"`
	Req record.UpdateRequest `json:"req"`
}

// DeletePayload carries a single-record delete
type DeletePayload struct {
	ID string `json:"id"`
}

// BulkImportPayload carries a CSV document to import
type BulkImportPayload struct {
	CSV  []byte     `json:"csv"`
	Mode ImportMode `json:"mode"`
}

// BulkExportPayload requests a CSV export of the store snapshot
type BulkExportPayload struct {
	Format string `json:"format"` // only "csv" today
}

// New creates an envelope for the given operation with a fresh correlation id
func New(op Op, payload any) (Envelope, error) {
	if !op.Valid() {
		return Envelope{}, errors.WrapInvalid(errors.ErrUnknownOp, "envelope", "New", string(op))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.WrapInvalid(err, "envelope", "New", "marshal payload")
	}

	return Envelope{
		SchemaVersion: SchemaVersion,
		Op:            op,
		CorrelationID: uuid.New().String(),
		Payload:       data,
		EnqueuedAt:    time.Now(),
	}, nil
}

// Validate checks the envelope is publishable
func (e Envelope) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return errors.WrapInvalid(errors.ErrSchemaVersion, "Envelope", "Validate",
			fmt.Sprintf("schema version %d", e.SchemaVersion))
	}
	if !e.Op.Valid() {
		return errors.WrapInvalid(errors.ErrUnknownOp, "Envelope", "Validate", string(e.Op))
	}
	if e.CorrelationID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "missing correlation id")
	}
	if len(e.Payload) == 0 {
		return errors.WrapInvalid(errors.ErrEmptyPayload, "Envelope", "Validate", "missing payload")
	}
	return nil
}

// wireFormat is the JSON representation of an Envelope. Timestamps travel as
// unix milliseconds for cross-language stability.
type wireFormat struct {
	SchemaVersion int             `json:"schema_version"`
	Op            string          `json:"op"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    int64           `json:"enqueued_at"`
}

// Encode serializes the envelope for publishing
func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(wireFormat{
		SchemaVersion: e.SchemaVersion,
		Op:            string(e.Op),
		CorrelationID: e.CorrelationID,
		Payload:       e.Payload,
		EnqueuedAt:    e.EnqueuedAt.UnixMilli(),
	})
}

// Decode parses an envelope from its wire form. Unknown operation tags and
// schema versions fail as invalid so they are never silently retried.
func Decode(data []byte) (Envelope, error) {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, errors.WrapInvalid(err, "envelope", "Decode", "unmarshal wire format")
	}

	e := Envelope{
		SchemaVersion: wire.SchemaVersion,
		Op:            Op(wire.Op),
		CorrelationID: wire.CorrelationID,
		Payload:       wire.Payload,
		EnqueuedAt:    time.UnixMilli(wire.EnqueuedAt),
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// DecodePayload unmarshals the envelope payload into T
func DecodePayload[T any](e Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, errors.WrapInvalid(err, "envelope", "DecodePayload", "unmarshal payload")
	}
	return out, nil
}
