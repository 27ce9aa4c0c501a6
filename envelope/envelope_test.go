package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/record"
)

func TestNewEnvelope(t *testing.T) {
	e, err := New(OpCreate, CreatePayload{Req: record.CreateRequest{Name: "Ada", Email: "ada@example.com", Age: 36}})
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, e.SchemaVersion)
	assert.Equal(t, OpCreate, e.Op)
	assert.NotEmpty(t, e.CorrelationID)
	assert.WithinDuration(t, time.Now(), e.EnqueuedAt, time.Second)
	assert.NoError(t, e.Validate())
}

func TestNewRejectsUnknownOp(t *testing.T) {
	_, err := New(Op("bulk_resurrect"), DeletePayload{ID: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownOp)
}

func TestCorrelationIDsAreUnique(t *testing.T) {
	a, err := New(OpDelete, DeletePayload{ID: "x"})
	require.NoError(t, err)
	b, err := New(OpDelete, DeletePayload{ID: "x"})
	require.NoError(t, err)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig, err := New(OpBulkImport, BulkImportPayload{CSV: []byte("id,name\n"), Mode: ModeStrict})
	require.NoError(t, err)

	data, err := orig.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, orig.Op, decoded.Op)
	assert.Equal(t, orig.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, orig.EnqueuedAt.UnixMilli(), decoded.EnqueuedAt.UnixMilli())

	payload, err := DecodePayload[BulkImportPayload](decoded)
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, payload.Mode)
	assert.Equal(t, []byte("id,name\n"), payload.CSV)
}

func TestDecodeRejectsUnknownOp(t *testing.T) {
	_, err := Decode([]byte(`{"schema_version":1,"op":"explode","correlation_id":"c1","payload":{},"enqueued_at":0}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownOp)
}

func TestDecodeRejectsWrongSchemaVersion(t *testing.T) {
	_, err := Decode([]byte(`{"schema_version":9,"op":"create","correlation_id":"c1","payload":{},"enqueued_at":0}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchemaVersion)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateMissingFields(t *testing.T) {
	e := Envelope{SchemaVersion: SchemaVersion, Op: OpCreate, Payload: []byte("{}")}
	assert.Error(t, e.Validate()) // no correlation id

	e.CorrelationID = "c1"
	e.Payload = nil
	assert.ErrorIs(t, e.Validate(), errors.ErrEmptyPayload)
}

func TestDecodePayloadTypeMismatch(t *testing.T) {
	e, err := New(OpDelete, DeletePayload{ID: "x"})
	require.NoError(t, err)

	// Decoding into a compatible but different shape silently succeeds with
	// zero values; decoding into a scalar fails.
	_, err = DecodePayload[int](e)
	assert.Error(t, err)
}
