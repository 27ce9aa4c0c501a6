//go:build integration

package broker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/natsclient"
	"github.com/c360/recordstream/record"
	"github.com/c360/recordstream/testutil"
)

func newNATSQueue(ctx context.Context, t *testing.T, config QueueConfig) *NATSQueue {
	t.Helper()

	natsURL := testutil.StartNATS(ctx, t)

	client, err := natsclient.NewClient(natsURL)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q, err := NewNATSQueue(ctx, client, config, logger)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func newJobEnvelope(t *testing.T) envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.OpCreate, record.CreateRequest{
		Name:  "Grace Hopper",
		Email: "grace@example.com",
		Age:   52,
	})
	require.NoError(t, err)
	return env
}

func TestIntegration_EnqueueAndConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newNATSQueue(ctx, t, DefaultQueueConfig())

	env := newJobEnvelope(t)
	require.NoError(t, q.Enqueue(ctx, env))

	received := make(chan envelope.Envelope, 1)
	err := q.Subscribe(ctx, func(ctx context.Context, got envelope.Envelope, ack Ack) {
		received <- got
		require.NoError(t, ack.Ack())
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, env.CorrelationID, got.CorrelationID)
		assert.Equal(t, envelope.OpCreate, got.Op)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestIntegration_NakTriggersRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := DefaultQueueConfig()
	config.AckWait = time.Second
	q := newNATSQueue(ctx, t, config)

	require.NoError(t, q.Enqueue(ctx, newJobEnvelope(t)))

	var deliveries atomic.Int32
	done := make(chan struct{})
	err := q.Subscribe(ctx, func(ctx context.Context, got envelope.Envelope, ack Ack) {
		// First delivery is refused; the second one settles the job
		if deliveries.Add(1) == 1 {
			require.NoError(t, ack.Nak())
			return
		}
		require.NoError(t, ack.Ack())
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
		assert.GreaterOrEqual(t, deliveries.Load(), int32(2))
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for redelivery")
	}
}

func TestIntegration_WorkQueueRemovesAckedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newNATSQueue(ctx, t, DefaultQueueConfig())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, newJobEnvelope(t)))
	}

	var acked atomic.Int32
	err := q.Subscribe(ctx, func(ctx context.Context, got envelope.Envelope, ack Ack) {
		require.NoError(t, ack.Ack())
		acked.Add(1)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return acked.Load() == 5 },
		10*time.Second, 50*time.Millisecond)

	// The work queue retains nothing once every delivery is acked, so a
	// second consumer on a fresh durable sees no messages.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(5), acked.Load())
}
