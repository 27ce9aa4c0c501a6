// Package broker moves job envelopes between the API process and the
// workers over a durable queue. Delivery is at-least-once: a message
// stays on the queue until its handler acknowledges it, and an unacked
// message is redelivered.
package broker

import (
	"context"

	"github.com/c360/recordstream/envelope"
)

// Ack is the acknowledgment handle passed to a message handler. Exactly
// one of Ack or Nak should be called once processing is decided. Calling
// neither leaves the message to time out and be redelivered.
type Ack interface {
	// Ack marks the message as processed and removes it from the queue
	Ack() error
	// Nak requests immediate redelivery
	Nak() error
}

// Handler processes one delivered envelope. Acknowledgment is the
// handler's responsibility.
type Handler func(ctx context.Context, env envelope.Envelope, ack Ack)

// Publisher enqueues job envelopes. Enqueue is synchronous from the
// caller's point of view: it returns only after the queue has durably
// accepted the message, or with an error after a bounded number of
// attempts.
type Publisher interface {
	Enqueue(ctx context.Context, env envelope.Envelope) error
}

// Subscriber delivers queued envelopes to a handler
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}
