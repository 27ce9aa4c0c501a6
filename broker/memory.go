package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/errors"
)

// MemoryQueue is an in-process queue with the same at-least-once
// contract as the NATS-backed one: a delivered envelope is requeued on
// Nak and dropped on Ack. Used by tests and single-process setups.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []envelope.Envelope
	handler  Handler
	closed   bool
	notify   chan struct{}
	draining sync.WaitGroup

	// Deliveries counts handler invocations, including redeliveries
	Deliveries atomic.Int64
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

// Enqueue adds the envelope to the queue. Accepted messages stay queued
// until a subscriber acks them.
func (q *MemoryQueue) Enqueue(_ context.Context, env envelope.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.WrapTransient(errors.ErrBrokerUnavailable, "MemoryQueue", "Enqueue", "queue closed")
	}
	q.pending = append(q.pending, env)
	q.wake()
	return nil
}

// Subscribe registers the handler and starts delivering. Only one
// subscriber is supported.
func (q *MemoryQueue) Subscribe(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "MemoryQueue", "Subscribe", "queue closed")
	}
	if q.handler != nil {
		q.mu.Unlock()
		return errors.WrapInvalid(errors.ErrSubscriptionFailed, "MemoryQueue", "Subscribe", "handler already registered")
	}
	q.handler = handler
	q.mu.Unlock()

	q.draining.Add(1)
	go q.deliverLoop(ctx)
	return nil
}

// Close stops delivery. Pending unacked messages are discarded, which
// is acceptable for the in-process case.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.wake()
	hasSubscriber := q.handler != nil
	q.mu.Unlock()

	if hasSubscriber {
		q.draining.Wait()
	}
}

// Len returns the number of queued, undelivered messages
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) deliverLoop(ctx context.Context) {
	defer q.draining.Done()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		var env envelope.Envelope
		have := false
		if len(q.pending) > 0 {
			env = q.pending[0]
			q.pending = q.pending[1:]
			have = true
		}
		handler := q.handler
		q.mu.Unlock()

		if !have {
			select {
			case <-q.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		q.Deliveries.Add(1)
		handler(ctx, env, &memoryAck{queue: q, env: env})

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

type memoryAck struct {
	queue   *MemoryQueue
	env     envelope.Envelope
	settled atomic.Bool
}

// Ack drops the message
func (a *memoryAck) Ack() error {
	a.settled.CompareAndSwap(false, true)
	return nil
}

// Nak puts the message back at the head of the queue
func (a *memoryAck) Nak() error {
	if a.settled.CompareAndSwap(false, true) {
		a.queue.mu.Lock()
		if !a.queue.closed {
			a.queue.pending = append([]envelope.Envelope{a.env}, a.queue.pending...)
			a.queue.wake()
		}
		a.queue.mu.Unlock()
	}
	return nil
}
