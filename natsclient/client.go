// Package natsclient manages the NATS connection shared by the broker client
// and the KV-backed stores. It wraps connection lifecycle, a circuit breaker
// for repeated failures, JetStream stream management, and durable consumers
// with explicit per-message acknowledgment.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/recordstream/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Client errors
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client manages a NATS connection with a circuit breaker
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.Mutex

	// Circuit breaker
	failures         atomic.Int32
	circuitThreshold int32
	backoff          atomic.Int64 // time.Duration
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a NATS client for the given server URL
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		consumers:        make(map[string]jetstream.ConsumeContext),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(int64(time.Second))

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is established
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures returns the current failure count
func (c *Client) Failures() int32 { return c.failures.Load() }

func (c *Client) setStatus(s ConnectionStatus) { c.status.Store(s) }

func (c *Client) recordFailure() {
	n := c.failures.Add(1)
	if n >= c.circuitThreshold && c.Status() != StatusCircuitOpen {
		backoff := time.Duration(c.backoff.Load())
		next := backoff * 2
		if next > c.maxBackoff {
			next = c.maxBackoff
		}
		c.backoff.Store(int64(next))
		c.setStatus(StatusCircuitOpen)
		c.logger.Warn("nats circuit breaker opened",
			"failures", n, "backoff", backoff.String())

		time.AfterFunc(backoff, func() {
			if c.Status() == StatusCircuitOpen {
				c.setStatus(StatusDisconnected)
			}
		})
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.backoff.Store(int64(time.Second))
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// Connect establishes the connection and initializes JetStream
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)

	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			if err != nil {
				c.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.resetCircuit()
			c.logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusDisconnected)
		}),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.recordFailure()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("connected to nats", "url", c.url)
	return nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.consumersMu.Lock()
	for name, cc := range c.consumers {
		cc.Stop()
		c.logger.Debug("stopped consumer", "name", name)
	}
	c.consumers = nil
	c.consumersMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() { drainDone <- c.conn.Drain() }()

	var drainErr error
	select {
	case err := <-drainDone:
		drainErr = err
	case <-time.After(drainTimeout):
		drainErr = fmt.Errorf("drain timeout after %v", drainTimeout)
	case <-ctx.Done():
		drainErr = ctx.Err()
	}

	c.conn.Close()
	c.conn = nil
	c.setStatus(StatusDisconnected)

	if drainErr != nil {
		return errors.Wrap(drainErr, "Client", "Close", "drain connection")
	}
	return nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// EnsureStream creates the stream if it does not already exist
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream")
	}
	c.resetCircuit()
	return stream, nil
}

// PublishToStream publishes to a JetStream subject and waits for the
// broker's durable ack.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish")
	}
	c.resetCircuit()
	return nil
}

// Consume creates (or resumes) a durable consumer on the stream and invokes
// handler for each delivered message. The handler owns acknowledgment:
// nothing is acked on its behalf, so an unacked message is redelivered after
// the consumer's AckWait.
func (c *Client) Consume(ctx context.Context, streamName string,
	cfg jetstream.ConsumerConfig, handler func(jetstream.Msg)) error {

	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Consume", "client closed")
	}
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, cfg)
	if err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "Consume", "create consumer")
	}

	cc, err := consumer.Consume(handler)
	if err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "Consume", "start consuming")
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	if c.closed.Load() {
		cc.Stop()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Consume", "client closed during registration")
	}
	key := fmt.Sprintf("%s:%s", streamName, cfg.Durable)
	if existing, ok := c.consumers[key]; ok {
		existing.Stop()
	}
	c.consumers[key] = cc

	c.resetCircuit()
	return nil
}

// StopConsumer stops the consumer registered for the stream/durable pair
func (c *Client) StopConsumer(streamName, durable string) {
	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	key := fmt.Sprintf("%s:%s", streamName, durable)
	if cc, ok := c.consumers[key]; ok {
		cc.Stop()
		delete(c.consumers, key)
	}
}

// CreateKeyValueBucket creates or opens a KV bucket
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		// Bucket may have been created concurrently
		if bucket, getErr := js.KeyValue(ctx, cfg.Bucket); getErr == nil {
			c.resetCircuit()
			return bucket, nil
		}
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", cfg.Bucket)
	}

	c.resetCircuit()
	return bucket, nil
}
