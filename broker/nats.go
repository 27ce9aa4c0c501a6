package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/recordstream/envelope"
	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/natsclient"
	"github.com/c360/recordstream/pkg/retry"
)

// QueueConfig describes the JetStream stream and consumer backing the
// job queue.
type QueueConfig struct {
	StreamName    string        `json:"stream_name"`
	SubjectPrefix string        `json:"subject_prefix"`
	Durable       string        `json:"durable"`
	AckWait       time.Duration `json:"ack_wait"`
	MaxDeliver    int           `json:"max_deliver"`
	EnqueueWait   time.Duration `json:"enqueue_wait"`
}

// DefaultQueueConfig returns the queue layout both binaries use
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		StreamName:    "RECORD_JOBS",
		SubjectPrefix: "jobs",
		Durable:       "record-workers",
		AckWait:       30 * time.Second,
		MaxDeliver:    -1,
		EnqueueWait:   5 * time.Second,
	}
}

// Validate checks the queue configuration
func (c QueueConfig) Validate() error {
	if c.StreamName == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "QueueConfig", "Validate", "stream_name")
	}
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "QueueConfig", "Validate", "subject_prefix")
	}
	if c.Durable == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "QueueConfig", "Validate", "durable")
	}
	return nil
}

// NATSQueue is the production queue: one JetStream stream, one durable
// consumer shared by all worker processes.
type NATSQueue struct {
	client *natsclient.Client
	config QueueConfig
	logger *slog.Logger
}

// NewNATSQueue creates a queue on an already-connected client and
// ensures the backing stream exists.
func NewNATSQueue(ctx context.Context, client *natsclient.Client, config QueueConfig, logger *slog.Logger) (*NATSQueue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{config.SubjectPrefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSQueue", "NewNATSQueue", "ensure stream")
	}

	return &NATSQueue{client: client, config: config, logger: logger}, nil
}

func (q *NATSQueue) subject(op envelope.Op) string {
	return fmt.Sprintf("%s.%s", q.config.SubjectPrefix, op)
}

// Enqueue publishes the envelope and waits for the stream's durable ack.
// Transient publish failures are retried with backoff; when the broker
// stays unreachable the caller gets ErrBrokerUnavailable.
func (q *NATSQueue) Enqueue(ctx context.Context, env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return errors.WrapInvalid(err, "NATSQueue", "Enqueue", "encode envelope")
	}

	if q.config.EnqueueWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.config.EnqueueWait)
		defer cancel()
	}

	err = retry.Do(ctx, retry.Quick(), func() error {
		return q.client.PublishToStream(ctx, q.subject(env.Op), data)
	})
	if err != nil {
		q.logger.Error("enqueue failed",
			"op", string(env.Op),
			"correlation_id", env.CorrelationID,
			"error", err)
		return errors.WrapTransient(errors.ErrBrokerUnavailable, "NATSQueue", "Enqueue", err.Error())
	}

	q.logger.Debug("job enqueued",
		"op", string(env.Op),
		"correlation_id", env.CorrelationID)
	return nil
}

// Subscribe attaches the durable consumer and delivers each envelope to
// handler with its ack handle. Messages that fail to decode are
// terminated rather than redelivered forever.
func (q *NATSQueue) Subscribe(ctx context.Context, handler Handler) error {
	cfg := jetstream.ConsumerConfig{
		Durable:       q.config.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.config.AckWait,
		MaxDeliver:    q.config.MaxDeliver,
		FilterSubject: q.config.SubjectPrefix + ".>",
	}

	return q.client.Consume(ctx, q.config.StreamName, cfg, func(msg jetstream.Msg) {
		env, err := envelope.Decode(msg.Data())
		if err != nil {
			q.logger.Error("dropping undecodable message",
				"subject", msg.Subject(),
				"error", err)
			if termErr := msg.Term(); termErr != nil {
				q.logger.Warn("terminate failed", "error", termErr)
			}
			return
		}

		meta, _ := msg.Metadata()
		if meta != nil && meta.NumDelivered > 1 {
			q.logger.Info("redelivered job",
				"correlation_id", env.CorrelationID,
				"delivery", meta.NumDelivered)
		}

		handler(ctx, env, natsAck{msg: msg})
	})
}

// Close detaches the durable consumer. The stream and its pending
// messages survive for the next subscriber.
func (q *NATSQueue) Close() {
	q.client.StopConsumer(q.config.StreamName, q.config.Durable)
}

type natsAck struct {
	msg jetstream.Msg
}

func (a natsAck) Ack() error { return a.msg.Ack() }
func (a natsAck) Nak() error { return a.msg.Nak() }
