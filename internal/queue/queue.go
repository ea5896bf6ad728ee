// Package queue moves job envelopes between the orchestrator and workers.
//
// Three backends share one contract: Redis Streams consumer groups (durable,
// with stale-message reclaim), RabbitMQ (durable, broker redelivery) and an
// in-process queue for single-node use that loses unacknowledged work on crash.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrConsumerClosed is returned when a delivery channel closes before its
// consumer was asked to stop
var ErrConsumerClosed = errors.New("queue consumer closed")

// Message is one delivery of an envelope to a consumer
type Message struct {
	ID       string
	Stream   string
	Payload  map[string]any
	Attempts int
	Detail   string // set on dead-lettered envelopes

	tag uint64 // rabbitmq delivery tag
}

// JobID returns the payload's job_id, or "" when absent
func (m *Message) JobID() string {
	if m == nil || m.Payload == nil {
		return ""
	}
	id, _ := m.Payload["job_id"].(string)
	return id
}

// Publisher appends envelopes with attempts=0
type Publisher interface {
	Publish(ctx context.Context, stream string, payload map[string]any) error
}

// Queue is the full publish/consume contract
type Queue interface {
	Publisher

	// Consume starts delivering messages from stream. The channel is closed
	// when ctx is cancelled; it cannot be restarted.
	Consume(ctx context.Context, stream string) (<-chan *Message, error)

	// Ack removes the delivery from the pending set
	Ack(ctx context.Context, msg *Message) error

	// Requeue acks the delivery and schedules a new envelope carrying
	// nextAttempt on the same stream after delay. Scheduling does not block.
	Requeue(ctx context.Context, msg *Message, nextAttempt int, delay time.Duration) error

	// DeadLetter acks the delivery and appends the envelope plus detail to the dead stream
	DeadLetter(ctx context.Context, msg *Message, detail string) error

	// Close flushes scheduled requeues, bounded by ctx, and releases the backend
	Close(ctx context.Context) error
}
