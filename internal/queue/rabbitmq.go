package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/translation-orchestrator/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Queue = (*RabbitMQ)(nil)

// RabbitMQ is a durable queue over a direct exchange. Each stream is a
// durable queue; unacknowledged deliveries return to the queue when the
// consumer's channel closes, which is how a crashed worker's jobs are reclaimed.
type RabbitMQ struct {
	client     *rabbitmq.Client
	consumer   string
	deadStream string
	delayed    *scheduler
	logger     *slog.Logger
}

// NewRabbitMQ wraps a connected client
func NewRabbitMQ(client *rabbitmq.Client, consumer, deadStream string, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		client:     client,
		consumer:   consumer,
		deadStream: deadStream,
		delayed:    newScheduler(logger),
		logger:     logger,
	}
}

func (q *RabbitMQ) send(ctx context.Context, stream string, env Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	return q.client.Publish(ctx, stream, body, amqp.Table{FieldAttempts: int32(env.Attempts)})
}

// Publish appends an envelope with attempts=0
func (q *RabbitMQ) Publish(ctx context.Context, stream string, payload map[string]any) error {
	return q.send(ctx, stream, Envelope{Payload: payload})
}

// Consume forwards deliveries until ctx is cancelled or the channel closes
func (q *RabbitMQ) Consume(ctx context.Context, stream string) (<-chan *Message, error) {
	deliveries, err := q.client.Consume(stream, q.consumer)
	if err != nil {
		return nil, err
	}

	out := make(chan *Message)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case delivery, ok := <-deliveries:
				if !ok {
					q.logger.Warn("RabbitMQ delivery channel closed",
						slog.String("stream", stream),
					)
					return
				}

				env := Unmarshal(delivery.Body)
				msg := &Message{
					ID:       strconv.FormatUint(delivery.DeliveryTag, 10),
					Stream:   stream,
					Payload:  env.Payload,
					Attempts: env.Attempts,
					Detail:   env.Detail,
					tag:      delivery.DeliveryTag,
				}

				select {
				case out <- msg:
				case <-ctx.Done():
					// Return the message so it can be reprocessed
					if err := q.client.Nack(delivery.DeliveryTag, true); err != nil {
						q.logger.Error("Failed to NACK message on shutdown",
							slog.Any("error", err),
						)
					}
					return
				}
			}
		}
	}()

	return out, nil
}

// Ack acknowledges the delivery
func (q *RabbitMQ) Ack(_ context.Context, msg *Message) error {
	if err := q.client.Ack(msg.tag); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}
	return nil
}

// Requeue acks the delivery and republishes with nextAttempt after delay
func (q *RabbitMQ) Requeue(ctx context.Context, msg *Message, nextAttempt int, delay time.Duration) error {
	if err := q.Ack(ctx, msg); err != nil {
		return err
	}

	env := Envelope{Payload: msg.Payload, Attempts: nextAttempt}
	q.delayed.After(delay, func(ctx context.Context) error {
		return q.send(ctx, msg.Stream, env)
	})

	q.logger.Warn("Scheduled job retry",
		slog.String("job_id", msg.JobID()),
		slog.String("message_id", msg.ID),
		slog.Int("attempt", nextAttempt),
		slog.Duration("delay", delay),
	)
	return nil
}

// DeadLetter publishes the envelope with detail to the dead stream, then acks
func (q *RabbitMQ) DeadLetter(ctx context.Context, msg *Message, detail string) error {
	env := Envelope{Payload: msg.Payload, Attempts: msg.Attempts, Detail: detail}
	if err := q.send(ctx, q.deadStream, env); err != nil {
		return err
	}
	if err := q.Ack(ctx, msg); err != nil {
		return err
	}

	q.logger.Error("Moved job to dead-letter stream",
		slog.String("job_id", msg.JobID()),
		slog.String("message_id", msg.ID),
		slog.String("detail", detail),
	)
	return nil
}

// Close flushes delayed requeues and closes the connection
func (q *RabbitMQ) Close(ctx context.Context) error {
	err := q.delayed.Close(ctx)
	if cerr := q.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
