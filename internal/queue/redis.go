package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Queue = (*RedisStream)(nil)

// RedisStreamOptions configures consumer-group reads
type RedisStreamOptions struct {
	Group          string
	Consumer       string
	DeadStream     string
	AckTimeout     time.Duration
	ClaimBatchSize int64
	ReadCount      int64
	Block          time.Duration
	MaxLen         int64
}

// RedisStream is a durable queue over Redis Streams consumer groups. Entries
// left pending longer than AckTimeout are reclaimed by the next consumer scan.
type RedisStream struct {
	client  redis.Cmdable
	closer  func() error
	opts    RedisStreamOptions
	groups  sync.Map
	delayed *scheduler
	logger  *slog.Logger
}

// NewRedisStream wraps an established client. closer, when non-nil, runs on Close.
func NewRedisStream(client redis.Cmdable, closer func() error, opts RedisStreamOptions, logger *slog.Logger) *RedisStream {
	if opts.ClaimBatchSize < 1 {
		opts.ClaimBatchSize = 1
	}
	if opts.ReadCount < 1 {
		opts.ReadCount = 1
	}
	if opts.Block < 100*time.Millisecond {
		opts.Block = 100 * time.Millisecond
	}

	return &RedisStream{
		client:  client,
		closer:  closer,
		opts:    opts,
		delayed: newScheduler(logger),
		logger:  logger,
	}
}

func (r *RedisStream) add(ctx context.Context, stream string, env Envelope) error {
	fields, err := env.Fields()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}
	if r.opts.MaxLen > 0 {
		args.MaxLen = r.opts.MaxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add entry to %s: %w", stream, err)
	}
	return nil
}

// Publish appends an envelope with attempts=0
func (r *RedisStream) Publish(ctx context.Context, stream string, payload map[string]any) error {
	if err := r.add(ctx, stream, Envelope{Payload: payload}); err != nil {
		r.logger.Error("Failed to publish message",
			slog.String("stream", stream),
			slog.Any("error", err),
		)
		return err
	}

	r.logger.Debug("Published message (redis stream)",
		slog.String("stream", stream),
	)
	return nil
}

// ensureGroup creates the consumer group (and stream) once, tolerating BUSYGROUP
func (r *RedisStream) ensureGroup(ctx context.Context, stream string) error {
	if _, ok := r.groups.Load(stream); ok {
		return nil
	}

	err := r.client.XGroupCreateMkStream(ctx, stream, r.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", r.opts.Group, stream, err)
	}
	if err == nil {
		r.logger.Info("Created consumer group",
			slog.String("stream", stream),
			slog.String("group", r.opts.Group),
		)
	}

	r.groups.Store(stream, struct{}{})
	return nil
}

// Consume reclaims stale pending entries, then reads new ones, forever
func (r *RedisStream) Consume(ctx context.Context, stream string) (<-chan *Message, error) {
	if err := r.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	out := make(chan *Message)

	go func() {
		defer close(out)

		for ctx.Err() == nil {
			stale, err := r.claimStale(ctx, stream)
			if err != nil {
				r.backoffOnError(ctx, "Failed to reclaim stale messages", stream, err)
				continue
			}
			if !r.deliver(ctx, out, stale) {
				return
			}

			fresh, err := r.readNew(ctx, stream)
			if err != nil {
				r.backoffOnError(ctx, "Failed to read from consumer group", stream, err)
				continue
			}
			if !r.deliver(ctx, out, fresh) {
				return
			}
		}
	}()

	return out, nil
}

// claimStale walks the whole pending entries list with XAUTOCLAIM, taking
// every entry idle for longer than the ack timeout
func (r *RedisStream) claimStale(ctx context.Context, stream string) ([]*Message, error) {
	if r.opts.AckTimeout <= 0 {
		return nil, nil
	}

	var claimed []*Message
	start := "0-0"
	for {
		entries, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    r.opts.Group,
			Consumer: r.opts.Consumer,
			MinIdle:  r.opts.AckTimeout,
			Start:    start,
			Count:    r.opts.ClaimBatchSize,
		}).Result()
		if err != nil {
			return claimed, err
		}

		// An empty batch only means nothing in the scanned window was stale;
		// the cursor decides when the pending list is exhausted.
		for _, entry := range entries {
			claimed = append(claimed, toMessage(stream, entry))
		}

		if next == "" || next == "0-0" {
			break
		}
		start = next
	}

	if len(claimed) > 0 {
		r.logger.Info("Reclaimed stale messages",
			slog.String("stream", stream),
			slog.Int("count", len(claimed)),
		)
	}
	return claimed, nil
}

func (r *RedisStream) readNew(ctx context.Context, stream string) ([]*Message, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.opts.Group,
		Consumer: r.opts.Consumer,
		Streams:  []string{stream, ">"},
		Count:    r.opts.ReadCount,
		Block:    r.opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var msgs []*Message
	for _, s := range streams {
		for _, entry := range s.Messages {
			msgs = append(msgs, toMessage(stream, entry))
		}
	}
	return msgs, nil
}

func (r *RedisStream) deliver(ctx context.Context, out chan<- *Message, msgs []*Message) bool {
	for _, msg := range msgs {
		select {
		case out <- msg:
		case <-ctx.Done():
			// Undelivered entries stay pending and are reclaimed after the ack timeout.
			return false
		}
	}
	return true
}

func (r *RedisStream) backoffOnError(ctx context.Context, msg, stream string, err error) {
	if ctx.Err() != nil {
		return
	}

	r.logger.Error(msg,
		slog.String("stream", stream),
		slog.Any("error", err),
	)

	select {
	case <-time.After(r.opts.Block):
	case <-ctx.Done():
	}
}

func toMessage(stream string, entry redis.XMessage) *Message {
	env := DecodeFields(entry.Values)
	return &Message{
		ID:       entry.ID,
		Stream:   stream,
		Payload:  env.Payload,
		Attempts: env.Attempts,
		Detail:   env.Detail,
	}
}

// Ack acknowledges and deletes the entry
func (r *RedisStream) Ack(ctx context.Context, msg *Message) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, msg.Stream, r.opts.Group, msg.ID)
		pipe.XDel(ctx, msg.Stream, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}

	r.logger.Debug("Acked message",
		slog.String("job_id", msg.JobID()),
		slog.String("message_id", msg.ID),
	)
	return nil
}

// Requeue acks msg and schedules a new entry with nextAttempt after delay
func (r *RedisStream) Requeue(ctx context.Context, msg *Message, nextAttempt int, delay time.Duration) error {
	if err := r.Ack(ctx, msg); err != nil {
		return err
	}

	env := Envelope{Payload: msg.Payload, Attempts: nextAttempt}
	r.delayed.After(delay, func(ctx context.Context) error {
		return r.add(ctx, msg.Stream, env)
	})

	r.logger.Warn("Scheduled job retry",
		slog.String("job_id", msg.JobID()),
		slog.String("message_id", msg.ID),
		slog.Int("attempt", nextAttempt),
		slog.Duration("delay", delay),
	)
	return nil
}

// DeadLetter acks msg and adds it with detail to the dead stream in one transaction
func (r *RedisStream) DeadLetter(ctx context.Context, msg *Message, detail string) error {
	fields, err := Envelope{Payload: msg.Payload, Attempts: msg.Attempts, Detail: detail}.Fields()
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, msg.Stream, r.opts.Group, msg.ID)
		pipe.XDel(ctx, msg.Stream, msg.ID)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: r.opts.DeadStream, Values: fields})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
	}

	r.logger.Error("Moved job to dead-letter stream",
		slog.String("job_id", msg.JobID()),
		slog.String("message_id", msg.ID),
		slog.String("detail", detail),
	)
	return nil
}

// Close flushes delayed requeues and closes the client
func (r *RedisStream) Close(ctx context.Context) error {
	err := r.delayed.Close(ctx)
	if r.closer != nil {
		if cerr := r.closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
