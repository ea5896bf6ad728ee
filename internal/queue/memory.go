package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var _ Queue = (*Memory)(nil)

// Memory is an in-process queue for single-node and development use.
// It has no persistence and no reclaim: unacknowledged messages are lost
// when the process exits.
type Memory struct {
	mu         sync.Mutex
	streams    map[string]*memoryStream
	seq        uint64
	deadStream string
	maxLen     int64
	delayed    *scheduler
	logger     *slog.Logger
}

type memoryStream struct {
	ready   []*Message
	pending map[string]*Message
	notify  chan struct{}
}

// NewMemory creates an in-process queue. Dead-lettered envelopes are appended
// to deadStream; maxLen > 0 trims the oldest ready entries on publish.
func NewMemory(deadStream string, maxLen int64, logger *slog.Logger) *Memory {
	logger.Warn("Using in-memory queue; unacknowledged jobs are lost on restart. Configure a redis:// or amqp:// queue URL for production deployments.")

	return &Memory{
		streams:    make(map[string]*memoryStream),
		deadStream: deadStream,
		maxLen:     maxLen,
		delayed:    newScheduler(logger),
		logger:     logger,
	}
}

func (m *Memory) stream(name string) *memoryStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memoryStream{
			pending: make(map[string]*Message),
			notify:  make(chan struct{}),
		}
		m.streams[name] = s
	}
	return s
}

// append must be called with m.mu held
func (m *Memory) append(stream string, env Envelope) {
	s := m.stream(stream)

	m.seq++
	s.ready = append(s.ready, &Message{
		ID:       fmt.Sprintf("%d-%d", time.Now().UnixMilli(), m.seq),
		Stream:   stream,
		Payload:  env.Payload,
		Attempts: env.Attempts,
		Detail:   env.Detail,
	})
	if m.maxLen > 0 && int64(len(s.ready)) > m.maxLen {
		s.ready = s.ready[int64(len(s.ready))-m.maxLen:]
	}

	close(s.notify)
	s.notify = make(chan struct{})
}

// Publish appends an envelope with attempts=0
func (m *Memory) Publish(_ context.Context, stream string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.append(stream, Envelope{Payload: clonePayload(payload)})
	m.logger.Debug("Published message (in-memory)",
		slog.String("stream", stream),
	)
	return nil
}

// Consume delivers ready messages one at a time until ctx is cancelled
func (m *Memory) Consume(ctx context.Context, stream string) (<-chan *Message, error) {
	out := make(chan *Message)

	go func() {
		defer close(out)

		for {
			m.mu.Lock()
			s := m.stream(stream)
			if len(s.ready) == 0 {
				wait := s.notify
				m.mu.Unlock()

				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return
				}
			}

			msg := s.ready[0]
			s.ready = s.ready[1:]
			s.pending[msg.ID] = msg
			m.mu.Unlock()

			select {
			case out <- msg:
			case <-ctx.Done():
				m.mu.Lock()
				delete(s.pending, msg.ID)
				s.ready = append([]*Message{msg}, s.ready...)
				m.mu.Unlock()
				return
			}
		}
	}()

	return out, nil
}

// Ack drops the message from the pending set
func (m *Memory) Ack(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.stream(msg.Stream).pending, msg.ID)
	return nil
}

// Requeue acks msg and appends a copy with nextAttempt after delay
func (m *Memory) Requeue(ctx context.Context, msg *Message, nextAttempt int, delay time.Duration) error {
	if err := m.Ack(ctx, msg); err != nil {
		return err
	}

	env := Envelope{Payload: clonePayload(msg.Payload), Attempts: nextAttempt}
	m.delayed.After(delay, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.append(msg.Stream, env)
		return nil
	})

	m.logger.Warn("Scheduled job retry",
		slog.String("job_id", msg.JobID()),
		slog.String("message_id", msg.ID),
		slog.Int("attempt", nextAttempt),
		slog.Duration("delay", delay),
	)
	return nil
}

// DeadLetter acks msg and appends it with detail to the dead stream
func (m *Memory) DeadLetter(ctx context.Context, msg *Message, detail string) error {
	if err := m.Ack(ctx, msg); err != nil {
		return err
	}

	m.mu.Lock()
	m.append(m.deadStream, Envelope{Payload: msg.Payload, Attempts: msg.Attempts, Detail: detail})
	m.mu.Unlock()

	m.logger.Error("Moved job to dead-letter stream",
		slog.String("job_id", msg.JobID()),
		slog.String("message_id", msg.ID),
		slog.String("detail", detail),
	)
	return nil
}

// Close flushes delayed requeues
func (m *Memory) Close(ctx context.Context) error {
	return m.delayed.Close(ctx)
}

// Len returns the number of messages waiting on stream
func (m *Memory) Len(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stream(stream).ready)
}

// Pending returns the number of delivered but unacknowledged messages on stream
func (m *Memory) Pending(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stream(stream).pending)
}

// Scheduled returns the number of delayed requeues not yet published
func (m *Memory) Scheduled() int {
	return m.delayed.Pending()
}

// Drain removes and returns every waiting message on stream
func (m *Memory) Drain(stream string) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(stream)
	msgs := s.ready
	s.ready = nil
	return msgs
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
