package queue

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/translation-orchestrator/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	readyStream = "jobs.ready"
	deadStream  = "jobs.dead"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	q := NewMemory(deadStream, 0, logger.NewNop().Logger)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return q
}

func receive(t *testing.T, msgs <-chan *Message) *Message {
	t.Helper()
	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "consume channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestMemory_PublishConsumeAck(t *testing.T) {
	q := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, readyStream, map[string]any{"job_id": "job-1"}))
	require.NoError(t, q.Publish(ctx, readyStream, map[string]any{"job_id": "job-2"}))

	msgs, err := q.Consume(ctx, readyStream)
	require.NoError(t, err)

	first := receive(t, msgs)
	assert.Equal(t, "job-1", first.JobID())
	assert.Equal(t, 0, first.Attempts)
	assert.Equal(t, readyStream, first.Stream)
	assert.NotEmpty(t, first.ID)

	second := receive(t, msgs)
	assert.Equal(t, "job-2", second.JobID())

	assert.Equal(t, 2, q.Pending(readyStream))
	require.NoError(t, q.Ack(ctx, first))
	require.NoError(t, q.Ack(ctx, second))
	assert.Equal(t, 0, q.Pending(readyStream))
}

func TestMemory_ConsumeWakesOnPublish(t *testing.T) {
	q := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Consume(ctx, readyStream)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Publish(ctx, readyStream, map[string]any{"job_id": "late"})
	}()

	assert.Equal(t, "late", receive(t, msgs).JobID())
}

func TestMemory_EachMessageDeliveredOnce(t *testing.T) {
	q := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := q.Consume(ctx, readyStream)
	require.NoError(t, err)
	b, err := q.Consume(ctx, readyStream)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Publish(ctx, readyStream, map[string]any{"n": i}))
	}

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		var msg *Message
		select {
		case msg = <-a:
		case msg = <-b:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
		assert.False(t, seen[msg.ID], "duplicate delivery of %s", msg.ID)
		seen[msg.ID] = true
	}
	assert.Len(t, seen, 10)
}

func TestMemory_ConsumeClosesOnCancel(t *testing.T) {
	q := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := q.Consume(ctx, readyStream)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestMemory_RequeueAfterDelay(t *testing.T) {
	q := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, readyStream, map[string]any{"job_id": "job-1"}))
	msg := q.Drain(readyStream)[0]

	require.NoError(t, q.Requeue(ctx, msg, 1, 50*time.Millisecond))
	assert.Equal(t, 0, q.Len(readyStream))
	assert.Equal(t, 1, q.Scheduled())

	assert.Eventually(t, func() bool { return q.Len(readyStream) == 1 }, 2*time.Second, 5*time.Millisecond)

	retried := q.Drain(readyStream)[0]
	assert.Equal(t, 1, retried.Attempts)
	assert.Equal(t, "job-1", retried.JobID())
	assert.NotEqual(t, msg.ID, retried.ID)
	assert.Eventually(t, func() bool { return q.Scheduled() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemory_DeadLetter(t *testing.T) {
	q := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, readyStream, map[string]any{"job_id": "job-1"}))
	msgs, err := q.Consume(ctx, readyStream)
	require.NoError(t, err)
	msg := receive(t, msgs)
	msg.Attempts = 3

	require.NoError(t, q.DeadLetter(ctx, msg, "Processor exploded"))
	assert.Equal(t, 0, q.Pending(readyStream))

	dead := q.Drain(deadStream)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-1", dead[0].JobID())
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "Processor exploded", dead[0].Detail)
}

func TestMemory_CloseFlushesDelayedRequeues(t *testing.T) {
	q := NewMemory(deadStream, 0, logger.NewNop().Logger)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, readyStream, map[string]any{"job_id": "job-1"}))
	msg := q.Drain(readyStream)[0]
	require.NoError(t, q.Requeue(ctx, msg, 2, time.Hour))
	assert.Equal(t, 1, q.Scheduled())

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(closeCtx))

	assert.Equal(t, 0, q.Scheduled())
	msgs := q.Drain(readyStream)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].Attempts)
}

func TestMemory_StreamMaxLength(t *testing.T) {
	q := NewMemory(deadStream, 2, logger.NewNop().Logger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish(ctx, readyStream, map[string]any{"n": i}))
	}

	msgs := q.Drain(readyStream)
	require.Len(t, msgs, 2)
	assert.Equal(t, 3, msgs[0].Payload["n"])
	assert.Equal(t, 4, msgs[1].Payload["n"])
}
