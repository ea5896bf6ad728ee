package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const delayedPublishTimeout = 10 * time.Second

// scheduler runs delayed requeues on timers and tracks them so Close can
// flush the ones still waiting instead of dropping them
type scheduler struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	flush   chan struct{}
	closed  bool
	pending atomic.Int64
	logger  *slog.Logger
}

func newScheduler(logger *slog.Logger) *scheduler {
	return &scheduler{
		flush:  make(chan struct{}),
		logger: logger,
	}
}

// After runs fn once delay has elapsed or the scheduler is closed, whichever
// comes first. After Close, fn runs immediately on the caller's goroutine.
func (s *scheduler) After(delay time.Duration, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.run(fn)
		return
	}
	s.wg.Add(1)
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.pending.Add(-1)

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-s.flush:
			}
		}
		s.run(fn)
	}()
}

func (s *scheduler) run(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), delayedPublishTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Error("Failed to publish delayed requeue",
			slog.Any("error", err),
		)
	}
}

// Pending returns the number of requeues still waiting
func (s *scheduler) Pending() int {
	return int(s.pending.Load())
}

// Close fires every waiting requeue now and waits for them, bounded by ctx
func (s *scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.flush)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delayed requeues still pending (%d): %w", s.Pending(), ctx.Err())
	}
}
