// Package retry wraps cenkalti/backoff with the bounded linear policy used when
// dialing networked backends at process start.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Linear waits interval, 2*interval, 3*interval, ... between attempts
type Linear struct {
	Interval time.Duration
	attempt  int
}

// NextBackOff implements backoff.BackOff
func (l *Linear) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.Interval
}

// Reset implements backoff.BackOff
func (l *Linear) Reset() {
	l.attempt = 0
}

// Connect runs dial up to attempts times with linear backoff, logging every failure.
// A non-positive attempts value means a single try.
func Connect(ctx context.Context, logger *slog.Logger, target string, attempts int, interval time.Duration, dial func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&Linear{Interval: interval}, uint64(attempts-1)),
		ctx,
	)

	op := func() error {
		attempt++
		logger.Info("Connecting",
			slog.String("target", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)
		return dial()
	}

	notify := func(err error, wait time.Duration) {
		logger.Error("Connection attempt failed",
			slog.String("target", target),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", wait),
			slog.Any("error", err),
		)
	}

	return backoff.RetryNotify(op, policy, notify)
}
