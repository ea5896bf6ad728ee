package redisclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/translation-orchestrator/shared/retry"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	URL                  string
	ConnectRetries       int
	ConnectRetryInterval time.Duration
}

// NewClient parses a redis:// or rediss:// URL and pings the server until it
// answers or the retry budget is spent. The caller owns the returned client.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = retry.Connect(ctx, logger, "redis", config.ConnectRetries, config.ConnectRetryInterval, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Successfully connected to Redis",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB),
	)
	return client, nil
}
