package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/translation-orchestrator/internal/config"
	"github.com/cuongbtq/translation-orchestrator/shared/rabbitmq"
	"github.com/cuongbtq/translation-orchestrator/shared/redisclient"
)

// Open builds the backend named by the queue URL scheme. When a durable
// backend cannot be constructed it logs the failure and returns the
// in-process queue instead.
func Open(ctx context.Context, qcfg config.QueueConfig, rcfg config.RabbitMQConfig, logger *slog.Logger) Queue {
	q, err := openDurable(ctx, qcfg, rcfg, logger)
	if err != nil {
		logger.Error("Falling back to in-memory queue",
			slog.Any("error", err),
		)
	}
	if q != nil {
		return q
	}
	return NewMemory(qcfg.DeadStream, qcfg.StreamMaxLength, logger)
}

// openDurable returns (nil, nil) when the URL asks for the in-process queue
func openDurable(ctx context.Context, qcfg config.QueueConfig, rcfg config.RabbitMQConfig, logger *slog.Logger) (Queue, error) {
	url := strings.TrimSpace(qcfg.URL)

	switch {
	case url == "", strings.HasPrefix(url, "memory://"):
		return nil, nil

	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		client, err := redisclient.NewClient(ctx, &redisclient.Config{
			URL:                  url,
			ConnectRetries:       qcfg.ConnectRetries,
			ConnectRetryInterval: qcfg.ConnectRetryInterval,
		}, logger)
		if err != nil {
			return nil, err
		}

		logger.Info("Redis stream queue initialised",
			slog.String("group", qcfg.ConsumerGroup),
			slog.String("consumer", qcfg.ConsumerName),
		)
		return NewRedisStream(client, client.Close, RedisStreamOptions{
			Group:          qcfg.ConsumerGroup,
			Consumer:       qcfg.ConsumerName,
			DeadStream:     qcfg.DeadStream,
			AckTimeout:     qcfg.AckTimeout,
			ClaimBatchSize: int64(qcfg.ClaimBatchSize),
			ReadCount:      int64(qcfg.ReadCount),
			Block:          qcfg.Block,
			MaxLen:         qcfg.StreamMaxLength,
		}, logger), nil

	case strings.HasPrefix(url, "amqp://"), strings.HasPrefix(url, "amqps://"):
		client, err := rabbitmq.NewClient(ctx, &rabbitmq.Config{
			URL:                url,
			ExchangeName:       rcfg.Exchange.Name,
			ExchangeType:       rcfg.Exchange.Type,
			ExchangeDurable:    rcfg.Exchange.Durable,
			ExchangeAutoDelete: rcfg.Exchange.AutoDelete,
			PrefetchCount:      rcfg.Consumer.PrefetchCount,
			RetryAttempts:      qcfg.ConnectRetries,
			RetryInterval:      qcfg.ConnectRetryInterval,
			Heartbeat:          rcfg.Connection.Heartbeat,
			ConnectionTimeout:  rcfg.Connection.ConnectionTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return NewRabbitMQ(client, qcfg.ConsumerName, qcfg.DeadStream, logger), nil

	default:
		return nil, fmt.Errorf("unsupported queue url scheme: %q", url)
	}
}
