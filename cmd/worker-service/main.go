package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/config"
	"github.com/cuongbtq/translation-orchestrator/internal/processor"
	"github.com/cuongbtq/translation-orchestrator/internal/queue"
	"github.com/cuongbtq/translation-orchestrator/internal/store"
	"github.com/cuongbtq/translation-orchestrator/internal/worker"
	"github.com/cuongbtq/translation-orchestrator/shared/logger"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("consumer", cfg.Queue.ConsumerName),
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer startupCancel()

	reporter, closeReporter, err := initReporter(startupCtx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer closeReporter()

	proc, err := processor.New(cfg.Worker.Processor, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	jobQueue := queue.Open(startupCtx, cfg.Queue, cfg.RabbitMQ, appLogger.Logger)

	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Queue:       jobQueue,
		Processor:   proc,
		Reporter:    reporter,
		Stream:      cfg.Queue.ReadyStream,
		WorkerID:    cfg.Queue.ConsumerName,
		Concurrency: cfg.Worker.Concurrency,
		MaxRetries:  cfg.Worker.MaxRetries,
		Backoff: worker.Backoff{
			Base:       cfg.Worker.BackoffBase,
			Multiplier: cfg.Worker.BackoffMultiplier,
			Max:        cfg.Worker.BackoffMax,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := workerInstance.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		closeQueue(jobQueue, cfg.Worker.ShutdownTimeout, appLogger.Logger)
		return err
	case <-done:
		// Run only returns on its own when consumption broke; exit so the
		// supervisor restarts the process.
		err := errors.New("worker stopped consuming")
		select {
		case err = <-errChan:
		default:
		}
		appLogger.Error("Worker exited unexpectedly", slog.Any("error", err))
		closeQueue(jobQueue, cfg.Worker.ShutdownTimeout, appLogger.Logger)
		return err
	}

	cancel()
	workerInstance.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	closeQueue(jobQueue, cfg.Worker.ShutdownTimeout, appLogger.Logger)

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// closeQueue flushes scheduled requeues within timeout
func closeQueue(q queue.Queue, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := q.Close(ctx); err != nil {
		logger.Warn("Queue close failed", slog.Any("error", err))
	}
}

// initReporter posts to the orchestrator when its base URL is configured and
// otherwise writes straight to the job store
func initReporter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (worker.Reporter, func(), error) {
	if cfg.Orchestrator.BaseURL != "" {
		logger.Info("Reporting status to orchestrator",
			slog.String("base_url", cfg.Orchestrator.BaseURL),
			slog.Duration("timeout", cfg.Orchestrator.Timeout),
		)
		reporter := worker.NewHTTPReporter(cfg.Orchestrator.BaseURL, cfg.Orchestrator.StatusEndpoint, cfg.Orchestrator.Timeout)
		return reporter, func() {}, nil
	}

	jobStore, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize job store: %w", err)
	}

	logger.Info("Reporting status directly to job store")
	return worker.NewStoreReporter(jobStore, logger), func() { jobStore.Close() }, nil
}
