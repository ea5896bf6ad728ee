// Command standalone runs the orchestrator API and a worker in one process
// against an embedded SQLite store and the in-process queue. Queued work is
// lost if the process dies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/api/handler"
	"github.com/cuongbtq/translation-orchestrator/internal/api/router"
	"github.com/cuongbtq/translation-orchestrator/internal/config"
	"github.com/cuongbtq/translation-orchestrator/internal/processor"
	"github.com/cuongbtq/translation-orchestrator/internal/queue"
	"github.com/cuongbtq/translation-orchestrator/internal/store"
	"github.com/cuongbtq/translation-orchestrator/internal/worker"
	"github.com/cuongbtq/translation-orchestrator/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("STANDALONE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/standalone/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting standalone orchestrator",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("database", cfg.Database.URL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, err := store.Open(ctx, cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	defer jobStore.Close()

	jobQueue := queue.NewMemory(cfg.Queue.DeadStream, cfg.Queue.StreamMaxLength, appLogger.Logger)

	proc, err := processor.New(cfg.Worker.Processor, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Queue:       jobQueue,
		Processor:   proc,
		Reporter:    worker.NewStoreReporter(jobStore, appLogger.Logger),
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

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.SetupRouter(&handler.Dependencies{
			Logger:       appLogger.Logger,
			Store:        jobStore,
			Publisher:    jobQueue,
			ReadyStream:  cfg.Queue.ReadyStream,
			CancelStream: cfg.Queue.CancelStream,
		}, cfg.CORS.Origins()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("API listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return workerInstance.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down...")
		workerInstance.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Flush delayed requeues so nothing scheduled is dropped silently
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()
	if err := jobQueue.Close(closeCtx); err != nil {
		appLogger.Warn("Queue close failed", slog.Any("error", err))
	}
	if n := jobQueue.Len(cfg.Queue.ReadyStream); n > 0 {
		appLogger.Warn("Discarding queued jobs", slog.Int("count", n))
	}

	appLogger.Info("Standalone orchestrator stopped")
	return nil
}
