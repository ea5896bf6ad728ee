package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/translation-orchestrator/internal/processor"
	"github.com/cuongbtq/translation-orchestrator/internal/queue"
)

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Queue       queue.Queue
	Processor   processor.Processor
	Reporter    Reporter
	Stream      string
	WorkerID    string
	Concurrency int
	MaxRetries  int
	Backoff     Backoff
}

// Worker consumes ready messages and drives each job through the processor
type Worker struct {
	logger      *slog.Logger
	queue       queue.Queue
	processor   processor.Processor
	reporter    Reporter
	stream      string
	workerID    string
	concurrency int
	maxRetries  int
	backoff     Backoff
	jobsChan    chan *queue.Message
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Queue == nil || cfg.Processor == nil || cfg.Reporter == nil {
		return nil, errors.New("worker requires a queue, a processor and a reporter")
	}
	if cfg.Stream == "" {
		return nil, errors.New("worker requires a stream")
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be at least 1 (got %d)", cfg.MaxRetries)
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Worker{
		logger:      cfg.Logger,
		queue:       cfg.Queue,
		processor:   cfg.Processor,
		reporter:    cfg.Reporter,
		stream:      cfg.Stream,
		workerID:    cfg.WorkerID,
		concurrency: concurrency,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		jobsChan:    make(chan *queue.Message),
		stopChan:    make(chan struct{}),
	}, nil
}

// Run consumes until ctx is cancelled, then waits for in-flight jobs to
// finish. Jobs already handed to the pool are not interrupted by ctx.
// It returns queue.ErrConsumerClosed if the queue stops delivering first.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.String("stream", w.stream),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_retries", w.maxRetries),
	)

	messages, err := w.queue.Consume(ctx, w.stream)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.spawnWorkerPool(context.WithoutCancel(ctx))
	dispatchErr := w.startMessageDispatcher(ctx, messages)

	close(w.jobsChan)
	w.wg.Wait()

	if dispatchErr != nil {
		return fmt.Errorf("worker %s: %w", w.workerID, dispatchErr)
	}

	w.logger.Info("Worker stopped",
		slog.String("worker_id", w.workerID),
	)
	return nil
}

// Stop makes pool goroutines exit after their current job without waiting
// for the dispatcher
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
