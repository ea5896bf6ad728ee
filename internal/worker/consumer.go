package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/translation-orchestrator/internal/queue"
)

// startMessageDispatcher hands queue deliveries to the worker pool until ctx
// is cancelled or the delivery channel closes. A channel closed while ctx is
// still live returns queue.ErrConsumerClosed.
func (w *Worker) startMessageDispatcher(ctx context.Context, messages <-chan *queue.Message) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return nil

		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("Queue delivery channel closed unexpectedly",
					slog.String("worker_id", w.workerID),
				)
				return queue.ErrConsumerClosed
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID()),
					slog.String("message_id", msg.ID),
				)
			case <-ctx.Done():
				// Left unacknowledged; the queue redelivers it.
				w.logger.Info("Message dispatcher stopped while dispatching job",
					slog.String("message_id", msg.ID),
				)
				return nil
			case <-w.stopChan:
				w.logger.Info("Message dispatcher stopped while dispatching job",
					slog.String("message_id", msg.ID),
				)
				return nil
			}
		}
	}
}
