package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/cuongbtq/translation-orchestrator/internal/processor"
	"github.com/cuongbtq/translation-orchestrator/internal/queue"
)

const missingSourceDetail = "Missing source_uri"

// handleMessage is the single boundary where every processor outcome becomes
// a state transition plus an ack, requeue or dead-letter. Nothing escapes it.
func (w *Worker) handleMessage(ctx context.Context, msg *queue.Message) {
	jobID := payloadString(msg.Payload, "job_id")
	if jobID == "" {
		jobID = "unknown"
	}
	sourceType := domain.SourceType(payloadString(msg.Payload, "source_type"))
	if sourceType == "" {
		sourceType = domain.SourceTypeRawText
	}
	sourceURI := payloadString(msg.Payload, "source_uri")

	logger := w.logger.With(
		slog.String("job_id", jobID),
		slog.String("message_id", msg.ID),
	)

	if sourceURI == "" {
		logger.Error("Rejecting malformed job payload",
			slog.Any("error", domain.ErrInvalidPayload),
		)
		w.report(ctx, logger, jobID, domain.StatusFailed, domain.StringPtr(missingSourceDetail), nil)
		w.deadLetter(ctx, logger, msg, missingSourceDetail)
		return
	}

	attempt := msg.Attempts + 1
	w.report(ctx, logger, jobID, domain.StatusProcessing, statusDetail(domain.StatusProcessing, attempt), nil)

	onStatus := func(status domain.Status) {
		w.report(ctx, logger, jobID, status, statusDetail(status, attempt), nil)
	}

	options, _ := msg.Payload["options"].(map[string]any)
	result, err := w.runProcessor(ctx, processor.Request{
		JobID:      jobID,
		SourceURI:  sourceURI,
		SourceType: sourceType,
		MIMEType:   sourceType.MIMEType(),
		Options:    options,
	}, onStatus)

	if err == nil {
		images := result.OriginalImages
		if images == nil {
			images = []string{}
		}
		encoded, encErr := json.Marshal(images)
		if encErr != nil {
			err = fmt.Errorf("failed to encode original images: %w", encErr)
		} else {
			artefacts := map[string]string{
				domain.ArtefactTranslatedText: result.TranslatedText,
				domain.ArtefactOriginalImages: string(encoded),
			}
			w.report(ctx, logger, jobID, domain.StatusComplete, statusDetail(domain.StatusComplete, attempt), artefacts)

			if ackErr := w.queue.Ack(ctx, msg); ackErr != nil {
				logger.Error("Failed to ACK message", slog.Any("error", ackErr))
				return
			}
			logger.Info("Job completed successfully", slog.Int("attempt", attempt))
			return
		}
	}

	w.handleFailure(ctx, logger, msg, jobID, err)
}

// handleFailure requeues with backoff until the retry budget is spent, then dead-letters
func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, msg *queue.Message, jobID string, cause error) {
	nextAttempt := msg.Attempts + 1
	errorDetail := cause.Error()

	if nextAttempt > w.maxRetries {
		logger.Error("Job exceeded max retries",
			slog.Int("attempts", nextAttempt),
			slog.Int("max_retries", w.maxRetries),
			slog.Any("error", cause),
		)
		w.report(ctx, logger, jobID, domain.StatusFailed, domain.StringPtr(errorDetail), nil)
		w.deadLetter(ctx, logger, msg, errorDetail)
		return
	}

	delay := w.backoff.Delay(nextAttempt)
	detail := fmt.Sprintf("Retrying (attempt %d/%d) in %.1fs: %s", nextAttempt, w.maxRetries, delay.Seconds(), errorDetail)

	logger.Warn("Job processing failed, will retry",
		slog.Int("next_attempt", nextAttempt),
		slog.Duration("delay", delay),
		slog.Any("error", cause),
	)
	w.report(ctx, logger, jobID, domain.StatusProcessing, domain.StringPtr(detail), nil)

	if err := w.queue.Requeue(ctx, msg, nextAttempt, delay); err != nil {
		logger.Error("Failed to requeue message", slog.Any("error", err))
	}
}

// runProcessor converts a processor panic into an ordinary failure
func (w *Worker) runProcessor(ctx context.Context, req processor.Request, onStatus processor.StatusFunc) (result *processor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()

	result, err = w.processor.Run(ctx, req, onStatus)
	if err == nil && result == nil {
		err = fmt.Errorf("processor returned no result")
	}
	return result, err
}

// report sends a status update; failures are logged and never retried
func (w *Worker) report(ctx context.Context, logger *slog.Logger, jobID string, status domain.Status, detail *string, artefacts map[string]string) {
	err := w.reporter.Report(ctx, Update{
		JobID:     jobID,
		Status:    status,
		Detail:    detail,
		Artefacts: artefacts,
	})
	if err != nil {
		logger.Warn("Failed to report job status",
			slog.String("status", status.String()),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) deadLetter(ctx context.Context, logger *slog.Logger, msg *queue.Message, detail string) {
	if err := w.queue.DeadLetter(ctx, msg, detail); err != nil {
		logger.Error("Failed to dead-letter message", slog.Any("error", err))
	}
}

// statusDetail returns the summary for status, prefixed with the attempt
// number on retries of non-terminal statuses
func statusDetail(status domain.Status, attempt int) *string {
	summary, ok := domain.StatusSummary[status]
	if !ok {
		return nil
	}
	if attempt > 1 && !status.IsTerminal() {
		summary = fmt.Sprintf("Attempt %d: %s", attempt, summary)
	}
	return &summary
}

func payloadString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
