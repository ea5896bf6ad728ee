package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/api/dto"
	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/cuongbtq/translation-orchestrator/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJob handles POST /jobs
// Records the job as PENDING and publishes it to the ready stream
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	sourceType, ok := domain.ParseSourceType(req.SourceType)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: fmt.Sprintf("Invalid source_type %q (expected pdf, image or raw_text)", req.SourceType),
		})
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()
	job := &domain.Job{
		JobID:       uuid.New().String(),
		Status:      domain.StatusPending,
		Detail:      domain.StringPtr(domain.StatusSummary[domain.StatusPending]),
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := h.store.Create(ctx, job); err != nil {
		h.respondError(c, err)
		return
	}

	payload := domain.JobPayload{
		JobID:       job.JobID,
		SourceType:  string(sourceType),
		Options:     req.Options,
		SubmittedAt: job.SubmittedAt.Format(time.RFC3339Nano),
	}
	if req.SourceURI != nil {
		payload.SourceURI = *req.SourceURI
	}
	if req.OriginalFilename != nil {
		payload.OriginalFilename = *req.OriginalFilename
	}

	if err := h.publisher.Publish(ctx, h.readyStream, payload.ToMap()); err != nil {
		// Nothing will ever pick the job up, so do not leave it PENDING.
		if _, uerr := h.store.UpdateStatus(ctx, job.JobID, domain.StatusFailed, domain.StringPtr("Failed to enqueue job")); uerr != nil {
			h.logger.Error("Failed to mark unqueued job as failed",
				slog.String("job_id", job.JobID),
				slog.Any("error", uerr),
			)
		}
		h.respondError(c, err)
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("source_type", string(sourceType)),
	)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:       job.JobID,
		Status:      job.Status,
		SubmittedAt: job.SubmittedAt,
	})
}

// GetJob handles GET /jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.store.Get(ctx, c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	history, err := h.store.History(ctx, job.JobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.JobStatusResponse{
		JobID:       job.JobID,
		Status:      job.Status,
		Detail:      job.Detail,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   job.UpdatedAt,
		History:     dto.NewJobEvents(history),
	})
}

// GetTimeline handles GET /jobs/:job_id/timeline
func (h *JobHandler) GetTimeline(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.store.Get(ctx, c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	history, err := h.store.History(ctx, job.JobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobEvents(history))
}

// GetResult handles GET /jobs/:job_id/result
// Only finished jobs have a result; anything else is 409
func (h *JobHandler) GetResult(c *gin.Context) {
	job, err := h.store.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !job.Status.IsTerminal() {
		h.respondError(c, domain.ErrJobNotFinished)
		return
	}

	var translated *string
	if v, ok := job.Artefacts[domain.ArtefactTranslatedText]; ok {
		translated = &v
	}

	c.JSON(http.StatusOK, dto.JobResultResponse{
		JobID:             job.JobID,
		Status:            job.Status,
		TranslatedTextURI: translated,
		Artefacts:         job.Artefacts,
	})
}

// GetArtefact handles GET /jobs/:job_id/artefacts/:name
// A value naming an existing file is streamed; otherwise it is returned as
// JSON when it parses, else as plain text
func (h *JobHandler) GetArtefact(c *gin.Context) {
	job, err := h.store.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	value, ok := job.Artefacts[c.Param("name")]
	if !ok {
		h.respondError(c, domain.ErrArtefactNotFound)
		return
	}

	if info, err := os.Stat(value); err == nil && info.Mode().IsRegular() {
		c.FileAttachment(value, filepath.Base(value))
		return
	}

	if json.Valid([]byte(value)) {
		c.Data(http.StatusOK, "application/json", []byte(value))
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(value))
}

// CancelJob handles POST /jobs/:job_id/cancel
// Records CANCELLED and publishes an advisory message on the cancel stream
func (h *JobHandler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("job_id")

	job, err := h.store.UpdateStatus(ctx, jobID, domain.StatusCancelled, domain.StringPtr(domain.StatusSummary[domain.StatusCancelled]))
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.publisher.Publish(ctx, h.cancelStream, map[string]any{"job_id": jobID}); err != nil {
		// The store is the record of truth; the signal is best effort.
		h.logger.Warn("Failed to publish cancellation",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	h.logger.Info("Job cancelled", slog.String("job_id", jobID))

	c.JSON(http.StatusOK, dto.JobCancelResponse{
		JobID:       job.JobID,
		Status:      job.Status,
		CancelledAt: job.UpdatedAt,
	})
}

// UpdateStatus handles POST /jobs/status, the worker callback
func (h *JobHandler) UpdateStatus(c *gin.Context) {
	var req dto.StatusPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid status patch", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	status, ok := domain.ParseStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: fmt.Sprintf("Invalid status %q", req.Status)})
		return
	}

	err := store.ApplyReport(c.Request.Context(), h.store, req.JobID, status, req.Detail, req.Artefacts)
	if err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			h.logger.Debug("Ignoring status patch for finished job",
				slog.String("job_id", req.JobID),
				slog.String("status", req.Status),
			)
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
