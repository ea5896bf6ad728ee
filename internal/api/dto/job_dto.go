package dto

import (
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/domain"
)

// CreateJobRequest is the body of POST /jobs
type CreateJobRequest struct {
	SourceType       string         `json:"source_type" binding:"required"`
	SourceURI        *string        `json:"source_uri"`
	OriginalFilename *string        `json:"original_filename"`
	Options          map[string]any `json:"options"`
}

// CreateJobResponse is returned with 202 once the job is queued
type CreateJobResponse struct {
	JobID       string        `json:"job_id"`
	Status      domain.Status `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// JobEventDTO is one history entry
type JobEventDTO struct {
	Status    domain.Status `json:"status"`
	Detail    *string       `json:"detail"`
	CreatedAt time.Time     `json:"created_at"`
}

// JobStatusResponse is the current state of a job with its history
type JobStatusResponse struct {
	JobID       string        `json:"job_id"`
	Status      domain.Status `json:"status"`
	Detail      *string       `json:"detail"`
	SubmittedAt time.Time     `json:"submitted_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	History     []JobEventDTO `json:"history"`
}

// JobResultResponse lists the artefacts of a finished job
type JobResultResponse struct {
	JobID             string            `json:"job_id"`
	Status            domain.Status     `json:"status"`
	TranslatedTextURI *string           `json:"translated_text_uri"`
	Artefacts         map[string]string `json:"artefacts"`
}

// JobCancelResponse confirms a cancellation
type JobCancelResponse struct {
	JobID       string        `json:"job_id"`
	Status      domain.Status `json:"status"`
	CancelledAt time.Time     `json:"cancelled_at"`
}

// StatusPatchRequest is the worker callback body of POST /jobs/status
type StatusPatchRequest struct {
	JobID     string            `json:"job_id" binding:"required"`
	Status    string            `json:"status" binding:"required"`
	Detail    *string           `json:"detail"`
	Artefacts map[string]string `json:"artefacts"`
}

// ErrorResponse is the body of every 4xx and 5xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewJobEvents converts store events to their wire form
func NewJobEvents(events []domain.JobEvent) []JobEventDTO {
	out := make([]JobEventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, JobEventDTO{
			Status:    e.Status,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
