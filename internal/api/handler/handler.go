package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/translation-orchestrator/internal/api/dto"
	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/cuongbtq/translation-orchestrator/internal/queue"
	"github.com/cuongbtq/translation-orchestrator/internal/store"
	"github.com/gin-gonic/gin"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Store        store.Store
	Publisher    queue.Publisher
	ReadyStream  string
	CancelStream string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	store        store.Store
	publisher    queue.Publisher
	readyStream  string
	cancelStream string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		store:        deps.Store,
		publisher:    deps.Publisher,
		readyStream:  deps.ReadyStream,
		cancelStream: deps.CancelStream,
	}
}

// respondError maps domain errors to HTTP statuses. Anything unrecognised is
// a backend failure and becomes 503.
func (h *JobHandler) respondError(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	message := "Service unavailable"

	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		status, message = http.StatusNotFound, "Job not found"
	case errors.Is(err, domain.ErrArtefactNotFound):
		status, message = http.StatusNotFound, "Artefact not found"
	case errors.Is(err, domain.ErrJobNotFinished):
		status, message = http.StatusConflict, "Job not finished"
	case errors.Is(err, domain.ErrJobTerminal):
		status, message = http.StatusConflict, "Job already finished"
	case errors.Is(err, domain.ErrJobExists):
		status, message = http.StatusConflict, "Job already exists"
	default:
		h.logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		_ = c.Error(err)
	}

	c.JSON(status, dto.ErrorResponse{Error: message})
}
