package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/cuongbtq/translation-orchestrator/internal/store"
)

// Update is one status report for a job
type Update struct {
	JobID     string            `json:"job_id"`
	Status    domain.Status     `json:"status"`
	Detail    *string           `json:"detail"`
	Artefacts map[string]string `json:"artefacts"`
}

// Reporter delivers status updates to the job's system of record
type Reporter interface {
	Report(ctx context.Context, update Update) error
}

// HTTPReporter posts updates to the orchestrator's status endpoint
type HTTPReporter struct {
	client   *http.Client
	endpoint string
}

// NewHTTPReporter creates a reporter for baseURL + endpoint with a fixed per-request timeout
func NewHTTPReporter(baseURL, endpoint string, timeout time.Duration) *HTTPReporter {
	return &HTTPReporter{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/"),
	}
}

// Report implements Reporter
func (r *HTTPReporter) Report(ctx context.Context, update Update) error {
	if update.Artefacts == nil {
		update.Artefacts = map[string]string{}
	}

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode status update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post status update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// StoreReporter applies updates directly to a job store, for processes that
// host both the API and the worker
type StoreReporter struct {
	store  store.Store
	logger *slog.Logger
}

// NewStoreReporter creates an in-process reporter
func NewStoreReporter(s store.Store, logger *slog.Logger) *StoreReporter {
	return &StoreReporter{store: s, logger: logger}
}

// Report implements Reporter with the same semantics as the status endpoint:
// reports against a terminal job are ignored
func (r *StoreReporter) Report(ctx context.Context, update Update) error {
	if err := store.ApplyReport(ctx, r.store, update.JobID, update.Status, update.Detail, update.Artefacts); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			r.logger.Debug("Ignoring status report for finished job",
				slog.String("job_id", update.JobID),
				slog.String("status", update.Status.String()),
			)
			return nil
		}
		return err
	}
	return nil
}
