package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/translation-orchestrator/internal/api/handler"
	"github.com/cuongbtq/translation-orchestrator/internal/config"
	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/cuongbtq/translation-orchestrator/internal/queue"
	"github.com/cuongbtq/translation-orchestrator/internal/store"
	"github.com/cuongbtq/translation-orchestrator/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	readyStream  = "jobs.ready"
	cancelStream = "jobs.cancel"
)

type testServer struct {
	router *gin.Engine
	store  store.Store
	queue  *queue.Memory
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, map[string]any) error {
	return errors.New("connection refused")
}

func newTestServer(t *testing.T, publisher queue.Publisher) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop().Logger

	cfg := config.Defaults().Database
	cfg.URL = "sqlite://" + filepath.Join(t.TempDir(), "jobs.db")
	s, err := store.Open(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mem := queue.NewMemory("jobs.dead", 0, log)
	if publisher == nil {
		publisher = mem
	}

	deps := &handler.Dependencies{
		Logger:       log,
		Store:        s,
		Publisher:    publisher,
		ReadyStream:  readyStream,
		CancelStream: cancelStream,
	}

	return &testServer{
		router: SetupRouter(deps, []string{"http://localhost:5173"}),
		store:  s,
		queue:  mem,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createJob(t *testing.T, body map[string]any) string {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/jobs", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["job_id"].(string)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateJob(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/jobs", map[string]any{
		"source_type":       "pdf",
		"source_uri":        "/data/doc.pdf",
		"original_filename": "doc.pdf",
		"options":           map[string]any{"dpi": 300},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode(t, w)
	jobID := resp["job_id"].(string)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, "PENDING", resp["status"])
	assert.NotEmpty(t, resp["submitted_at"])

	job, err := ts.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)

	msgs := ts.queue.Drain(readyStream)
	require.Len(t, msgs, 1)
	assert.Equal(t, jobID, msgs[0].JobID())
	assert.Equal(t, 0, msgs[0].Attempts)
	assert.Equal(t, "pdf", msgs[0].Payload["source_type"])
	assert.Equal(t, "/data/doc.pdf", msgs[0].Payload["source_uri"])
	assert.Equal(t, "doc.pdf", msgs[0].Payload["original_filename"])
}

func TestCreateJob_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing source type", map[string]any{"source_uri": "/x"}},
		{"unknown source type", map[string]any{"source_type": "docx"}},
		{"not json", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}

	assert.Equal(t, 0, ts.queue.Len(readyStream))
}

func TestCreateJob_PublishFailure(t *testing.T) {
	ts := newTestServer(t, failingPublisher{})

	w := ts.do(t, http.MethodPost, "/jobs", map[string]any{"source_type": "raw_text", "source_uri": "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Service unavailable", decode(t, w)["error"])
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ts.createJob(t, map[string]any{"source_type": "raw_text", "source_uri": "hello"})

	w := ts.do(t, http.MethodPost, "/jobs/status", map[string]any{
		"job_id": jobID,
		"status": "PROCESSING",
		"detail": "Preparing translation job",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "updated", decode(t, w)["status"])

	w = ts.do(t, http.MethodGet, "/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, jobID, resp["job_id"])
	assert.Equal(t, "PROCESSING", resp["status"])
	assert.Equal(t, "Preparing translation job", resp["detail"])

	history := resp["history"].([]any)
	require.Len(t, history, 2)
	assert.Equal(t, "PENDING", history[0].(map[string]any)["status"])
	assert.Equal(t, "PROCESSING", history[1].(map[string]any)["status"])

	w = ts.do(t, http.MethodGet, "/jobs/"+jobID+"/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var timeline []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &timeline))
	assert.Len(t, timeline, 2)
}

func TestUnknownJob(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{
		"/jobs/missing",
		"/jobs/missing/timeline",
		"/jobs/missing/result",
		"/jobs/missing/artefacts/translated_text",
	} {
		w := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "Job not found", decode(t, w)["error"], path)
	}

	w := ts.do(t, http.MethodPost, "/jobs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/jobs/status", map[string]any{"job_id": "missing", "status": "OCR_PROCESSING"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetResult(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ts.createJob(t, map[string]any{"source_type": "raw_text", "source_uri": "hello"})

	w := ts.do(t, http.MethodGet, "/jobs/"+jobID+"/result", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Job not finished", decode(t, w)["error"])

	w = ts.do(t, http.MethodPost, "/jobs/status", map[string]any{
		"job_id":    jobID,
		"status":    "COMPLETE",
		"detail":    "Translation finished",
		"artefacts": map[string]string{"translated_text": "/out/result.txt"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/jobs/"+jobID+"/result", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "COMPLETE", resp["status"])
	assert.Equal(t, "/out/result.txt", resp["translated_text_uri"])
	assert.Equal(t, map[string]any{"translated_text": "/out/result.txt"}, resp["artefacts"])
}

func TestGetArtefact(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ts.createJob(t, map[string]any{"source_type": "raw_text", "source_uri": "hello"})

	path := filepath.Join(t.TempDir(), "result.txt")
	require.NoError(t, os.WriteFile(path, []byte("annyeong"), 0o644))

	w := ts.do(t, http.MethodPost, "/jobs/status", map[string]any{
		"job_id": jobID,
		"status": "COMPLETE",
		"artefacts": map[string]string{
			"file":            path,
			"original_images": `["/tmp/page-1.png"]`,
			"translated_text": "annyeong haseyo",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("file", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/jobs/"+jobID+"/artefacts/file", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "annyeong", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Disposition"), "result.txt")
	})

	t.Run("json", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/jobs/"+jobID+"/artefacts/original_images", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		assert.JSONEq(t, `["/tmp/page-1.png"]`, w.Body.String())
	})

	t.Run("text", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/jobs/"+jobID+"/artefacts/translated_text", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.Equal(t, "annyeong haseyo", w.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/jobs/"+jobID+"/artefacts/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Artefact not found", decode(t, w)["error"])
	})
}

func TestCancelJob(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ts.createJob(t, map[string]any{"source_type": "raw_text", "source_uri": "hello"})

	w := ts.do(t, http.MethodPost, "/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, jobID, resp["job_id"])
	assert.Equal(t, "CANCELLED", resp["status"])
	assert.NotEmpty(t, resp["cancelled_at"])

	signals := ts.queue.Drain(cancelStream)
	require.Len(t, signals, 1)
	assert.Equal(t, jobID, signals[0].JobID())

	history, err := ts.store.History(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StatusCancelled, history[1].Status)

	// Cancelling again is a conflict and writes nothing
	w = ts.do(t, http.MethodPost, "/jobs/"+jobID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Late worker reports are ignored
	w = ts.do(t, http.MethodPost, "/jobs/status", map[string]any{"job_id": jobID, "status": "COMPLETE"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])

	job, err := ts.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, job.Status)

	history, err = ts.store.History(context.Background(), jobID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestUpdateStatus_Validation(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ts.createJob(t, map[string]any{"source_type": "raw_text", "source_uri": "hello"})

	w := ts.do(t, http.MethodPost, "/jobs/status", map[string]any{"job_id": jobID, "status": "DONE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/jobs/status", map[string]any{"status": "COMPLETE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
