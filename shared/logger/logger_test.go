package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		check func(t *testing.T, l *Logger, buf *bytes.Buffer)
	}{
		{
			name: "json keeps job attributes",
			cfg:  Config{Level: "debug", Format: "json"},
			check: func(t *testing.T, l *Logger, buf *bytes.Buffer) {
				l.Debug("Job dispatched to worker pool", slog.String("job_id", "job-1"), slog.Int("attempts", 2))

				entry := decodeLine(t, buf)
				assert.Equal(t, "DEBUG", entry["level"])
				assert.Equal(t, "Job dispatched to worker pool", entry["msg"])
				assert.Equal(t, "job-1", entry["job_id"])
				assert.Equal(t, float64(2), entry["attempts"])
			},
		},
		{
			name: "level filters lower records",
			cfg:  Config{Level: "warn", Format: "json"},
			check: func(t *testing.T, l *Logger, buf *bytes.Buffer) {
				l.Info("Job submitted")
				assert.Zero(t, buf.Len())

				l.Warn("Falling back to in-memory queue")
				assert.Equal(t, "WARN", decodeLine(t, buf)["level"])
			},
		},
		{
			name: "console writes readable text",
			cfg:  Config{Level: "info", Format: "console"},
			check: func(t *testing.T, l *Logger, buf *bytes.Buffer) {
				l.Info("Job completed successfully", slog.String("job_id", "job-7"))

				out := buf.String()
				assert.Contains(t, out, "Job completed successfully")
				assert.Contains(t, out, "job_id=")
				assert.Contains(t, out, "job-7")
			},
		},
		{
			name: "unknown format falls back to json",
			cfg:  Config{Level: "info", Format: "logfmt"},
			check: func(t *testing.T, l *Logger, buf *bytes.Buffer) {
				l.Info("Worker stopped")
				assert.Equal(t, "Worker stopped", decodeLine(t, buf)["msg"])
			},
		},
		{
			name: "source location when enabled",
			cfg:  Config{Level: "info", Format: "json", EnableSource: true},
			check: func(t *testing.T, l *Logger, buf *bytes.Buffer) {
				l.Info("Job store ready")
				assert.Contains(t, decodeLine(t, buf), slog.SourceKey)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := tt.cfg
			cfg.Writer = &buf

			l, err := New(&cfg)
			require.NoError(t, err)
			defer l.Close()

			tt.check(t, l, &buf)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	l, err := New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)
	l.Info("Moved job to dead-letter stream", slog.String("job_id", "job-3"))
	require.NoError(t, l.Close())

	// A restart appends instead of truncating
	l, err = New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)
	l.Info("Starting worker service")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "Moved job to dead-letter stream")
	assert.Contains(t, out, "Starting worker service")
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.NotContains(t, out, "\x1b[", "log files carry no color codes")
}

func TestNew_FileOutputError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := New(&Config{Output: filepath.Join(blocker, "app.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create log directory")
}

func TestLogger_JobScope(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Format: "json", Writer: &buf})
	require.NoError(t, err)

	jobLogger := l.With("job_id", "job-9").
		WithAttrs(slog.String("message_id", "1700000000000-0")).
		WithGroup("retry")
	jobLogger.Warn("Job processing failed, will retry", slog.Int("next_attempt", 2))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "job-9", entry["job_id"])
	assert.Equal(t, "1700000000000-0", entry["message_id"])

	retry, ok := entry["retry"].(map[string]any)
	require.True(t, ok, "grouped attributes are nested")
	assert.Equal(t, float64(2), retry["next_attempt"])

	// Derived loggers do not own the output
	assert.NoError(t, jobLogger.Close())
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	require.NotNil(t, l)
	l.Error("dropped", slog.String("job_id", "job-1"))
	l.With("job_id", "job-1").Info("dropped too")
	assert.NoError(t, l.Close())
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	require.NotNil(t, l)
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.NoError(t, l.Close())
}
