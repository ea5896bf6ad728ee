package processor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/domain"
)

const (
	statusPrefix  = "STATUS "
	maxLineBytes  = 64 << 20
	stderrTailLen = 2048
)

// Command runs the pipeline as a subprocess. The job is passed through the
// JOB_ID, SOURCE_URI, SOURCE_TYPE, MIME_TYPE and JOB_OPTIONS environment
// variables. The process reports progress with "STATUS <NAME>" lines on
// stdout and finishes by printing the result as a single JSON object line.
type Command struct {
	path    string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand creates a subprocess processor. timeout <= 0 means no limit.
func NewCommand(path string, args []string, timeout time.Duration, logger *slog.Logger) *Command {
	return &Command{
		path:    path,
		args:    args,
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes the pipeline for req
func (c *Command) Run(ctx context.Context, req Request, onStatus StatusFunc) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job options: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Env = append(os.Environ(),
		"JOB_ID="+req.JobID,
		"SOURCE_URI="+req.SourceURI,
		"SOURCE_TYPE="+string(req.SourceType),
		"MIME_TYPE="+req.MIMEType,
		"JOB_OPTIONS="+string(options),
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	c.logger.Info("Pipeline started",
		slog.String("job_id", req.JobID),
		slog.String("command", c.path),
		slog.Int("pid", cmd.Process.Pid),
	)

	result, scanErr := c.scan(stdout, req.JobID, onStatus)
	// Drain so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pipeline cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("pipeline failed: %w%s", err, stderrTail(stderr.String()))
	}
	if scanErr != nil {
		return nil, scanErr
	}
	if result == nil {
		return nil, errors.New("pipeline produced no result")
	}
	return result, nil
}

// scan forwards status lines and keeps the last JSON object line as the result
func (c *Command) scan(r io.Reader, jobID string, onStatus StatusFunc) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var result *Result
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, statusPrefix):
			name := strings.TrimSpace(strings.TrimPrefix(line, statusPrefix))
			status, ok := domain.ParseStatus(name)
			if !ok || status.IsTerminal() {
				c.logger.Warn("Ignoring unknown pipeline status",
					slog.String("job_id", jobID),
					slog.String("status", name),
				)
				continue
			}
			if onStatus != nil {
				onStatus(status)
			}

		case strings.HasPrefix(line, "{"):
			var r Result
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				return nil, fmt.Errorf("invalid pipeline result: %w", err)
			}
			result = &r

		default:
			c.logger.Debug("Pipeline output",
				slog.String("job_id", jobID),
				slog.String("line", line),
			)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pipeline output: %w", err)
	}
	return result, nil
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > stderrTailLen {
		s = s[len(s)-stderrTailLen:]
	}
	return ": " + s
}
