// Package processor adapts the external document pipeline to the worker.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/translation-orchestrator/internal/config"
	"github.com/cuongbtq/translation-orchestrator/internal/domain"
)

// Request describes one document to translate
type Request struct {
	JobID      string
	SourceURI  string
	SourceType domain.SourceType
	MIMEType   string
	Options    map[string]any
}

// Result is what a successful run produces
type Result struct {
	TranslatedText string   `json:"translated_text"`
	OriginalImages []string `json:"original_images"`
}

// StatusFunc receives intermediate pipeline statuses
type StatusFunc func(status domain.Status)

// Processor runs the document pipeline. Run may block for a long time and
// reports progress through onStatus.
type Processor interface {
	Run(ctx context.Context, req Request, onStatus StatusFunc) (*Result, error)
}

// New builds the processor selected by cfg.Kind
func New(cfg config.ProcessorConfig, logger *slog.Logger) (Processor, error) {
	switch cfg.Kind {
	case "command":
		return NewCommand(cfg.Command, cfg.Args, cfg.Timeout, logger), nil
	case "echo", "":
		return NewEcho(logger), nil
	default:
		return nil, fmt.Errorf("unknown processor kind: %q", cfg.Kind)
	}
}
