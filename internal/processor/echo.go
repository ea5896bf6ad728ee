package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/translation-orchestrator/internal/domain"
)

var echoStages = []domain.Status{
	domain.StatusImageConversion,
	domain.StatusOCRProcessing,
	domain.StatusTranslationProcessing,
	domain.StatusRefinementProcessing,
}

// Echo walks through the pipeline stages without translating anything.
// The translated text is the source file's content; a raw_text source that
// is not a readable file is treated as the text itself.
type Echo struct {
	logger *slog.Logger
}

// NewEcho creates the development processor
func NewEcho(logger *slog.Logger) *Echo {
	return &Echo{logger: logger}
}

// Run implements Processor
func (e *Echo) Run(ctx context.Context, req Request, onStatus StatusFunc) (*Result, error) {
	data, err := os.ReadFile(req.SourceURI)
	if err != nil {
		if req.SourceType != domain.SourceTypeRawText {
			return nil, fmt.Errorf("failed to read source %s: %w", req.SourceURI, err)
		}
		data = []byte(req.SourceURI)
	}

	for _, stage := range echoStages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onStatus != nil {
			onStatus(stage)
		}
	}

	e.logger.Debug("Echo pipeline finished",
		slog.String("job_id", req.JobID),
		slog.Int("bytes", len(data)),
	)

	return &Result{
		TranslatedText: string(data),
		OriginalImages: []string{},
	}, nil
}
