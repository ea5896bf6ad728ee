package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/config"
	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/cuongbtq/translation-orchestrator/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string, timeout time.Duration) *Command {
	return NewCommand("sh", []string{"-c", script}, timeout, logger.NewNop().Logger)
}

func collect() (StatusFunc, *[]domain.Status) {
	var statuses []domain.Status
	return func(s domain.Status) { statuses = append(statuses, s) }, &statuses
}

func TestNew(t *testing.T) {
	p, err := New(config.ProcessorConfig{Kind: "echo"}, logger.NewNop().Logger)
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, p)

	p, err = New(config.ProcessorConfig{Kind: "command", Command: "true"}, logger.NewNop().Logger)
	require.NoError(t, err)
	assert.IsType(t, &Command{}, p)

	_, err = New(config.ProcessorConfig{Kind: "magic"}, logger.NewNop().Logger)
	assert.Error(t, err)
}

func TestCommand_Success(t *testing.T) {
	script := `
echo "STATUS IMAGE_CONVERSION"
echo "converting pages"
echo "STATUS OCR_PROCESSING"
echo "STATUS NOT_A_STATUS"
echo "STATUS COMPLETE"
echo "STATUS TRANSLATION_PROCESSING"
printf '{"translated_text":"%s","original_images":["aW1n"]}\n' "$JOB_ID:$SOURCE_TYPE:$MIME_TYPE"
`
	onStatus, statuses := collect()

	result, err := shell(script, 0).Run(context.Background(), Request{
		JobID:      "job-1",
		SourceURI:  "/tmp/x.pdf",
		SourceType: domain.SourceTypePDF,
		MIMEType:   "application/pdf",
	}, onStatus)
	require.NoError(t, err)

	assert.Equal(t, "job-1:pdf:application/pdf", result.TranslatedText)
	assert.Equal(t, []string{"aW1n"}, result.OriginalImages)
	assert.Equal(t, []domain.Status{
		domain.StatusImageConversion,
		domain.StatusOCRProcessing,
		domain.StatusTranslationProcessing,
	}, *statuses)
}

func TestCommand_Failure(t *testing.T) {
	_, err := shell(`echo "ocr engine missing" >&2; exit 3`, 0).Run(context.Background(), Request{JobID: "job-1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline failed")
	assert.Contains(t, err.Error(), "ocr engine missing")
}

func TestCommand_NoResult(t *testing.T) {
	_, err := shell(`echo "STATUS OCR_PROCESSING"`, 0).Run(context.Background(), Request{JobID: "job-1"}, nil)
	assert.EqualError(t, err, "pipeline produced no result")
}

func TestCommand_InvalidResult(t *testing.T) {
	_, err := shell(`echo "{broken"`, 0).Run(context.Background(), Request{JobID: "job-1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pipeline result")
}

func TestCommand_Timeout(t *testing.T) {
	_, err := shell(`exec sleep 5`, 50*time.Millisecond).Run(context.Background(), Request{JobID: "job-1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEcho_ReadsSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("ສະບາຍດີ"), 0o644))

	onStatus, statuses := collect()
	result, err := NewEcho(logger.NewNop().Logger).Run(context.Background(), Request{
		JobID:      "job-1",
		SourceURI:  path,
		SourceType: domain.SourceTypePDF,
	}, onStatus)
	require.NoError(t, err)

	assert.Equal(t, "ສະບາຍດີ", result.TranslatedText)
	assert.Empty(t, result.OriginalImages)
	assert.Equal(t, echoStages, *statuses)
}

func TestEcho_RawTextLiteral(t *testing.T) {
	result, err := NewEcho(logger.NewNop().Logger).Run(context.Background(), Request{
		JobID:      "job-1",
		SourceURI:  "hello world",
		SourceType: domain.SourceTypeRawText,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.TranslatedText)
}

func TestEcho_MissingFile(t *testing.T) {
	_, err := NewEcho(logger.NewNop().Logger).Run(context.Background(), Request{
		JobID:      "job-1",
		SourceURI:  filepath.Join(t.TempDir(), "missing.pdf"),
		SourceType: domain.SourceTypePDF,
	}, nil)
	assert.Error(t, err)
}
