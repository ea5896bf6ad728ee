package store

import (
	"context"

	"github.com/cuongbtq/translation-orchestrator/internal/domain"
)

// ApplyReport applies a worker status report: artefacts first, so a job is
// never observed COMPLETE without them, then the status change. A terminal
// job accepts neither and yields domain.ErrJobTerminal. Redelivered reports
// for a finished job are therefore harmless.
func ApplyReport(ctx context.Context, s Store, jobID string, status domain.Status, detail *string, artefacts map[string]string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}

	for name, value := range artefacts {
		if _, err := s.SetArtefact(ctx, jobID, name, value); err != nil {
			return err
		}
	}

	_, err = s.UpdateStatus(ctx, jobID, status, detail)
	return err
}
