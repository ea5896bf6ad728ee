// Package store persists jobs and their append-only event history.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/translation-orchestrator/internal/config"
	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/cuongbtq/translation-orchestrator/shared/postgresql"
	"github.com/cuongbtq/translation-orchestrator/shared/sqlite"
)

// Store is the job store contract shared by the API and the in-process reporter.
//
// Get, UpdateStatus and SetArtefact return domain.ErrJobNotFound for unknown
// jobs. UpdateStatus on a terminal job returns the unchanged job together
// with domain.ErrJobTerminal and writes no event.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, jobID string, status domain.Status, detail *string) (*domain.Job, error)
	SetArtefact(ctx context.Context, jobID, name, value string) (*domain.Job, error)
	History(ctx context.Context, jobID string) ([]domain.JobEvent, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open selects the backend from the database URL, connects and applies the schema.
// postgres:// and postgresql:// URLs retry the connection; sqlite:// URLs and
// bare paths open an embedded database without retry.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.URL)

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		client, err := postgresql.NewClient(ctx, &postgresql.Config{
			URL:                  url,
			MaxOpenConns:         cfg.MaxOpenConns,
			MaxIdleConns:         cfg.MaxIdleConns,
			ConnMaxLifetime:      cfg.ConnMaxLifetime,
			ConnMaxIdleTime:      cfg.ConnMaxIdleTime,
			ConnectRetries:       cfg.ConnectRetries,
			ConnectRetryInterval: cfg.ConnectRetryInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		s := newSQLStore(client.GetDB(), dialectPostgres, client.Close, logger)
		if err := s.migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return s, nil

	default:
		client, err := sqlite.NewClient(ctx, SQLitePath(url), logger)
		if err != nil {
			return nil, err
		}
		s := newSQLStore(client.GetDB(), dialectSQLite, client.Close, logger)
		if err := s.migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return s, nil
	}
}

// SQLitePath turns a sqlite URL into a filesystem path. Like SQLAlchemy URLs,
// sqlite:///rel.db is relative and sqlite:////abs.db is absolute.
func SQLitePath(url string) string {
	if !strings.HasPrefix(url, "sqlite://") {
		return url
	}
	path := strings.TrimPrefix(url, "sqlite://")
	path = strings.TrimPrefix(path, "/")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return path
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}
