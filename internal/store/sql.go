package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/domain"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationFiles embed.FS

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on top of sqlx for Postgres and SQLite
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
	closer  func() error
	logger  *slog.Logger
}

type jobRow struct {
	JobID       string         `db:"job_id"`
	Status      string         `db:"status"`
	Detail      sql.NullString `db:"detail"`
	SubmittedAt time.Time      `db:"submitted_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	Artefacts   []byte         `db:"artefacts"`
}

type eventRow struct {
	ID        int64          `db:"id"`
	JobID     string         `db:"job_id"`
	Status    string         `db:"status"`
	Detail    sql.NullString `db:"detail"`
	CreatedAt time.Time      `db:"created_at"`
}

const jobColumns = `job_id, status, detail, submitted_at, updated_at, artefacts`

func newSQLStore(db *sqlx.DB, d dialect, closer func() error, logger *slog.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: d, closer: closer, logger: logger}
}

// migrate applies the embedded migrations for the dialect that have not been recorded yet
func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	dir := path.Join("migrations", string(s.dialect))
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}

		var exists int
		if err := s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}

		s.logger.Info("Applied schema migration",
			slog.String("dialect", string(s.dialect)),
			slog.String("migration", entry.Name()),
		)
	}
	return nil
}

// migrationVersion extracts the leading integer of a migration file name ("001_init.sql" is 1)
func migrationVersion(name string) int {
	i := 0
	for i < len(name) && name[i] >= '0' && name[i] <= '9' {
		i++
	}
	n, _ := strconv.Atoi(name[:i])
	return n
}

// Create inserts the job and its creation event in one transaction
func (s *SQLStore) Create(ctx context.Context, job *domain.Job) error {
	artefacts, err := encodeArtefacts(job.Artefacts)
	if err != nil {
		return err
	}

	now := timestamp(time.Now())
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.SubmittedAt
	}
	job.SubmittedAt = timestamp(job.SubmittedAt)
	job.UpdatedAt = timestamp(job.UpdatedAt)

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (job_id) DO NOTHING
		`),
			job.JobID,
			job.Status.String(),
			nullString(job.Detail),
			job.SubmittedAt,
			job.UpdatedAt,
			artefacts,
		)
		if err != nil {
			return wrapUnavailable("failed to create job", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return wrapUnavailable("failed to create job", err)
		}
		if n == 0 {
			return fmt.Errorf("job %s: %w", job.JobID, domain.ErrJobExists)
		}

		return s.appendEvent(ctx, tx, job.JobID, job.Status, job.Detail, job.UpdatedAt)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Job created",
		slog.String("job_id", job.JobID),
		slog.String("status", job.Status.String()),
	)
	return nil
}

// Get returns the job or domain.ErrJobNotFound
func (s *SQLStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, wrapUnavailable("failed to get job", err)
	}
	return row.toDomain()
}

// UpdateStatus sets status, detail and updated_at and appends the matching
// event with the same timestamp, all in one transaction
func (s *SQLStore) UpdateStatus(ctx context.Context, jobID string, status domain.Status, detail *string) (*domain.Job, error) {
	var updated *domain.Job

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			updated = current
			return domain.ErrJobTerminal
		}

		now := monotonic(current.UpdatedAt)
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			UPDATE jobs SET status = ?, detail = ?, updated_at = ? WHERE job_id = ?
		`), status.String(), nullString(detail), now, jobID)
		if err != nil {
			return wrapUnavailable("failed to update job status", err)
		}

		if err := s.appendEvent(ctx, tx, jobID, status, detail, now); err != nil {
			return err
		}

		current.Status = status
		current.Detail = detail
		current.UpdatedAt = now
		updated = current
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			return updated, err
		}
		return nil, err
	}
	return updated, nil
}

// SetArtefact merges one artefact into the job and bumps updated_at without writing an event
func (s *SQLStore) SetArtefact(ctx context.Context, jobID, name, value string) (*domain.Job, error) {
	var updated *domain.Job

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if current.Artefacts == nil {
			current.Artefacts = make(map[string]string)
		}
		current.Artefacts[name] = value

		artefacts, err := encodeArtefacts(current.Artefacts)
		if err != nil {
			return err
		}

		now := monotonic(current.UpdatedAt)
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			UPDATE jobs SET artefacts = ?, updated_at = ? WHERE job_id = ?
		`), artefacts, now, jobID)
		if err != nil {
			return wrapUnavailable("failed to set artefact", err)
		}

		current.UpdatedAt = now
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// History returns the job's events ordered by (created_at, id)
func (s *SQLStore) History(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, job_id, status, detail, created_at
		FROM job_events
		WHERE job_id = ?
		ORDER BY created_at ASC, id ASC
	`), jobID)
	if err != nil {
		return nil, wrapUnavailable("failed to load job history", err)
	}

	events := make([]domain.JobEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, domain.JobEvent{
			ID:        r.ID,
			JobID:     r.JobID,
			Status:    domain.Status(r.Status),
			Detail:    fromNullString(r.Detail),
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return events, nil
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapUnavailable("database ping failed", err)
	}
	return nil
}

// Close releases the underlying client
func (s *SQLStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// lockJob reads the job inside tx, taking a row lock on Postgres. SQLite
// transactions already hold the write lock (_txlock=immediate).
func (s *SQLStore) lockJob(ctx context.Context, tx *sqlx.Tx, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?`
	if s.dialect == dialectPostgres {
		query += ` FOR UPDATE`
	}

	var row jobRow
	if err := tx.GetContext(ctx, &row, s.db.Rebind(query), jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, wrapUnavailable("failed to load job", err)
	}
	return row.toDomain()
}

func (s *SQLStore) appendEvent(ctx context.Context, tx *sqlx.Tx, jobID string, status domain.Status, detail *string, at time.Time) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO job_events (job_id, status, detail, created_at) VALUES (?, ?, ?, ?)
	`), jobID, status.String(), nullString(detail), at)
	if err != nil {
		return wrapUnavailable("failed to append job event", err)
	}
	return nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapUnavailable("failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return wrapUnavailable("failed to commit transaction", err)
	}
	return nil
}

func (r jobRow) toDomain() (*domain.Job, error) {
	artefacts := make(map[string]string)
	if len(r.Artefacts) > 0 {
		if err := json.Unmarshal(r.Artefacts, &artefacts); err != nil {
			return nil, fmt.Errorf("failed to decode artefacts for job %s: %w", r.JobID, err)
		}
	}
	return &domain.Job{
		JobID:       r.JobID,
		Status:      domain.Status(r.Status),
		Detail:      fromNullString(r.Detail),
		SubmittedAt: r.SubmittedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		Artefacts:   artefacts,
	}, nil
}

func encodeArtefacts(artefacts map[string]string) (string, error) {
	if artefacts == nil {
		return "{}", nil
	}
	data, err := json.Marshal(artefacts)
	if err != nil {
		return "", fmt.Errorf("failed to encode artefacts: %w", err)
	}
	return string(data), nil
}

// timestamp normalises to UTC microseconds, the precision both dialects keep
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// monotonic returns now, never earlier than last
func monotonic(last time.Time) time.Time {
	now := timestamp(time.Now())
	if now.Before(last) {
		return last
	}
	return now
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
