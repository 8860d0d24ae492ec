package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
	"github.com/cuongbtq/cron-runner/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, name, endpoint, method, headers, body, cron_expression, timezone, is_active, updated_at`

// Storage handles all database operations for the runner
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ListActiveJobs returns every job with is_active = true
func (s *Storage) ListActiveJobs(ctx context.Context) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE is_active = true
		ORDER BY id
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	return jobs, nil
}

// GetJob retrieves a job by its ID regardless of its active flag
func (s *Storage) GetJob(ctx context.Context, jobID int64) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE id = $1
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// InsertRun appends a run record and sets its generated ID.
// A run whose job was deleted concurrently yields domain.ErrParentJobMissing.
func (s *Storage) InsertRun(ctx context.Context, run *domain.JobRun) error {
	query := `
		INSERT INTO job_runs (
			job_id, triggered_at, completed_at, status,
			http_status_code, response_body, response_headers,
			error_message, duration_ms
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9
		)
		RETURNING id
	`

	err := s.db.QueryRowContext(
		ctx,
		query,
		run.JobID,
		run.TriggeredAt,
		run.CompletedAt,
		string(run.Status),
		run.HTTPStatusCode,
		run.ResponseBody,
		run.ResponseHeaders,
		run.ErrorMessage,
		run.DurationMs,
	).Scan(&run.ID)

	if err != nil {
		if postgresql.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: job %d", domain.ErrParentJobMissing, run.JobID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug("Run recorded",
		slog.Int64("job_id", run.JobID),
		slog.Int64("run_id", run.ID),
		slog.String("status", string(run.Status)),
	)

	return nil
}
