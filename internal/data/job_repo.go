package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/listpilot/listpilot/internal/domain/model"
)

// NotifyChannelJobs is the pg_notify channel fired on every job mutation so
// dashboards can subscribe instead of polling.
const NotifyChannelJobs = "jobs_changed"

// RepoConfig holds shared configuration for data repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the job state machine.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a JobRepo with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &JobRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const jobColumns = `
  id,
  customer_id,
  status,
  package_size,
  progress,
  priority,
  source,
  error_message,
  created_at,
  started_at,
  completed_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner jobRowScanner) (*model.Job, error) {
	var (
		job                    model.Job
		source, errMsg         sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&job.CustomerID,
		&job.Status,
		&job.PackageSize,
		&job.Progress,
		&job.Priority,
		&source,
		&errMsg,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Source = source.String
	if errMsg.Valid {
		v := errMsg.String
		job.ErrorMessage = &v
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

// Create registers a job row at enqueue time. The insert is idempotent on id:
// a redelivered registration returns the existing row untouched.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs (id, customer_id, status, package_size, progress, priority, source, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, 0, $4, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+jobColumns,
		id, req.CustomerID, req.PackageSize, req.Priority, req.Source, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: the job already exists.
		return r.GetByID(ctx, id)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return r.GetByID(ctx, id)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	r.notifyJobs(ctx, job.ID)
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkInProgress performs the idempotent pending -> in_progress transition.
// Redelivered triggers for an already-started job return started=false with
// no error, so at-least-once delivery cannot fork a second flow.
func (r *JobRepo) MarkInProgress(ctx context.Context, id string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'in_progress',
		    started_at = COALESCE(started_at, $2),
		    updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark job in_progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark in_progress rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish "already started" from "unknown job".
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}

	r.notifyJobs(ctx, id)
	return true, nil
}

// UpdateProgress sets progress (0-100). GREATEST keeps progress monotonic
// even when settling tasks race.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2),
		    updated_at = $3
		WHERE id = $1 AND status = 'in_progress'
	`, id, progress, now)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected > 0 {
		r.notifyJobs(ctx, id)
	}
	return nil
}

// Finalize moves an in_progress job to a terminal status. A job that is
// already terminal is left untouched and finalized=false is returned.
func (r *JobRepo) Finalize(ctx context.Context, id string, status model.JobStatus, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	now := r.timeProvider.Now().UTC()
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    progress = 100,
		    error_message = $3,
		    completed_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status = 'in_progress'
	`, id, status, msg, now)
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	r.notifyJobs(ctx, id)
	return true, nil
}

// Stats returns job counts per status for the dashboard read surface.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'pending')     AS pending,
	    count(*) FILTER (WHERE status = 'in_progress') AS in_progress,
	    count(*) FILTER (WHERE status = 'completed')   AS completed,
	    count(*) FILTER (WHERE status = 'failed')      AS failed
	  FROM jobs
	`).Scan(&s.Pending, &s.InProgress, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// View returns the jobs read surface row for one job, joining terminal
// result counts.
func (r *JobRepo) View(ctx context.Context, id string) (*model.JobView, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT j.id, j.status, j.progress, j.package_size,
		       j.package_size AS directories_total,
		       count(res.id) FILTER (WHERE res.status IN ('submitted','failed','skipped','needs_human')) AS directories_done,
		       j.created_at, j.started_at, j.completed_at
		FROM jobs j
		LEFT JOIN job_results res ON res.job_id = j.id
		WHERE j.id = $1
		GROUP BY j.id
	`, id)

	var (
		v                      model.JobView
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&v.ID, &v.Status, &v.Progress, &v.PackageSize,
		&v.DirectoriesTotal, &v.DirectoriesDone,
		&v.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job view: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		v.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		v.CompletedAt = &t
	}
	return &v, nil
}

// notifyJobs fires the change-notification channel. Failures are logged,
// never propagated: notification is best-effort and readers fall back to
// their next poll.
func (r *JobRepo) notifyJobs(ctx context.Context, jobID string) {
	if _, err := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, NotifyChannelJobs, jobID); err != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "job change notification failed", "job_id", jobID, "error", err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// isForeignKeyViolation reports whether err is a Postgres FK violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
