package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/domain/model"
)

// NotifyChannelResults is the pg_notify channel fired on job_results upserts.
const NotifyChannelResults = "job_results_changed"

// JobResultRepo is the idempotent result store. Every write is an upsert
// keyed by idempotency_key; the upsert predicate makes concurrent writers
// commutative, which is what lets workers scale horizontally without locks.
type JobResultRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewJobResultRepo constructs a JobResultRepo.
func NewJobResultRepo(db *sql.DB, cfg RepoConfig) *JobResultRepo {
	return &JobResultRepo{DB: db, logger: cfg.Logger}
}

const resultColumns = `
  id,
  job_id,
  directory_name,
  status,
  idempotency_key,
  payload,
  response_log,
  error_message,
  attempts,
  screenshot_ref,
  created_at,
  updated_at
`

func scanResult(scanner jobRowScanner) (*model.JobResult, error) {
	var (
		res                   model.JobResult
		responseLog           []byte
		errMsg, screenshotRef sql.NullString
	)
	if err := scanner.Scan(
		&res.ID,
		&res.JobID,
		&res.DirectoryName,
		&res.Status,
		&res.IdempotencyKey,
		&res.Payload,
		&responseLog,
		&errMsg,
		&res.Attempts,
		&screenshotRef,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return nil, err
	}
	res.ResponseLog = responseLog
	if errMsg.Valid {
		v := errMsg.String
		res.ErrorMessage = &v
	}
	if screenshotRef.Valid {
		v := screenshotRef.String
		res.ScreenshotRef = &v
	}
	return &res, nil
}

// Upsert records one task outcome. First success wins: a row whose status is
// already 'submitted' is returned unchanged regardless of what the later
// attempt observed, so redelivered or concurrent duplicates collapse into a
// single logical effect.
func (r *JobResultRepo) Upsert(ctx context.Context, req model.UpsertResultRequest) (*model.JobResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	var errMsg, screenshotRef, responseLog any
	if req.ErrorMessage != "" {
		errMsg = req.ErrorMessage
	}
	if req.ScreenshotRef != "" {
		screenshotRef = req.ScreenshotRef
	}
	if len(req.ResponseLog) > 0 {
		responseLog = []byte(req.ResponseLog)
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO job_results
		  (id, job_id, directory_name, status, idempotency_key, payload, response_log, error_message, attempts, screenshot_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, now(), now())
		ON CONFLICT (idempotency_key) DO UPDATE SET
		  status = CASE WHEN job_results.status = 'submitted' THEN job_results.status ELSE EXCLUDED.status END,
		  response_log = CASE WHEN job_results.status = 'submitted' THEN job_results.response_log ELSE EXCLUDED.response_log END,
		  error_message = CASE WHEN job_results.status = 'submitted' THEN job_results.error_message ELSE EXCLUDED.error_message END,
		  screenshot_ref = CASE WHEN job_results.status = 'submitted' THEN job_results.screenshot_ref ELSE COALESCE(EXCLUDED.screenshot_ref, job_results.screenshot_ref) END,
		  attempts = job_results.attempts + CASE WHEN job_results.status = 'submitted' THEN 0 ELSE 1 END,
		  updated_at = CASE WHEN job_results.status = 'submitted' THEN job_results.updated_at ELSE now() END
		RETURNING `+resultColumns,
		uuid.NewString(), req.JobID, req.DirectoryName, req.Status,
		req.IdempotencyKey, []byte(payload), responseLog, errMsg, screenshotRef)

	res, err := scanResult(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("upsert job_results: %w", ErrJobNotFound)
		}
		return nil, fmt.Errorf("upsert job_results: %w", err)
	}

	r.notifyResults(ctx, res.JobID)
	return res, nil
}

// GetByKey retrieves the result row for an idempotency key. Task execution
// consults this before doing any work: a pre-existing terminal success
// short-circuits the whole attempt.
func (r *JobResultRepo) GetByKey(ctx context.Context, idempotencyKey string) (*model.JobResult, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM job_results WHERE idempotency_key = $1`, idempotencyKey)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job result: %w", err)
	}
	return res, nil
}

// ListByJob returns all result rows for a job, oldest first.
func (r *JobResultRepo) ListByJob(ctx context.Context, jobID string) ([]*model.JobResult, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM job_results WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job results: %w", err)
	}
	defer rows.Close()

	var results []*model.JobResult
	for rows.Next() {
		res, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job result: %w", scanErr)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job results: %w", err)
	}
	return results, nil
}

// DeleteOldTerminal removes terminal result rows older than MaxAge, at most
// BatchSize per call.
func (r *JobResultRepo) DeleteOldTerminal(ctx context.Context, params core.RetentionParams) (int64, error) {
	cutoff := time.Now().Add(-params.MaxAge).UTC()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM job_results
		WHERE id IN (
			SELECT id FROM job_results
			WHERE status IN ('submitted', 'failed', 'skipped', 'needs_human')
			  AND updated_at < $1
			LIMIT $2
		)
	`, cutoff, params.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old job results: %w", err)
	}
	return res.RowsAffected()
}

func (r *JobResultRepo) notifyResults(ctx context.Context, jobID string) {
	if _, err := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, NotifyChannelResults, jobID); err != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "result change notification failed", "job_id", jobID, "error", err)
	}
}
