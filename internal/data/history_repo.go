package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/domain/model"
)

// NotifyChannelHistory is the pg_notify channel fired on history appends.
const NotifyChannelHistory = "queue_history_changed"

// HistoryRepo is the append-only audit trail. Rows are inserted, never
// updated; the only deletion path is the retention sweep.
type HistoryRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewHistoryRepo constructs a HistoryRepo.
func NewHistoryRepo(db *sql.DB, cfg RepoConfig) *HistoryRepo {
	return &HistoryRepo{DB: db, logger: cfg.Logger}
}

// Append inserts one audit event.
func (r *HistoryRepo) Append(ctx context.Context, req model.AppendHistoryRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var dirName, workerID any
	if req.DirectoryName != "" {
		dirName = req.DirectoryName
	}
	if req.WorkerID != "" {
		workerID = req.WorkerID
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO queue_history (id, job_id, directory_name, event, details, worker_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, uuid.NewString(), req.JobID, dirName, req.Event, req.Details, workerID)
	if err != nil {
		return fmt.Errorf("append queue_history: %w", err)
	}

	if _, nerr := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, NotifyChannelHistory, req.JobID); nerr != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "history change notification failed", "job_id", req.JobID, "error", nerr)
	}
	return nil
}

// ListByJob returns the full timeline for a job in chronological order.
func (r *HistoryRepo) ListByJob(ctx context.Context, jobID string) ([]*model.HistoryRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, job_id, directory_name, event, details, worker_id, created_at
		FROM queue_history
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list queue_history: %w", err)
	}
	defer rows.Close()

	var records []*model.HistoryRecord
	for rows.Next() {
		var (
			rec               model.HistoryRecord
			dirName, workerID sql.NullString
		)
		if scanErr := rows.Scan(&rec.ID, &rec.JobID, &dirName, &rec.Event, &rec.Details, &workerID, &rec.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan queue_history: %w", scanErr)
		}
		if dirName.Valid {
			v := dirName.String
			rec.DirectoryName = &v
		}
		if workerID.Valid {
			v := workerID.String
			rec.WorkerID = &v
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queue_history: %w", err)
	}
	return records, nil
}

// DeleteOld removes history rows older than MaxAge, at most BatchSize per call.
func (r *HistoryRepo) DeleteOld(ctx context.Context, params core.RetentionParams) (int64, error) {
	cutoff := time.Now().Add(-params.MaxAge).UTC()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM queue_history
		WHERE id IN (
			SELECT id FROM queue_history WHERE created_at < $1 LIMIT $2
		)
	`, cutoff, params.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old queue_history: %w", err)
	}
	return res.RowsAffected()
}
