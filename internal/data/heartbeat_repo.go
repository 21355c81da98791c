package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/listpilot/listpilot/internal/domain/model"
)

// HeartbeatRepo is the shared worker liveness registry.
type HeartbeatRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewHeartbeatRepo constructs a HeartbeatRepo.
func NewHeartbeatRepo(db *sql.DB, cfg RepoConfig) *HeartbeatRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &HeartbeatRepo{DB: db, timeProvider: tp}
}

// Upsert writes a worker's heartbeat; one row per worker_id.
func (r *HeartbeatRepo) Upsert(ctx context.Context, hb *model.WorkerHeartbeat) error {
	if hb == nil || hb.WorkerID == "" {
		return errors.New("worker_id is required")
	}

	lastSeen := hb.LastSeen
	if lastSeen.IsZero() {
		lastSeen = r.timeProvider.Now()
	}
	meta := hb.Metadata
	if len(meta) == 0 {
		meta = []byte(`{}`)
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (worker_id, last_seen, status, jobs_processed, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (worker_id) DO UPDATE SET
		  last_seen = EXCLUDED.last_seen,
		  status = EXCLUDED.status,
		  jobs_processed = EXCLUDED.jobs_processed,
		  metadata = EXCLUDED.metadata
	`, hb.WorkerID, lastSeen.UTC(), hb.Status, hb.JobsProcessed, []byte(meta))
	if err != nil {
		return fmt.Errorf("upsert worker_heartbeats: %w", err)
	}
	return nil
}

// List returns all registered worker heartbeats.
func (r *HeartbeatRepo) List(ctx context.Context) ([]*model.WorkerHeartbeat, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT worker_id, last_seen, status, jobs_processed, metadata
		FROM worker_heartbeats
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list worker_heartbeats: %w", err)
	}
	defer rows.Close()

	var beats []*model.WorkerHeartbeat
	for rows.Next() {
		var hb model.WorkerHeartbeat
		var meta []byte
		if scanErr := rows.Scan(&hb.WorkerID, &hb.LastSeen, &hb.Status, &hb.JobsProcessed, &meta); scanErr != nil {
			return nil, fmt.Errorf("scan worker_heartbeats: %w", scanErr)
		}
		hb.LastSeen = hb.LastSeen.UTC()
		hb.Metadata = meta
		beats = append(beats, &hb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list worker_heartbeats: %w", err)
	}
	return beats, nil
}

// MarkStale flags a worker as presumed dead. The last_seen guard makes the
// flag race-safe: a worker that heartbeated after the monitor observed it is
// left alone and false is returned.
func (r *HeartbeatRepo) MarkStale(ctx context.Context, workerID string, observedLastSeen time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE worker_heartbeats
		SET status = $3
		WHERE worker_id = $1 AND last_seen <= $2
	`, workerID, observedLastSeen.UTC(), model.WorkerStatusStale)
	if err != nil {
		return false, fmt.Errorf("mark worker stale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark stale rows affected: %w", err)
	}
	return affected > 0, nil
}
