package model

import (
	"encoding/json"
	"time"
)

// WorkerStatus describes what a worker reported in its last heartbeat.
type WorkerStatus string

const (
	// WorkerStatusIdle indicates a worker waiting for work.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusBusy indicates a worker processing a task.
	WorkerStatusBusy WorkerStatus = "busy"
	// WorkerStatusStale indicates the monitor flagged the worker as presumed dead.
	WorkerStatusStale WorkerStatus = "stale"
)

// WorkerHeartbeat is a periodic liveness record upserted by each worker on a
// fixed tick and read by the stale-worker monitor.
type WorkerHeartbeat struct {
	WorkerID      string          `json:"worker_id"      db:"worker_id"`
	LastSeen      time.Time       `json:"last_seen"      db:"last_seen"`
	Status        WorkerStatus    `json:"status"         db:"status"`
	JobsProcessed int64           `json:"jobs_processed" db:"jobs_processed"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// Stale reports whether the heartbeat is older than threshold at the given
// reference time. Threshold is typically a multiple of the heartbeat tick.
func (h *WorkerHeartbeat) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(h.LastSeen) > threshold
}
