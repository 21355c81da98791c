package model

import (
	"fmt"
	"strings"
	"time"
)

// HistoryEvent names one step in the authoritative per-job timeline.
type HistoryEvent string

const (
	// EventQueueClaimed records that the subscriber claimed a queue delivery.
	EventQueueClaimed HistoryEvent = "queue_claimed"
	// EventFlowTriggered records that the orchestrator trigger call was accepted.
	EventFlowTriggered HistoryEvent = "flow_triggered"
	// EventFlowStarted records the idempotent pending -> in_progress transition.
	EventFlowStarted HistoryEvent = "flow_started"
	// EventSubmissionComplete records one per-directory task settling.
	EventSubmissionComplete HistoryEvent = "submission_complete"
	// EventFlowCompleted records the terminal completed transition.
	EventFlowCompleted HistoryEvent = "flow_completed"
	// EventFlowFailed records the terminal failed transition.
	EventFlowFailed HistoryEvent = "flow_failed"
)

// Valid returns true if the HistoryEvent is valid.
func (e HistoryEvent) Valid() bool {
	switch e {
	case EventQueueClaimed, EventFlowTriggered, EventFlowStarted,
		EventSubmissionComplete, EventFlowCompleted, EventFlowFailed:
		return true
	default:
		return false
	}
}

// HistoryRecord is one append-only audit trail row. Records are never
// mutated or deleted inside the retention window.
type HistoryRecord struct {
	ID            string       `json:"id"                       db:"id"`
	JobID         string       `json:"job_id"                   db:"job_id"`
	DirectoryName *string      `json:"directory_name,omitempty" db:"directory_name"`
	Event         HistoryEvent `json:"event"                    db:"event"`
	Details       string       `json:"details,omitempty"        db:"details"`
	WorkerID      *string      `json:"worker_id,omitempty"      db:"worker_id"`
	CreatedAt     time.Time    `json:"created_at"               db:"created_at"`
}

// AppendHistoryRequest carries one audit event into the trail.
type AppendHistoryRequest struct {
	JobID         string
	DirectoryName string
	Event         HistoryEvent
	Details       string
	WorkerID      string
}

// Validate validates the AppendHistoryRequest fields.
func (r *AppendHistoryRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}
	if !r.Event.Valid() {
		return fmt.Errorf("invalid history event: %q", r.Event)
	}
	return nil
}
