// Package model defines the core data types and structures used throughout the listpilot submission pipeline.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a submission job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be picked up off the queue.
	JobStatusPending JobStatus = "pending"
	// JobStatusInProgress indicates a job's per-directory tasks are running.
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusCompleted indicates a job has reached its terminal success state.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has reached its terminal failure state.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusInProgress ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true when no further transition is allowed from this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether the monotonic job state machine permits
// moving from s to next. Transitions never regress.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusInProgress
	case JobStatusInProgress:
		return next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed:
		return false
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus to allow env parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", v)
	}
	*s = v
	return nil
}

// Job represents one "submit this business to N directories" job.
// Created at enqueue time and mutated only by the orchestrator.
type Job struct {
	ID           string     `json:"id"                      db:"id"`
	CustomerID   string     `json:"customer_id"             db:"customer_id"`
	Status       JobStatus  `json:"status"                  db:"status"`
	PackageSize  int        `json:"package_size"            db:"package_size"`
	Progress     int        `json:"progress"                db:"progress"`
	Priority     int        `json:"priority"                db:"priority"`
	Source       string     `json:"source,omitempty"        db:"source"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at"              db:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"    db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"  db:"completed_at"`
	UpdatedAt    time.Time  `json:"updated_at"              db:"updated_at"`
}

// CreateJobRequest represents a request to register a new job at enqueue time.
type CreateJobRequest struct {
	ID          string `json:"id,omitempty"`
	CustomerID  string `json:"customer_id"`
	PackageSize int    `json:"package_size"`
	Priority    int    `json:"priority,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return errors.New("customer_id is required")
	}
	if r.PackageSize <= 0 {
		return errors.New("package_size must be positive")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	return nil
}

// JobStats summarizes jobs per status for the dashboard read surface.
type JobStats struct {
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// JobView is the jobs read surface consumed by the external dashboard.
type JobView struct {
	ID               string     `json:"id"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	PackageSize      int        `json:"package_size"`
	DirectoriesTotal int        `json:"directories_total"`
	DirectoriesDone  int        `json:"directories_done"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
