// Package core contains the port definitions between the service layer and
// its adapters (data stores, queue, oracle, browser). Services depend on
// these interfaces, never on concrete implementations.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/listpilot/listpilot/internal/domain/model"
)

// JobRepository defines job state-machine operations. All transitions are
// monotonic: pending -> in_progress -> {completed, failed}.
type JobRepository interface {
	// Create registers a job row at enqueue time. Creating an already
	// existing job id is a no-op returning the existing row.
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// MarkInProgress performs the idempotent pending -> in_progress
	// transition. Returns started=false when the job was already started or
	// finished, so queue redelivery cannot fork a second flow.
	MarkInProgress(ctx context.Context, id string) (started bool, err error)
	// UpdateProgress sets progress (0-100). Progress never decreases.
	UpdateProgress(ctx context.Context, id string, progress int) error
	// Finalize moves an in_progress job to its terminal status. Finalizing a
	// job that is already terminal is a no-op returning finalized=false.
	Finalize(ctx context.Context, id string, status model.JobStatus, errMsg string) (finalized bool, err error)
	Stats(ctx context.Context) (*model.JobStats, error)
	View(ctx context.Context, id string) (*model.JobView, error)
}

// JobResultRepository is the idempotent result store: every write is an
// upsert keyed by idempotency_key, making concurrent writers commutative.
type JobResultRepository interface {
	// Upsert records a task outcome. A row whose status is already
	// submitted is never downgraded; the first success wins and later
	// attempts with the same key collapse into it.
	Upsert(ctx context.Context, req model.UpsertResultRequest) (*model.JobResult, error)
	GetByKey(ctx context.Context, idempotencyKey string) (*model.JobResult, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.JobResult, error)
	// DeleteOldTerminal removes terminal result rows older than MaxAge in
	// batches; returns the number of rows deleted.
	DeleteOldTerminal(ctx context.Context, params RetentionParams) (int64, error)
}

// RetentionParams bounds one retention sweep batch.
type RetentionParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// HistoryRepository is the append-only audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, req model.AppendHistoryRequest) error
	ListByJob(ctx context.Context, jobID string) ([]*model.HistoryRecord, error)
	DeleteOld(ctx context.Context, params RetentionParams) (int64, error)
}

// HeartbeatRepository is the shared worker liveness registry.
type HeartbeatRepository interface {
	Upsert(ctx context.Context, hb *model.WorkerHeartbeat) error
	List(ctx context.Context) ([]*model.WorkerHeartbeat, error)
	// MarkStale flags a worker as presumed dead; returns false when the
	// worker heartbeated again since it was observed.
	MarkStale(ctx context.Context, workerID string, observedLastSeen time.Time) (bool, error)
}

// DirectoryRepository serves the ordered target-directory catalog.
type DirectoryRepository interface {
	// ListEnabled returns enabled directories ordered by rank, bounded by limit.
	ListEnabled(ctx context.Context, limit int) ([]*model.Directory, error)
	GetByName(ctx context.Context, name string) (*model.Directory, error)
}

// ProfileRepository serves business-profile snapshots.
type ProfileRepository interface {
	GetByCustomerID(ctx context.Context, customerID string) (*model.BusinessProfile, error)
}

// ChangeFeed lets dashboard-facing readers block on store change
// notifications instead of polling.
type ChangeFeed interface {
	WaitForChange(ctx context.Context, channel string) error
}

// Delivery is one received queue message plus the handle needed to ack it.
type Delivery struct {
	MessageID    string
	Receipt      string
	Body         []byte
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Queue is the durable at-least-once message queue with a visibility timeout
// and automatic dead-letter routing after a bounded redelivery count.
type Queue interface {
	// Enqueue appends a message and returns its message id.
	Enqueue(ctx context.Context, body []byte) (string, error)
	// Receive claims up to max messages, blocking up to wait when the queue
	// is empty. Claimed messages stay invisible to other consumers until
	// acked or their visibility timeout elapses.
	Receive(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error)
	// Ack deletes a claimed message. Acking an expired receipt fails.
	Ack(ctx context.Context, receipt string) error
	// Depth returns the number of visible plus in-flight messages.
	Depth(ctx context.Context) (int64, error)
	// DeadLetterCount returns the number of messages routed to the DLQ.
	DeadLetterCount(ctx context.Context) (int64, error)
	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
}

// PlanRequest is the field-mapping oracle input: a directory's known form
// shape plus the business profile to map onto it.
type PlanRequest struct {
	Directory *model.Directory       `json:"directory"`
	Profile   *model.BusinessProfile `json:"business_profile"`
}

// Planner is the field-mapping oracle port.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*model.FillPlan, error)
}

// SubmissionOutcome is what the browser worker observed after executing a
// fill plan. ResponseLog and Screenshot are captured on success and failure
// alike for audit.
type SubmissionOutcome struct {
	Status        model.ResultStatus
	ResponseLog   json.RawMessage
	ScreenshotRef string
	ErrorMessage  string
}

// Submitter executes a fill plan against a directory and classifies the result.
type Submitter interface {
	Submit(ctx context.Context, dir *model.Directory, plan *model.FillPlan) (*SubmissionOutcome, error)
}

// CaptchaSolver forwards CAPTCHA challenges to an external solving service.
type CaptchaSolver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (token string, err error)
}
