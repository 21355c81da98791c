package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/domain/retry"
	"github.com/listpilot/listpilot/internal/failure"
	"github.com/listpilot/listpilot/internal/observability/statsd"
)

// TaskOptions configures the per-directory task runner.
type TaskOptions struct {
	Results   core.JobResultRepository
	Planner   core.Planner
	Submitter core.Submitter
	Retry     retry.Policy
	// TaskTimeout is the hard wall-clock ceiling for one task across all its
	// attempts. Defaults to 10m.
	TaskTimeout time.Duration
	Metrics     statsd.Sink
	Logger      *slog.Logger
}

// TaskRunner executes one idempotent submission task: plan, submit, record.
// The task is the retry unit; each attempt re-derives the same idempotency
// key, so however many times the task runs, the directory sees at most one
// accepted submission.
type TaskRunner struct {
	results   core.JobResultRepository
	planner   core.Planner
	submitter core.Submitter
	retry     retry.Policy
	timeout   time.Duration
	metrics   statsd.Sink
	logger    *slog.Logger

	mu         sync.Mutex
	lastSubmit map[string]time.Time
}

// TaskResult is what one settled task reports back to the orchestrator.
type TaskResult struct {
	Status   model.ResultStatus
	Attempts int
	Key      string
}

// NewTaskRunner constructs a TaskRunner.
func NewTaskRunner(opts TaskOptions) (*TaskRunner, error) {
	switch {
	case opts.Results == nil:
		return nil, errors.New("task runner requires a result repository")
	case opts.Planner == nil:
		return nil, errors.New("task runner requires a planner")
	case opts.Submitter == nil:
		return nil, errors.New("task runner requires a submitter")
	}

	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &TaskRunner{
		results:    opts.Results,
		planner:    opts.Planner,
		submitter:  opts.Submitter,
		retry:      policy,
		timeout:    timeout,
		metrics:    opts.Metrics,
		logger:     resolveLogger(opts.Logger).With("component", "task"),
		lastSubmit: make(map[string]time.Time),
	}, nil
}

// Run executes the submission task for one directory and always settles it
// with a recorded result, even when every attempt failed. It never returns an
// error to the orchestrator; a settled failure is an outcome, not a fault.
func (t *TaskRunner) Run(ctx context.Context, job *model.Job, profile *model.BusinessProfile, dir *model.Directory) TaskResult {
	log := t.logger.With("job_id", job.ID, "directory", dir.Name)
	start := time.Now()

	// The profile snapshot travels with the task and feeds the key: a later
	// profile edit produces a different key and therefore a new submission,
	// while a byte-identical redelivery collapses into this one.
	payload, err := json.Marshal(profile)
	if err != nil {
		log.ErrorContext(ctx, "profile snapshot marshal failed", "error", err)
		return TaskResult{Status: model.ResultStatusFailed}
	}
	key := model.IdempotencyKey(job.ID, dir.ID, payload)

	if existing, err := t.results.GetByKey(ctx, key); err == nil {
		if existing.Status == model.ResultStatusSubmitted {
			log.InfoContext(ctx, "prior success found, short-circuiting", "idempotency_key", key)
			t.count("task.short_circuit", nil)
			return TaskResult{Status: existing.Status, Attempts: existing.Attempts, Key: key}
		}
	} else if !errors.Is(err, data.ErrResultNotFound) {
		log.WarnContext(ctx, "result lookup failed, proceeding", "error", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	base := model.UpsertResultRequest{
		JobID:          job.ID,
		DirectoryName:  dir.Name,
		IdempotencyKey: key,
		Payload:        payload,
	}

	var (
		attempts int
		outcome  *core.SubmissionOutcome
	)
	runErr := t.retry.Run(runCtx, func(ctx context.Context, attempt int) error {
		attempts = attempt

		plan, err := t.planner.Plan(ctx, core.PlanRequest{Directory: dir, Profile: profile})
		if err != nil {
			t.recordAttempt(ctx, base, nil, err)
			return err
		}

		if err := t.throttle(ctx, dir); err != nil {
			return err
		}

		oc, err := t.submitter.Submit(ctx, dir, plan)
		if oc != nil {
			outcome = oc
		}
		if err != nil {
			t.recordAttempt(ctx, base, oc, err)
			return err
		}
		return nil
	})

	req := base
	switch {
	case runErr == nil:
		req.Status = outcome.Status
		req.ResponseLog = outcome.ResponseLog
		req.ScreenshotRef = outcome.ScreenshotRef
		req.ErrorMessage = outcome.ErrorMessage
	default:
		req.Status = model.ResultStatusFailed
		if failure.KindOf(runErr) == failure.KindAmbiguous {
			req.Status = model.ResultStatusNeedsHuman
		}
		req.ErrorMessage = runErr.Error()
		if outcome != nil {
			req.ResponseLog = outcome.ResponseLog
			req.ScreenshotRef = outcome.ScreenshotRef
		}
	}

	if _, err := t.results.Upsert(ctx, req); err != nil {
		// The effect may have happened; the key guards the redelivery path.
		log.ErrorContext(ctx, "result upsert failed", "idempotency_key", key, "error", err)
	}

	if t.metrics != nil {
		t.metrics.Timing("task.duration", time.Since(start), map[string]string{"status": string(req.Status)})
	}
	settledTags := map[string]string{"status": string(req.Status)}
	if runErr != nil {
		settledTags["error"] = failure.Classify(runErr)
	}
	t.count("task.settled", settledTags)
	log.InfoContext(ctx, "task settled",
		"status", req.Status,
		"attempts", attempts,
		"idempotency_key", key,
	)
	return TaskResult{Status: req.Status, Attempts: attempts, Key: key}
}

// throttle spaces submissions to one directory by its MinInterval. Each
// caller reserves the next slot before sleeping, so concurrent tasks against
// the same directory queue up instead of racing the same window.
func (t *TaskRunner) throttle(ctx context.Context, dir *model.Directory) error {
	if dir.MinInterval <= 0 {
		return nil
	}

	t.mu.Lock()
	slot := t.lastSubmit[dir.ID].Add(dir.MinInterval)
	if now := time.Now(); slot.Before(now) {
		slot = now
	}
	t.lastSubmit[dir.ID] = slot
	t.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// recordAttempt persists an intermediate failed attempt so the attempt
// counter and last error survive a worker crash between retries.
func (t *TaskRunner) recordAttempt(ctx context.Context, base model.UpsertResultRequest, oc *core.SubmissionOutcome, cause error) {
	req := base
	req.Status = model.ResultStatusRetry
	req.ErrorMessage = cause.Error()
	if oc != nil {
		req.ResponseLog = oc.ResponseLog
		req.ScreenshotRef = oc.ScreenshotRef
	}
	if _, err := t.results.Upsert(ctx, req); err != nil {
		t.logger.WarnContext(ctx, "attempt record failed",
			"idempotency_key", base.IdempotencyKey, "error", err)
	}
	t.count("task.attempt_failed", map[string]string{"error": failure.Classify(cause)})
}

func (t *TaskRunner) count(name string, tags map[string]string) {
	if t.metrics != nil {
		t.metrics.Count(name, 1, tags)
	}
}
