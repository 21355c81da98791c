package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/observability/statsd"
)

// OrchestratorOptions configures the job orchestrator.
type OrchestratorOptions struct {
	Jobs        core.JobRepository
	Results     core.JobResultRepository
	History     core.HistoryRepository
	Directories core.DirectoryRepository
	Profiles    core.ProfileRepository
	Tasks       *TaskRunner

	// Concurrency caps how many directory tasks run in parallel per job.
	// Defaults to 4.
	Concurrency int
	// SuccessThreshold is the fraction of directories that must reach
	// submitted for the job to finalize completed. At any threshold the job
	// still needs at least one successful submission.
	SuccessThreshold float64

	WorkerID     string
	Metrics      statsd.Sink
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// Orchestrator expands one job into per-directory submission tasks, tracks
// progress, and finalizes the job exactly once. Safe under queue redelivery:
// the pending -> in_progress transition is the dedupe gate, so a second
// trigger for a job that already started is a no-op.
type Orchestrator struct {
	jobs        core.JobRepository
	results     core.JobResultRepository
	history     core.HistoryRepository
	directories core.DirectoryRepository
	profiles    core.ProfileRepository
	tasks       *TaskRunner

	concurrency int
	threshold   float64
	workerID    string
	metrics     statsd.Sink
	logger      *slog.Logger
	now         data.TimeProvider
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("orchestrator requires a job repository")
	case opts.Results == nil:
		return nil, errors.New("orchestrator requires a result repository")
	case opts.History == nil:
		return nil, errors.New("orchestrator requires a history repository")
	case opts.Directories == nil:
		return nil, errors.New("orchestrator requires a directory repository")
	case opts.Profiles == nil:
		return nil, errors.New("orchestrator requires a profile repository")
	case opts.Tasks == nil:
		return nil, errors.New("orchestrator requires a task runner")
	}
	if opts.SuccessThreshold < 0 || opts.SuccessThreshold > 1 {
		return nil, fmt.Errorf("success threshold must be in [0,1], got %v", opts.SuccessThreshold)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &Orchestrator{
		jobs:        opts.Jobs,
		results:     opts.Results,
		history:     opts.History,
		directories: opts.Directories,
		profiles:    opts.Profiles,
		tasks:       opts.Tasks,
		concurrency: concurrency,
		threshold:   opts.SuccessThreshold,
		workerID:    opts.WorkerID,
		metrics:     opts.Metrics,
		logger:      resolveLogger(opts.Logger).With("component", "orchestrator"),
		now:         tp,
	}, nil
}

// StartJob runs one job end to end: the idempotent start transition, the
// per-directory fan-out, progress tracking, and finalization. Returns nil
// when the job was already started elsewhere; that is the redelivery no-op,
// not an error.
func (o *Orchestrator) StartJob(ctx context.Context, jobID string) error {
	started, err := o.jobs.MarkInProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	if !started {
		o.logger.InfoContext(ctx, "job already started, skipping", "job_id", jobID)
		o.count("orchestrator.start.duplicate", nil)
		return nil
	}

	o.appendHistory(ctx, jobID, "", model.EventFlowStarted, "")
	o.count("orchestrator.start", nil)
	startedAt := o.now.Now()

	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return o.finalizeFailed(ctx, jobID, fmt.Errorf("load job: %w", err))
	}

	profile, err := o.profiles.GetByCustomerID(ctx, job.CustomerID)
	if err != nil {
		return o.finalizeFailed(ctx, jobID, fmt.Errorf("load business profile for %s: %w", job.CustomerID, err))
	}

	dirs, err := o.directories.ListEnabled(ctx, job.PackageSize)
	if err != nil {
		return o.finalizeFailed(ctx, jobID, fmt.Errorf("list directories: %w", err))
	}
	if len(dirs) == 0 {
		return o.finalizeFailed(ctx, jobID, errors.New("no enabled directories available"))
	}

	tally := o.fanOut(ctx, job, profile, dirs)

	status := model.JobStatusFailed
	var errMsg string
	if o.thresholdMet(tally.submitted, len(dirs)) {
		status = model.JobStatusCompleted
	} else {
		errMsg = fmt.Sprintf("%d of %d directory submissions succeeded", tally.submitted, len(dirs))
	}

	if err := o.finalize(ctx, jobID, status, errMsg); err != nil {
		return err
	}

	if o.metrics != nil {
		o.metrics.Timing("orchestrator.job.duration", o.now.Now().Sub(startedAt),
			map[string]string{"status": string(status)})
	}
	o.logger.InfoContext(ctx, "job finalized",
		"job_id", jobID,
		"status", status,
		"submitted", tally.submitted,
		"failed", tally.failed,
		"needs_human", tally.needsHuman,
		"directories", len(dirs),
	)
	return nil
}

type taskTally struct {
	submitted  int
	failed     int
	needsHuman int
}

// fanOut runs one task per directory under the concurrency cap and updates
// job progress as each task settles. Task errors never abort the group; a
// settled failure is a counted outcome, not a reason to stop siblings.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	job *model.Job,
	profile *model.BusinessProfile,
	dirs []*model.Directory,
) taskTally {
	var (
		mu      sync.Mutex
		tally   taskTally
		settled int
	)
	total := len(dirs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			result := o.tasks.Run(gctx, job, profile, dir)

			mu.Lock()
			settled++
			switch result.Status {
			case model.ResultStatusSubmitted:
				tally.submitted++
			case model.ResultStatusNeedsHuman:
				tally.needsHuman++
			default:
				tally.failed++
			}
			progress := settled * 100 / total
			mu.Unlock()

			if err := o.jobs.UpdateProgress(gctx, job.ID, progress); err != nil {
				o.logger.WarnContext(gctx, "progress update failed",
					"job_id", job.ID, "progress", progress, "error", err)
			}
			o.appendHistory(gctx, job.ID, dir.Name, model.EventSubmissionComplete,
				fmt.Sprintf("status=%s attempts=%d", result.Status, result.Attempts))
			o.count("orchestrator.task.settled", map[string]string{"status": string(result.Status)})
			return nil
		})
	}
	_ = g.Wait()
	return tally
}

// thresholdMet applies the partial-success policy: at least one submission
// must succeed, and the configured fraction of the package must be met.
func (o *Orchestrator) thresholdMet(submitted, total int) bool {
	if submitted < 1 {
		return false
	}
	required := int(math.Ceil(o.threshold * float64(total)))
	return submitted >= required
}

func (o *Orchestrator) finalize(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	finalized, err := o.jobs.Finalize(ctx, jobID, status, errMsg)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	if !finalized {
		// A concurrent finalizer won; the terminal status is already set.
		o.logger.WarnContext(ctx, "job was already finalized", "job_id", jobID)
		return nil
	}

	event := model.EventFlowCompleted
	if status == model.JobStatusFailed {
		event = model.EventFlowFailed
	}
	o.appendHistory(ctx, jobID, "", event, errMsg)
	o.count("orchestrator.finalize", map[string]string{"status": string(status)})
	return nil
}

// finalizeFailed moves the job to failed after a setup error (profile or
// directory load) and returns the original error wrapped.
func (o *Orchestrator) finalizeFailed(ctx context.Context, jobID string, cause error) error {
	if err := o.finalize(ctx, jobID, model.JobStatusFailed, cause.Error()); err != nil {
		o.logger.ErrorContext(ctx, "finalize after setup failure also failed",
			"job_id", jobID, "error", err)
	}
	return fmt.Errorf("job %s: %w", jobID, cause)
}

// appendHistory writes an audit event; the trail is best-effort relative to
// the state machine, a failed append never fails the job.
func (o *Orchestrator) appendHistory(ctx context.Context, jobID, dirName string, event model.HistoryEvent, details string) {
	err := o.history.Append(ctx, model.AppendHistoryRequest{
		JobID:         jobID,
		DirectoryName: dirName,
		Event:         event,
		Details:       details,
		WorkerID:      o.workerID,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "history append failed",
			"job_id", jobID, "event", event, "error", err)
	}
}

func (o *Orchestrator) count(name string, tags map[string]string) {
	if o.metrics != nil {
		o.metrics.Count(name, 1, tags)
	}
}
