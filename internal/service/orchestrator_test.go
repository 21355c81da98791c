package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/domain/retry"
	"github.com/listpilot/listpilot/internal/failure"
)

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Factor:      2,
		Cap:         10 * time.Millisecond,
	}
}

type orchestratorFixture struct {
	orch      *Orchestrator
	jobs      *fakeJobRepo
	results   *fakeResultRepo
	history   *fakeHistoryRepo
	submitter *fakeSubmitter
}

func newOrchestratorFixture(t *testing.T, dirs []*model.Directory, threshold float64) *orchestratorFixture {
	t.Helper()

	jobs := newFakeJobRepo()
	results := newFakeResultRepo()
	history := &fakeHistoryRepo{}
	submitter := newFakeSubmitter()

	tasks, err := NewTaskRunner(TaskOptions{
		Results:   results,
		Planner:   &fakePlanner{},
		Submitter: submitter,
		Retry:     fastRetry(),
	})
	require.NoError(t, err)

	orch, err := NewOrchestrator(OrchestratorOptions{
		Jobs:             jobs,
		Results:          results,
		History:          history,
		Directories:      &fakeDirectoryRepo{dirs: dirs},
		Profiles:         &fakeProfileRepo{profile: &model.BusinessProfile{CustomerID: "cust-1", Name: "Acme Plumbing"}},
		Tasks:            tasks,
		Concurrency:      2,
		SuccessThreshold: threshold,
		WorkerID:         "worker-test",
	})
	require.NoError(t, err)

	return &orchestratorFixture{
		orch:      orch,
		jobs:      jobs,
		results:   results,
		history:   history,
		submitter: submitter,
	}
}

func seedJob(t *testing.T, jobs *fakeJobRepo, packageSize int) *model.Job {
	t.Helper()
	job, err := jobs.Create(context.Background(), &model.CreateJobRequest{
		ID:          "job-1",
		CustomerID:  "cust-1",
		PackageSize: packageSize,
		Priority:    50,
	})
	require.NoError(t, err)
	return job
}

func directories(n int) []*model.Directory {
	out := make([]*model.Directory, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &model.Directory{
			ID:   fmt.Sprintf("dir-%d", i),
			Name: fmt.Sprintf("directory-%d", i),
		})
	}
	return out
}

func TestStartJobPartialSuccessCompletes(t *testing.T) {
	t.Parallel()

	dirs := directories(5)
	fx := newOrchestratorFixture(t, dirs, 0)
	seedJob(t, fx.jobs, 5)

	// Two directories never succeed: one structurally rejects, one ends up
	// needing human review. The other three submit on the first attempt.
	fx.submitter.script("directory-1", submitResult{
		err: failure.Newf(failure.KindStructural, "duplicate listing"),
	})
	fx.submitter.script("directory-3", submitResult{
		err: failure.Newf(failure.KindAmbiguous, "unreadable confirmation page"),
	})

	require.NoError(t, fx.orch.StartJob(context.Background(), "job-1"))

	job := fx.jobs.get("job-1")
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Nil(t, job.ErrorMessage)

	results, err := fx.results.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, results, 5)

	byStatus := map[model.ResultStatus]int{}
	for _, r := range results {
		byStatus[r.Status]++
	}
	assert.Equal(t, 3, byStatus[model.ResultStatusSubmitted])
	assert.Equal(t, 1, byStatus[model.ResultStatusFailed])
	assert.Equal(t, 1, byStatus[model.ResultStatusNeedsHuman])

	assert.Equal(t, 1, fx.history.countEvent(model.EventFlowStarted))
	assert.Equal(t, 5, fx.history.countEvent(model.EventSubmissionComplete))
	assert.Equal(t, 1, fx.history.countEvent(model.EventFlowCompleted))
	assert.Equal(t, 0, fx.history.countEvent(model.EventFlowFailed))
}

func TestStartJobRedeliveryIsNoOp(t *testing.T) {
	t.Parallel()

	fx := newOrchestratorFixture(t, directories(2), 0)
	seedJob(t, fx.jobs, 2)

	require.NoError(t, fx.orch.StartJob(context.Background(), "job-1"))
	submits := fx.submitter.calls

	// Second trigger for the same job must not fork a second flow.
	require.NoError(t, fx.orch.StartJob(context.Background(), "job-1"))
	assert.Equal(t, submits, fx.submitter.calls)
	assert.Equal(t, 1, fx.history.countEvent(model.EventFlowStarted))
}

func TestStartJobAllFailuresFails(t *testing.T) {
	t.Parallel()

	dirs := directories(2)
	fx := newOrchestratorFixture(t, dirs, 0)
	seedJob(t, fx.jobs, 2)

	for _, d := range dirs {
		fx.submitter.script(d.Name, submitResult{
			err: failure.Newf(failure.KindStructural, "rejected"),
		})
	}

	require.NoError(t, fx.orch.StartJob(context.Background(), "job-1"))

	job := fx.jobs.get("job-1")
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "0 of 2")
	assert.Equal(t, 1, fx.history.countEvent(model.EventFlowFailed))
}

func TestStartJobThresholdNotMetFails(t *testing.T) {
	t.Parallel()

	dirs := directories(4)
	fx := newOrchestratorFixture(t, dirs, 0.75)
	seedJob(t, fx.jobs, 4)

	// Two of four succeed; ceil(0.75 * 4) = 3 is required.
	fx.submitter.script("directory-0", submitResult{
		err: failure.Newf(failure.KindStructural, "rejected"),
	})
	fx.submitter.script("directory-1", submitResult{
		err: failure.Newf(failure.KindStructural, "rejected"),
	})

	require.NoError(t, fx.orch.StartJob(context.Background(), "job-1"))

	job := fx.jobs.get("job-1")
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "2 of 4")
}

func TestStartJobNoDirectoriesFails(t *testing.T) {
	t.Parallel()

	fx := newOrchestratorFixture(t, nil, 0)
	seedJob(t, fx.jobs, 3)

	err := fx.orch.StartJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled directories")

	job := fx.jobs.get("job-1")
	assert.Equal(t, model.JobStatusFailed, job.Status)
}

func TestStartJobMissingProfileFails(t *testing.T) {
	t.Parallel()

	fx := newOrchestratorFixture(t, directories(2), 0)
	job, err := fx.jobs.Create(context.Background(), &model.CreateJobRequest{
		ID:          "job-orphan",
		CustomerID:  "cust-unknown",
		PackageSize: 2,
	})
	require.NoError(t, err)

	err = fx.orch.StartJob(context.Background(), job.ID)
	require.Error(t, err)

	assert.Equal(t, model.JobStatusFailed, fx.jobs.get(job.ID).Status)
	assert.Equal(t, 0, fx.submitter.calls)
}

func TestThresholdMet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold float64
		submitted int
		total     int
		want      bool
	}{
		{"zero threshold still needs one success", 0, 0, 5, false},
		{"zero threshold with one success", 0, 1, 5, true},
		{"half threshold exact", 0.5, 3, 6, true},
		{"half threshold below", 0.5, 2, 6, false},
		{"full threshold requires all", 1, 4, 5, false},
		{"full threshold met", 1, 5, 5, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := &Orchestrator{threshold: tt.threshold}
			assert.Equal(t, tt.want, o.thresholdMet(tt.submitted, tt.total))
		})
	}
}

func TestNewOrchestratorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOrchestrator(OrchestratorOptions{})
	require.Error(t, err)

	fx := newOrchestratorFixture(t, directories(1), 0)
	_, err = NewOrchestrator(OrchestratorOptions{
		Jobs:             fx.jobs,
		Results:          fx.results,
		History:          fx.history,
		Directories:      &fakeDirectoryRepo{},
		Profiles:         &fakeProfileRepo{},
		Tasks:            fx.orch.tasks,
		SuccessThreshold: 1.5,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")
}
