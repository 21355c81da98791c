package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/failure"
)

type taskFixture struct {
	runner    *TaskRunner
	results   *fakeResultRepo
	planner   *fakePlanner
	submitter *fakeSubmitter

	job     *model.Job
	profile *model.BusinessProfile
	dir     *model.Directory
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()

	results := newFakeResultRepo()
	planner := &fakePlanner{}
	submitter := newFakeSubmitter()

	runner, err := NewTaskRunner(TaskOptions{
		Results:   results,
		Planner:   planner,
		Submitter: submitter,
		Retry:     fastRetry(),
	})
	require.NoError(t, err)

	return &taskFixture{
		runner:    runner,
		results:   results,
		planner:   planner,
		submitter: submitter,
		job:       &model.Job{ID: "job-1", CustomerID: "cust-1", PackageSize: 1},
		profile:   &model.BusinessProfile{CustomerID: "cust-1", Name: "Acme Plumbing"},
		dir:       &model.Directory{ID: "dir-1", Name: "yellowpages"},
	}
}

func (fx *taskFixture) key(t *testing.T) string {
	t.Helper()
	payload, err := json.Marshal(fx.profile)
	require.NoError(t, err)
	return model.IdempotencyKey(fx.job.ID, fx.dir.ID, payload)
}

func TestTaskRunFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	result := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	assert.Equal(t, model.ResultStatusSubmitted, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, fx.key(t), result.Key)

	stored, err := fx.results.GetByKey(context.Background(), result.Key)
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusSubmitted, stored.Status)
}

func TestTaskRunSpacesSubmissionsByDirectoryMinInterval(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	fx.dir.MinInterval = 40 * time.Millisecond

	start := time.Now()
	first := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)
	require.Equal(t, model.ResultStatusSubmitted, first.Status)

	// A second job against the same directory must wait out the interval.
	second := fx.runner.Run(context.Background(),
		&model.Job{ID: "job-2", CustomerID: "cust-1", PackageSize: 1},
		fx.profile, fx.dir)
	require.Equal(t, model.ResultStatusSubmitted, second.Status)

	assert.GreaterOrEqual(t, time.Since(start), fx.dir.MinInterval)
	assert.Equal(t, 2, fx.submitter.calls)
}

func TestTaskRunShortCircuitsOnPriorSuccess(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	payload, err := json.Marshal(fx.profile)
	require.NoError(t, err)

	_, err = fx.results.Upsert(context.Background(), model.UpsertResultRequest{
		JobID:          fx.job.ID,
		DirectoryName:  fx.dir.Name,
		Status:         model.ResultStatusSubmitted,
		IdempotencyKey: fx.key(t),
		Payload:        payload,
	})
	require.NoError(t, err)

	result := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	assert.Equal(t, model.ResultStatusSubmitted, result.Status)
	assert.Equal(t, 0, fx.submitter.calls, "a prior success must never resubmit")
	assert.Equal(t, 0, fx.planner.calls)
}

func TestTaskRunRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	fx.submitter.script(fx.dir.Name,
		submitResult{err: failure.Newf(failure.KindTransientAutomation, "navigation timeout")},
		submitResult{outcome: &core.SubmissionOutcome{Status: model.ResultStatusSubmitted}},
	)

	result := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	assert.Equal(t, model.ResultStatusSubmitted, result.Status)
	assert.Equal(t, 2, result.Attempts)

	// The intermediate retry record and the final success collapse into one
	// row under the same key; the success wins.
	stored, err := fx.results.GetByKey(context.Background(), result.Key)
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusSubmitted, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestTaskRunExhaustsTransientFailures(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	for i := 0; i < 3; i++ {
		fx.submitter.script(fx.dir.Name,
			submitResult{err: failure.Newf(failure.KindTransientInfra, "connection reset")})
	}

	result := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	assert.Equal(t, model.ResultStatusFailed, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, fx.submitter.calls)

	stored, err := fx.results.GetByKey(context.Background(), result.Key)
	require.NoError(t, err)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "connection reset")
}

func TestTaskRunStructuralFailureStopsImmediately(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	fx.submitter.script(fx.dir.Name,
		submitResult{err: failure.Newf(failure.KindStructural, "duplicate listing")})

	result := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	assert.Equal(t, model.ResultStatusFailed, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, fx.submitter.calls, "structural failures must not retry")
}

func TestTaskRunAmbiguousOutcomeNeedsHuman(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	fx.submitter.script(fx.dir.Name,
		submitResult{err: failure.Newf(failure.KindAmbiguous, "confirmation page unreadable")})

	result := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	assert.Equal(t, model.ResultStatusNeedsHuman, result.Status)

	stored, err := fx.results.GetByKey(context.Background(), result.Key)
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusNeedsHuman, stored.Status)
}

func TestTaskRunPlannerFailureRecorded(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	fx.planner.err = failure.Newf(failure.KindValidation, "profile incomplete")

	result := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	assert.Equal(t, model.ResultStatusFailed, result.Status)
	assert.Equal(t, 0, fx.submitter.calls)

	stored, err := fx.results.GetByKey(context.Background(), result.Key)
	require.NoError(t, err)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "profile incomplete")
}

func TestTaskRunDistinctPayloadsGetDistinctKeys(t *testing.T) {
	t.Parallel()

	fx := newTaskFixture(t)
	first := fx.runner.Run(context.Background(), fx.job, fx.profile, fx.dir)

	edited := *fx.profile
	edited.Phone = "555-0199"
	second := fx.runner.Run(context.Background(), fx.job, &edited, fx.dir)

	assert.NotEqual(t, first.Key, second.Key)
	assert.Equal(t, 2, fx.submitter.calls, "a profile edit is a new submission")
}
