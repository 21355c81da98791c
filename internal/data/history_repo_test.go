package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/testutil"
)

func TestHistoryRepoAppendAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	jobs := data.NewJobRepo(db, data.RepoConfig{})
	history := data.NewHistoryRepo(db, data.RepoConfig{})
	ctx := context.Background()

	job := createJob(t, jobs)

	require.NoError(t, history.Append(ctx, model.AppendHistoryRequest{
		JobID:    job.ID,
		Event:    model.EventQueueClaimed,
		Details:  "receive_count=1 priority=50",
		WorkerID: "worker-1",
	}))
	require.NoError(t, history.Append(ctx, model.AppendHistoryRequest{
		JobID: job.ID,
		Event: model.EventFlowStarted,
	}))
	require.NoError(t, history.Append(ctx, model.AppendHistoryRequest{
		JobID:         job.ID,
		DirectoryName: "yellowpages",
		Event:         model.EventSubmissionComplete,
		Details:       "status=submitted attempts=1",
	}))

	records, err := history.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, model.EventQueueClaimed, records[0].Event)
	require.NotNil(t, records[0].WorkerID)
	assert.Equal(t, "worker-1", *records[0].WorkerID)
	assert.Nil(t, records[0].DirectoryName)

	assert.Equal(t, model.EventFlowStarted, records[1].Event)
	assert.Nil(t, records[1].WorkerID)

	require.NotNil(t, records[2].DirectoryName)
	assert.Equal(t, "yellowpages", *records[2].DirectoryName)
}

func TestHistoryRepoAppendValidates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	history := data.NewHistoryRepo(db, data.RepoConfig{})
	err := history.Append(context.Background(), model.AppendHistoryRequest{
		JobID: "job-1",
		Event: "made_up_event",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid history event")
}

func TestHistoryRepoDeleteOld(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	jobs := data.NewJobRepo(db, data.RepoConfig{})
	history := data.NewHistoryRepo(db, data.RepoConfig{})
	ctx := context.Background()

	job := createJob(t, jobs)
	require.NoError(t, history.Append(ctx, model.AppendHistoryRequest{
		JobID: job.ID,
		Event: model.EventFlowStarted,
	}))
	require.NoError(t, history.Append(ctx, model.AppendHistoryRequest{
		JobID: job.ID,
		Event: model.EventFlowCompleted,
	}))

	_, err := db.ExecContext(ctx, `
		UPDATE queue_history SET created_at = now() - interval '200 days'
		WHERE job_id = $1 AND event = 'flow_started'
	`, job.ID)
	require.NoError(t, err)

	deleted, err := history.DeleteOld(ctx, core.RetentionParams{
		MaxAge:    180 * 24 * time.Hour,
		BatchSize: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	records, err := history.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.EventFlowCompleted, records[0].Event)
}
