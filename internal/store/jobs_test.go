package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/models"
)

func TestInsertJobDefaults(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job := &models.BatchJob{TotalRouters: 12, BatchSize: 5}
	require.NoError(t, s.InsertJob(ctx, job))
	require.NotEmpty(t, job.ID)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 12, got.TotalRouters)
	assert.Equal(t, 5, got.BatchSize)
	assert.Equal(t, 0, got.CompletedRouters)
	assert.Equal(t, 0, got.FailedRouters)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestActiveJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	active, err := s.ActiveJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	job := &models.BatchJob{TotalRouters: 3, BatchSize: 5}
	require.NoError(t, s.InsertJob(ctx, job))

	active, err = s.ActiveJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	running := models.JobStatusRunning
	now := time.Now().UTC()
	require.NoError(t, s.UpdateJob(ctx, job.ID, JobUpdate{Status: &running, StartedAt: &now}))

	active, err = s.ActiveJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.JobStatusRunning, active.Status)

	done := models.JobStatusCompleted
	require.NoError(t, s.UpdateJob(ctx, job.ID, JobUpdate{Status: &done, CompletedAt: &now}))

	active, err = s.ActiveJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestUpdateJobPartial(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job := &models.BatchJob{TotalRouters: 10, BatchSize: 5}
	require.NoError(t, s.InsertJob(ctx, job))

	completed := 4
	failed := 1
	require.NoError(t, s.UpdateJob(ctx, job.ID, JobUpdate{
		CompletedRouters: &completed,
		FailedRouters:    &failed,
	}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CompletedRouters)
	assert.Equal(t, 1, got.FailedRouters)
	assert.Equal(t, models.JobStatusPending, got.Status, "untouched fields must keep their values")
}

func TestUpdateJobNoFields(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job := &models.BatchJob{TotalRouters: 1, BatchSize: 5}
	require.NoError(t, s.InsertJob(ctx, job))

	// An update with nothing to set is a no-op, not an error.
	require.NoError(t, s.UpdateJob(ctx, job.ID, JobUpdate{}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
}

func TestUpdateJobNotFound(t *testing.T) {
	s := setupTestStore(t)

	cancelled := models.JobStatusCancelled
	err := s.UpdateJob(context.Background(), "missing", JobUpdate{Status: &cancelled})
	assert.Equal(t, ferrors.ErrCodeNotFound, ferrors.GetCode(err))
}

func TestCancelActiveJobs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	pending := &models.BatchJob{TotalRouters: 2, BatchSize: 5}
	require.NoError(t, s.InsertJob(ctx, pending))

	finished := &models.BatchJob{TotalRouters: 2, BatchSize: 5}
	require.NoError(t, s.InsertJob(ctx, finished))
	done := models.JobStatusCompleted
	now := time.Now().UTC()
	require.NoError(t, s.UpdateJob(ctx, finished.ID, JobUpdate{Status: &done, CompletedAt: &now}))

	n, err := s.CancelActiveJobs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	got, err = s.GetJob(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestListJobsNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertJob(ctx, &models.BatchJob{TotalRouters: i + 1, BatchSize: 5}))
	}

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.False(t, jobs[0].CreatedAt.Before(jobs[1].CreatedAt))
	assert.False(t, jobs[1].CreatedAt.Before(jobs[2].CreatedAt))
}
