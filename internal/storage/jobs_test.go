package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/model"
)

func TestJobLifecycle(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	ep, job := seedJob(t, st, 100, "+15550001")
	assert.Equal(t, ep.ID, job.EndpointID)
	assert.False(t, job.Active)
	assert.Nil(t, job.Message)
	assert.Nil(t, job.LastRunAt)

	job, err := st.UpdateJob(ctx, job.ID, model.JobPatch{Message: model.Ptr("hello")})
	require.NoError(t, err)
	assert.Equal(t, "hello", job.Text())

	job, err = st.UpdateJob(ctx, job.ID, model.JobPatch{IntervalMin: model.Ptr(15)})
	require.NoError(t, err)
	assert.Equal(t, 15, job.Interval())
	assert.Equal(t, "hello", job.Text())

	ran := time.UnixMilli(time.Now().UnixMilli())
	job, err = st.UpdateJob(ctx, job.ID, model.JobPatch{Active: model.Ptr(true), LastRunAt: &ran})
	require.NoError(t, err)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, ran.Equal(*got.LastRunAt))

	require.NoError(t, st.DeleteJob(ctx, job.ID))
	_, err = st.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateJobRefusesHalfConfiguredActivation(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	_, job := seedJob(t, st, 1, "+1")

	_, err := st.UpdateJob(ctx, job.ID, model.JobPatch{Active: model.Ptr(true)})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = st.UpdateJob(ctx, job.ID, model.JobPatch{Message: model.Ptr("m"), Active: model.Ptr(true)})
	assert.ErrorIs(t, err, model.ErrValidation)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Nil(t, got.Message, "rejected patch must not be partially applied")

	_, err = st.UpdateJob(ctx, job.ID, model.JobPatch{IntervalMin: model.Ptr(0)})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestListDueActiveJobsAndCascadeDeactivate(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	activate := func(id int64) {
		_, err := st.UpdateJob(ctx, id, model.JobPatch{
			Message: model.Ptr("m"), IntervalMin: model.Ptr(1), Active: model.Ptr(true),
		})
		require.NoError(t, err)
	}

	_, a1 := seedJob(t, st, 1, "+1")
	ep, err := st.UpsertEndpoint(ctx, 1, "+2", "")
	require.NoError(t, err)
	a2, err := st.CreateJob(ctx, 1, ep.ID)
	require.NoError(t, err)
	_, b1 := seedJob(t, st, 2, "+3")
	_, idle := seedJob(t, st, 2, "+4")

	activate(a1.ID)
	activate(a2.ID)
	activate(b1.ID)

	due, err := st.ListDueActiveJobs(ctx)
	require.NoError(t, err)
	ids := []int64{}
	for _, j := range due {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []int64{a1.ID, a2.ID, b1.ID}, ids)
	assert.NotContains(t, ids, idle.ID)

	n, err := st.DeactivateActorJobs(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	due, err = st.ListDueActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, b1.ID, due[0].ID)
}

func TestListActorJobsSkipsUnconfigured(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	_, draft := seedJob(t, st, 7, "+7")
	_, ready := seedJob(t, st, 7, "+8")
	_, err := st.UpdateJob(ctx, ready.ID, model.JobPatch{Message: model.Ptr("m"), IntervalMin: model.Ptr(3)})
	require.NoError(t, err)

	jobs, err := st.ListActorJobs(ctx, 7)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, ready.ID, jobs[0].ID)
	assert.NotEqual(t, draft.ID, jobs[0].ID)
}

func TestCreateJobRequiresOwnEndpoint(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	ep, _ := seedJob(t, st, 1, "+1")
	_, err := st.FindOrCreateActor(ctx, 2)
	require.NoError(t, err)

	_, err = st.CreateJob(ctx, 2, ep.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = st.CreateJob(ctx, 1, 9999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
