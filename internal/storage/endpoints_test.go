package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/model"
)

func TestEndpointUpsertAndActivate(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()
	_, err := st.FindOrCreateActor(ctx, 1)
	require.NoError(t, err)

	ep, err := st.UpsertEndpoint(ctx, 1, " +100 ", "h1")
	require.NoError(t, err)
	assert.Equal(t, "+100", ep.Phone)
	assert.False(t, ep.Active)

	require.NoError(t, st.ActivateEndpoint(ctx, ep.ID))
	active, err := st.ListActiveEndpoints(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Same (actor, phone): same row, fresh hash, back to inactive.
	again, err := st.UpsertEndpoint(ctx, 1, "+100", "h2")
	require.NoError(t, err)
	assert.Equal(t, ep.ID, again.ID)
	assert.Equal(t, "h2", again.CodeHash)
	assert.False(t, again.Active)

	active, err = st.ListActiveEndpoints(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = st.UpsertEndpoint(ctx, 1, "  ", "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDeleteEndpointCascadesJobs(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	ep, job := seedJob(t, st, 1, "+1")
	require.NoError(t, st.AddDestination(ctx, job.ID, model.Candidate{ID: 5, Title: "G"}))
	_, other := seedJob(t, st, 1, "+2")

	_, err := st.DeleteEndpoint(ctx, 2, ep.ID)
	assert.ErrorIs(t, err, model.ErrNotFound, "only the owner may delete")

	n, err := st.DeleteEndpoint(ctx, 1, ep.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = st.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	ds, err := st.ListDestinations(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, ds)

	_, err = st.GetJob(ctx, other.ID)
	assert.NoError(t, err)
}

func TestAuditAndDedup(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, st.AppendAudit(ctx, model.AuditEntry{ActorID: 1, Action: "credential.issue", Target: "abc"}))
	require.NoError(t, st.AppendAudit(ctx, model.AuditEntry{ActorID: 1, Action: "credential.bind", Target: "abc", Detail: "ok"}))
	entries, err := st.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "credential.bind", entries[0].Action)

	until := time.UnixMilli(time.Now().Add(time.Minute).UnixMilli())
	require.NoError(t, st.PutDedup(ctx, "k", until))
	got, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, until.Equal(got))

	_, ok, err = st.GetDedup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
