package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/model"
)

func TestFindOrCreateActorIsStable(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	a, err := st.FindOrCreateActor(ctx, 42)
	require.NoError(t, err)
	b, err := st.FindOrCreateActor(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.CreatedAt, b.CreatedAt)
	assert.False(t, a.IsAdmin)

	_, err = st.GetActor(ctx, 43)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCredentialBinding(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	_, err := st.FindOrCreateActor(ctx, 1)
	require.NoError(t, err)

	_, ok, err := st.ActorCredential(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	c1, err := st.CreateCredential(ctx, "aaa", day(2030, 1, 1))
	require.NoError(t, err)
	c2, err := st.CreateCredential(ctx, "bbb", day(2031, 6, 1))
	require.NoError(t, err)

	require.NoError(t, st.BindCredential(ctx, 1, c1.ID))
	require.NoError(t, st.BindCredential(ctx, 1, c2.ID))

	got, ok, err := st.ActorCredential(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bbb", got.Value)
	assert.Equal(t, day(2031, 6, 1), got.ValidUntil)

	// Rebinding keeps the old credential row.
	old, err := st.GetCredentialByValue(ctx, "aaa")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, old.ID)

	assert.ErrorIs(t, st.BindCredential(ctx, 999, c1.ID), model.ErrNotFound)
}

func TestListValidCredentials(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	for v, d := range map[string]int{"past": 1, "today": 10, "future": 20} {
		_, err := st.CreateCredential(ctx, v, day(2025, 5, d))
		require.NoError(t, err)
	}

	got, err := st.ListValidCredentials(ctx, day(2025, 5, 10))
	require.NoError(t, err)
	var values []string
	for _, c := range got {
		values = append(values, c.Value)
	}
	assert.Equal(t, []string{"today", "future"}, values)
}

func TestAdminsAndOverride(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, st.SetAdmin(ctx, 5, true))
	admins, err := st.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.EqualValues(t, 5, admins[0].ID)

	require.NoError(t, st.SetActorOverride(ctx, 5, 1234, "hash"))
	a, err := st.GetActor(ctx, 5)
	require.NoError(t, err)
	assert.True(t, a.HasOverride())

	require.NoError(t, st.SetActorOverride(ctx, 5, 0, "ignored"))
	a, err = st.GetActor(ctx, 5)
	require.NoError(t, err)
	assert.False(t, a.HasOverride())
}
