package storage

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"castbot/internal/model"
	logx "castbot/pkg/logx"
)

// setupTestDB opens a named in-memory database private to the test.
func setupTestDB(t *testing.T) *SQLite {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)
	st, err := openDSN(dsn, 0, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedJob creates actor -> active endpoint -> empty job.
func seedJob(t *testing.T, st *SQLite, actorID int64, phone string) (model.Endpoint, model.Job) {
	t.Helper()
	ctx := context.Background()

	_, err := st.FindOrCreateActor(ctx, actorID)
	require.NoError(t, err)
	ep, err := st.UpsertEndpoint(ctx, actorID, phone, "hash")
	require.NoError(t, err)
	require.NoError(t, st.ActivateEndpoint(ctx, ep.ID))
	job, err := st.CreateJob(ctx, actorID, ep.ID)
	require.NoError(t, err)
	return ep, job
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
