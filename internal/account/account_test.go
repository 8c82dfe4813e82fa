package account

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/model"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	"castbot/internal/transport/telegram/router"
	"castbot/internal/transport/transporttest"
	logx "castbot/pkg/logx"
)

var fixedNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	st    *storage.SQLite
	guard *Guard
	svc   *Service
	rec   *transporttest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	g := NewGuard(st, time.UTC, []int64{1})
	g.SetClock(func() time.Time { return fixedNow })
	svc := NewService(st, g, logx.Nop())
	return &fixture{st: st, guard: g, svc: svc, rec: transporttest.NewRecorder()}
}

func (f *fixture) run(t *testing.T, h router.HandlerFunc, from int64, args ...string) error {
	t.Helper()
	req := &router.Request{
		Update: kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, FromUsername: "alice"}},
		Chat:   kit.ChatTarget{ChatID: from},
		FromID: from,
		Args:   args,
		Sender: f.rec,
	}
	return h(context.Background(), req)
}

func (f *fixture) lastText(t *testing.T) string {
	t.Helper()
	last, ok := f.rec.Last()
	require.True(t, ok, "nothing sent")
	return last.Text
}

func TestGuardRequire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	err := f.guard.Require(ctx, 7)
	require.ErrorIs(t, err, model.ErrAuthorization)
	assert.Equal(t, MsgTokenInvalid, model.UserMessage(err))

	// valid through the end of its expiry day
	today, err := f.st.CreateCredential(ctx, "today", fixedNow)
	require.NoError(t, err)
	require.NoError(t, f.st.BindCredential(ctx, 7, today.ID))
	require.NoError(t, f.guard.Require(ctx, 7))

	yesterday, err := f.st.CreateCredential(ctx, "yesterday", fixedNow.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.NoError(t, f.st.BindCredential(ctx, 7, yesterday.ID))
	require.ErrorIs(t, f.guard.Require(ctx, 7), model.ErrAuthorization)
}

func TestGuardCheckDoesNotCreateActor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.guard.Check(ctx, 77), model.ErrAuthorization)
	_, err := f.st.GetActor(ctx, 77)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.ErrorIs(t, f.guard.Require(ctx, 77), model.ErrAuthorization)
	_, err = f.st.GetActor(ctx, 77)
	require.NoError(t, err)

	cred, err := f.st.CreateCredential(ctx, "check", fixedNow)
	require.NoError(t, err)
	require.NoError(t, f.st.BindCredential(ctx, 77, cred.ID))
	require.NoError(t, f.guard.Check(ctx, 77))
}

func TestGuardIsAdminUnion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	ok, err := f.guard.IsAdmin(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok, "configured admin")

	ok, err = f.guard.IsAdmin(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok, "unknown actor")

	require.NoError(t, f.st.SetAdmin(ctx, 2, true))
	ok, err = f.guard.IsAdmin(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok, "store flag")

	f.guard.SetAdmins(nil)
	ok, err = f.guard.IsAdmin(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartGreets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.run(t, f.svc.handleStart, 42))
	assert.Equal(t, "Hello, @alice [<code>42</code>]", f.lastText(t))

	_, err := f.st.GetActor(context.Background(), 42)
	require.NoError(t, err)
}

var hex32 = regexp.MustCompile(`<code>([0-9a-f]{32})</code>`)

func TestTokenIssueAndActivate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	err := f.run(t, f.svc.handleToken, 1)
	require.ErrorIs(t, err, model.ErrValidation)
	err = f.run(t, f.svc.handleToken, 1, "many")
	require.ErrorIs(t, err, model.ErrValidation)

	require.NoError(t, f.run(t, f.svc.handleToken, 1, "30"))
	out := f.lastText(t)
	m := hex32.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	assert.Contains(t, out, "Valid until: <code>04.09.2026</code>")
	value := m[1]

	require.NoError(t, f.run(t, f.svc.handleListTokens, 1))
	assert.Contains(t, f.lastText(t), value)

	err = f.run(t, f.svc.handleActivate, 9, "bogus")
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, msgTokenRejected, model.UserMessage(err))

	require.NoError(t, f.run(t, f.svc.handleActivate, 9, value))
	assert.Contains(t, f.lastText(t), "Congratulations!")
	require.NoError(t, f.guard.Require(ctx, 9))
}

func TestActivateRejectsExpired(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.st.CreateCredential(context.Background(), "old", fixedNow.AddDate(0, 0, -2))
	require.NoError(t, err)

	err = f.run(t, f.svc.handleActivate, 9, "old")
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestListTokensEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.run(t, f.svc.handleListTokens, 1))
	assert.Equal(t, msgNoTokens, f.lastText(t))
}

func TestGrantAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.run(t, f.svc.handleGrantAdmin, 1, "x"), model.ErrValidation)
	require.NoError(t, f.run(t, f.svc.handleGrantAdmin, 1, "55"))

	ok, err := f.guard.IsAdmin(ctx, 55)
	require.NoError(t, err)
	assert.True(t, ok)
}

func activate(t *testing.T, f *fixture, actor int64) {
	t.Helper()
	ctx := context.Background()
	c, err := f.st.CreateCredential(ctx, "tok-"+time.Now().String(), fixedNow.AddDate(0, 0, 10))
	require.NoError(t, err)
	_, err = f.st.FindOrCreateActor(ctx, actor)
	require.NoError(t, err)
	require.NoError(t, f.st.BindCredential(ctx, actor, c.ID))
}

func TestAccountsAndRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	activate(t, f, 9)

	h := f.svc.requireToken(f.svc.handleAccounts)
	require.NoError(t, f.run(t, h, 9))
	assert.Equal(t, msgNoAccounts, f.lastText(t))

	ep, err := f.st.UpsertEndpoint(ctx, 9, "+15550001", "hash")
	require.NoError(t, err)
	require.NoError(t, f.st.ActivateEndpoint(ctx, ep.ID))
	_, err = f.st.CreateJob(ctx, 9, ep.ID)
	require.NoError(t, err)

	require.NoError(t, f.run(t, h, 9))
	assert.Contains(t, f.lastText(t), "+15550001")
	assert.Contains(t, f.lastText(t), "active")

	rm := f.svc.requireToken(f.svc.handleRemoveAccount)
	require.ErrorIs(t, f.run(t, rm, 9), model.ErrValidation)
	require.ErrorIs(t, f.run(t, rm, 9, "+1999"), model.ErrNotFound)
	require.NoError(t, f.run(t, rm, 9, "+15550001"))
	assert.Equal(t, "Account +15550001 removed. 1 task deleted.", f.lastText(t))

	jobs, err := f.st.ListActorJobs(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCommandsRequireToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	err := f.run(t, f.svc.requireToken(f.svc.handleStatus), 9)
	require.ErrorIs(t, err, model.ErrAuthorization)
	assert.Empty(t, f.rec.Calls())
}

func TestSetAPI(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	activate(t, f, 9)
	h := f.svc.requireToken(f.svc.handleSetAPI)

	require.ErrorIs(t, f.run(t, h, 9, "123"), model.ErrValidation)
	require.NoError(t, f.run(t, h, 9, "123", "abc"))
	a, err := f.st.GetActor(ctx, 9)
	require.NoError(t, err)
	assert.True(t, a.HasOverride())

	require.NoError(t, f.run(t, h, 9, "0"))
	a, err = f.st.GetActor(ctx, 9)
	require.NoError(t, err)
	assert.False(t, a.HasOverride())
	assert.Equal(t, msgOverrideCleared, f.lastText(t))
}

func TestStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	activate(t, f, 9)

	require.NoError(t, f.run(t, f.svc.requireToken(f.svc.handleStatus), 9))
	out := f.lastText(t)
	assert.Contains(t, out, "03.20.2026")
	assert.Contains(t, out, "from now")
	assert.True(t, strings.Contains(out, "0 active of 0"), out)
}

func TestCommandsRegistered(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	names := map[string]router.Access{}
	for _, c := range f.svc.Commands() {
		names[c.Name] = c.Access
	}
	assert.Equal(t, router.AccessAdmin, names["token"])
	assert.Equal(t, router.AccessAdmin, names["list_tokens"])
	assert.Equal(t, router.AccessAdmin, names["grant_admin"])
	assert.Equal(t, router.AccessEveryone, names["activate"])
	assert.Contains(t, names, "start")
}
