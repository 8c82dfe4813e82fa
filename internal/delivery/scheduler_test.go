package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/gateway"
	"castbot/internal/model"
	"castbot/internal/storage"
	"castbot/internal/task/engine"
	logx "castbot/pkg/logx"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu      sync.Mutex
	opened  int
	closed  int
	sends   []int64
	texts   []string
	failOn  map[int64]bool
	openErr error
	block   chan struct{}
}

func (f *fakeGateway) AccountFor(a model.Actor, phone string) gateway.Account {
	return gateway.Account{Phone: phone, APIID: a.APIID, APIHash: a.APIHash}
}

func (f *fakeGateway) Open(ctx context.Context, acc gateway.Account) (gateway.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return &fakeConn{f: f}, nil
}

func (f *fakeGateway) snapshot() (opened, closed int, sends []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.closed, append([]int64(nil), f.sends...)
}

type fakeConn struct{ f *fakeGateway }

func (c *fakeConn) ListCandidates(context.Context) ([]model.Candidate, error) { return nil, nil }

func (c *fakeConn) Send(ctx context.Context, targetID int64, text string) error {
	if c.f.block != nil {
		<-c.f.block
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.sends = append(c.f.sends, targetID)
	c.f.texts = append(c.f.texts, text)
	if c.f.failOn[targetID] {
		return model.Transport("fake.send", errors.New("flood wait"))
	}
	return nil
}

func (c *fakeConn) Close(context.Context) error {
	c.f.mu.Lock()
	c.f.closed++
	c.f.mu.Unlock()
	return nil
}

type notice struct {
	actorID int64
	text    string
}

type recordingSink struct {
	mu       sync.Mutex
	owner    []notice
	operator []string
}

func (r *recordingSink) NotifyOwner(_ context.Context, actorID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = append(r.owner, notice{actorID, text})
	return nil
}

func (r *recordingSink) NotifyOperator(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operator = append(r.operator, text)
	return nil
}

func (r *recordingSink) get() ([]notice, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notice(nil), r.owner...), append([]string(nil), r.operator...)
}

// snapshotStore serves a fixed job list, like a tick that listed jobs
// before earlier runs or user edits were written.
type snapshotStore struct {
	*storage.SQLite
	jobs []model.Job
}

func (s *snapshotStore) ListDueActiveJobs(context.Context) ([]model.Job, error) {
	return append([]model.Job(nil), s.jobs...), nil
}

type harness struct {
	st   *storage.SQLite
	gw   *fakeGateway
	sink *recordingSink
	pool *engine.Pool
	s    *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pool := engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	pool.Start(context.Background())
	t.Cleanup(func() { pool.Stop(context.Background()) })

	h := &harness{st: st, gw: &fakeGateway{failOn: map[int64]bool{}}, sink: &recordingSink{}, pool: pool}
	h.s = New(Config{Location: time.UTC}, st, h.gw, h.sink, pool, nil, logx.Nop())
	h.s.SetClock(func() time.Time { return t0 })
	return h
}

// actor seeds an actor whose credential is valid until validUntil.
func (h *harness) actor(t *testing.T, id int64, validUntil time.Time) {
	t.Helper()
	ctx := context.Background()
	_, err := h.st.FindOrCreateActor(ctx, id)
	require.NoError(t, err)
	cred, err := h.st.CreateCredential(ctx, "tok-"+validUntil.Format("20060102")+"-"+string(rune('a'+id%26)), validUntil)
	require.NoError(t, err)
	require.NoError(t, h.st.BindCredential(ctx, id, cred.ID))
}

// job seeds an active configured job with the given destinations.
func (h *harness) job(t *testing.T, actorID int64, phone string, interval int, lastRun *time.Time, dests ...int64) model.Job {
	t.Helper()
	ctx := context.Background()
	ep, err := h.st.UpsertEndpoint(ctx, actorID, phone, "hash")
	require.NoError(t, err)
	require.NoError(t, h.st.ActivateEndpoint(ctx, ep.ID))
	job, err := h.st.CreateJob(ctx, actorID, ep.ID)
	require.NoError(t, err)
	for _, d := range dests {
		require.NoError(t, h.st.AddDestination(ctx, job.ID, model.Candidate{ID: d, Title: "g"}))
	}
	job, err = h.st.UpdateJob(ctx, job.ID, model.JobPatch{
		Message:     model.Ptr("hello"),
		IntervalMin: model.Ptr(interval),
		Active:      model.Ptr(true),
		LastRunAt:   lastRun,
	})
	require.NoError(t, err)
	return job
}

func (h *harness) tick(t *testing.T, now time.Time) {
	t.Helper()
	require.NoError(t, h.s.Tick(context.Background(), now))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.pool.Wait(ctx))
}

func TestDueBoundary(t *testing.T) {
	t.Parallel()

	last := t0
	job := model.Job{IntervalMin: model.Ptr(10), LastRunAt: &last}
	assert.True(t, Due(job, t0.Add(10*time.Minute)))
	assert.False(t, Due(job, t0.Add(9*time.Minute+59*time.Second)))
	assert.True(t, Due(model.Job{IntervalMin: model.Ptr(10)}, t0))
	assert.False(t, Due(job, t0.Add(-time.Hour)))
}

func TestFirstTickDispatchesNeverRunJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	job := h.job(t, 1, "+15550001", 10, nil, 11, 22, 33)

	h.tick(t, t0)

	opened, closed, sends := h.gw.snapshot()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []int64{11, 22, 33}, sends)

	got, err := h.st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(t0))

	owner, operator := h.sink.get()
	assert.Empty(t, owner)
	assert.Equal(t, []string{"User [1] task completed. Message sent to 3 groups."}, operator)
}

func TestDueBoundaryThroughTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	last := t0.Add(-9*time.Minute - 59*time.Second)
	h.job(t, 1, "+15550001", 10, &last, 11)

	h.tick(t, t0)
	_, _, sends := h.gw.snapshot()
	assert.Empty(t, sends)

	h.tick(t, t0.Add(time.Second))
	_, _, sends = h.gw.snapshot()
	assert.Equal(t, []int64{11}, sends)
}

func TestExpiredCredentialCascade(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.actor(t, 1, t0.AddDate(0, 0, -1))
	a := h.job(t, 1, "+15550001", 5, nil, 11)
	b := h.job(t, 1, "+15550002", 5, nil, 12)
	h.actor(t, 2, t0)
	other := h.job(t, 2, "+15550003", 5, nil, 13)

	h.tick(t, t0)

	for _, id := range []int64{a.ID, b.ID} {
		j, err := h.st.GetJob(ctx, id)
		require.NoError(t, err)
		assert.False(t, j.Active, "job %d", id)
	}
	j, err := h.st.GetJob(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, j.Active, "credential valid through its expiry day")

	owner, operator := h.sink.get()
	assert.Equal(t, []notice{{1, MsgCredentialExpired}}, owner)
	assert.Contains(t, operator, "User [1] token is out of date. 2 tasks deactivated.")
	_, _, sends := h.gw.snapshot()
	assert.Equal(t, []int64{13}, sends)
}

func TestActorWithoutCredentialIsDeactivated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.st.FindOrCreateActor(ctx, 9)
	require.NoError(t, err)
	job := h.job(t, 9, "+15550009", 5, nil, 1)

	h.tick(t, t0)
	j, err := h.st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, j.Active)
}

func TestPartialFailureStopsAndDeactivates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	h.gw.failOn[22] = true
	job := h.job(t, 1, "+15550001", 10, nil, 11, 22, 33)

	h.tick(t, t0)

	_, closed, sends := h.gw.snapshot()
	assert.Equal(t, []int64{11, 22}, sends)
	assert.Equal(t, 1, closed)

	got, err := h.st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(t0))

	owner, operator := h.sink.get()
	assert.Equal(t, []notice{{1, "Seems like account +15550001 is broken. Please remove it and add again."}}, owner)
	assert.Empty(t, operator)
}

func TestPartialFailureLeavesOtherJobsRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	h.gw.failOn[22] = true
	broken := h.job(t, 1, "+15550001", 10, nil, 11, 22, 33)
	h.actor(t, 2, t0.AddDate(0, 0, 30))
	healthy := h.job(t, 2, "+15550002", 10, nil, 44)

	h.tick(t, t0)

	_, closed, sends := h.gw.snapshot()
	assert.Equal(t, 2, closed)
	assert.Contains(t, sends, int64(44))
	assert.NotContains(t, sends, int64(33))

	got, err := h.st.GetJob(ctx, broken.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	got, err = h.st.GetJob(ctx, healthy.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(t0))

	owner, operator := h.sink.get()
	assert.Equal(t, []notice{{1, "Seems like account +15550001 is broken. Please remove it and add again."}}, owner)
	assert.Equal(t, []string{"User [2] task completed. Message sent to 1 groups."}, operator)
}

func TestStaleListDoesNotResendJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	job := h.job(t, 1, "+15550001", 10, nil, 11)

	stale := &snapshotStore{SQLite: h.st, jobs: []model.Job{job}}
	h.s.store = stale

	h.tick(t, t0)
	h.tick(t, t0.Add(time.Second))
	_, _, sends := h.gw.snapshot()
	assert.Equal(t, []int64{11}, sends)

	_, err := h.st.UpdateJob(ctx, job.ID, model.JobPatch{Active: model.Ptr(false)})
	require.NoError(t, err)
	h.tick(t, t0.Add(20*time.Minute))
	_, _, sends = h.gw.snapshot()
	assert.Equal(t, []int64{11}, sends, "stopped job must not run from an old list")
}

func TestRunUsesCurrentMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	job := h.job(t, 1, "+15550001", 10, nil, 11)
	h.s.store = &snapshotStore{SQLite: h.st, jobs: []model.Job{job}}

	_, err := h.st.UpdateJob(ctx, job.ID, model.JobPatch{Message: model.Ptr("edited\n")})
	require.NoError(t, err)
	h.tick(t, t0)

	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	assert.Equal(t, []string{"edited\n"}, h.gw.texts)
}

func TestDeletedJobIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	job := h.job(t, 1, "+15550001", 10, nil, 11)
	h.s.store = &snapshotStore{SQLite: h.st, jobs: []model.Job{job}}

	require.NoError(t, h.st.DeleteJob(ctx, job.ID))
	h.tick(t, t0)
	opened, _, _ := h.gw.snapshot()
	assert.Zero(t, opened)
}

func TestOpenFailureDeactivates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	h.gw.openErr = model.Transport("fake.open", errors.New("auth key unregistered"))
	job := h.job(t, 1, "+15550001", 10, nil, 11)

	h.tick(t, t0)
	got, err := h.st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	owner, _ := h.sink.get()
	assert.Len(t, owner, 1)
}

func TestInFlightJobIsNotDispatchedTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.actor(t, 1, t0.AddDate(0, 0, 30))
	h.gw.block = make(chan struct{})
	h.job(t, 1, "+15550001", 1, nil, 11)

	ctx := context.Background()
	require.NoError(t, h.s.Tick(ctx, t0))
	require.Eventually(t, func() bool { return h.pool.Busy("job:1") }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.s.Tick(ctx, t0.Add(time.Second)))
	assert.Equal(t, uint64(1), h.pool.Snapshot().Skipped)

	close(h.gw.block)
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.pool.Wait(wctx))
	opened, _, _ := h.gw.snapshot()
	assert.Equal(t, 1, opened)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.s.cfg.Tick = 10 * time.Millisecond
	require.NoError(t, h.s.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.s.Stop(ctx)
	h.s.Stop(ctx)
}
