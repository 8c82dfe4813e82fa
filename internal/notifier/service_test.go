package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/eventbus"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	failures int
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return kit.MessageRef{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, sent{chatID: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeSender) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func run(t *testing.T, cfg Config, snd *fakeSender, bus eventbus.Bus, store DedupStore) *Service {
	t.Helper()
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	s := New(cfg, snd, logx.Nop(), bus, store)
	s.Start(context.Background())
	return s
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestOwnerAndOperatorNotices(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	s := run(t, Config{OperatorChatID: -500}, snd, nil, nil)
	ctx := context.Background()

	require.NoError(t, s.NotifyOwner(ctx, 42, "Task is broken"))
	require.NoError(t, s.NotifyOperator(ctx, "User [42] task completed. Message sent to 3 groups."))
	stop(t, s)

	got := snd.all()
	assert.ElementsMatch(t, []sent{
		{chatID: 42, text: "Task is broken"},
		{chatID: -500, text: "User [42] task completed. Message sent to 3 groups."},
	}, got)
	assert.Len(t, s.Snapshot(), 2)
}

func TestOperatorWithoutChatOnlyLogs(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	s := run(t, Config{}, snd, nil, nil)
	require.NoError(t, s.NotifyOperator(context.Background(), "hello"))
	stop(t, s)
	assert.Empty(t, snd.all())
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	snd := &fakeSender{failures: 2}
	s := run(t, Config{RetryMax: 2, Workers: 1}, snd, bus, nil)
	require.NoError(t, s.NotifyOwner(context.Background(), 7, "x"))
	stop(t, s)

	assert.Equal(t, []sent{{chatID: 7, text: "x"}}, snd.all())
	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{eventbus.NotifyQueued, eventbus.NotifySent}, types)
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	snd := &fakeSender{failures: 5}
	s := run(t, Config{RetryMax: 1, Workers: 1}, snd, bus, nil)
	require.NoError(t, s.NotifyOwner(context.Background(), 7, "x"))
	stop(t, s)

	assert.Empty(t, snd.all())
	assert.Equal(t, 3, snd.failures)
	var last eventbus.Event
	for len(events) > 0 {
		last = <-events
	}
	assert.Equal(t, eventbus.NotifyFailed, last.Type)
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (m *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = until
	return nil
}

func (m *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.m[key]
	return u, ok, nil
}

func TestDedupWindowSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := &memDedup{m: map[string]time.Time{}}
	snd := &fakeSender{}
	cfg := Config{DedupWindow: time.Hour, PersistDedup: true}
	ctx := context.Background()

	s := run(t, cfg, snd, nil, store)
	require.NoError(t, s.NotifyOwner(ctx, 1, "same"))
	require.NoError(t, s.NotifyOwner(ctx, 1, "same"))
	require.NoError(t, s.NotifyOwner(ctx, 2, "same"))
	stop(t, s)
	assert.Len(t, snd.all(), 2)

	// a fresh service only has the persisted window
	s2 := run(t, cfg, snd, nil, store)
	require.NoError(t, s2.NotifyOwner(ctx, 1, "same"))
	stop(t, s2)
	assert.Len(t, snd.all(), 2)
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()

	s := run(t, Config{}, &fakeSender{}, nil, nil)
	stop(t, s)
	assert.ErrorIs(t, s.NotifyOwner(context.Background(), 1, "x"), ErrStopped)
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	s := New(Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}, nil, logx.Nop(), nil, nil)
	rng := newRand()
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(s.cfg, attempt, rng)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}
