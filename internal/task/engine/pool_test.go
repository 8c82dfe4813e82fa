package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/eventbus"
	logx "castbot/pkg/logx"
)

func startPool(t *testing.T, cfg Config, bus eventbus.Bus) *Pool {
	t.Helper()
	p := New(cfg, logx.Nop(), bus)
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

func waitIdle(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestTryGoSkipsWhileKeyInFlight(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	p := startPool(t, Config{Workers: 2}, bus)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.TryGo("job:1", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.True(t, p.Busy("job:1"))
	assert.ErrorIs(t, p.TryGo("job:1", func(context.Context) error { return nil }), ErrOverlapSkip)

	var other atomic.Bool
	require.NoError(t, p.TryGo("job:2", func(context.Context) error {
		other.Store(true)
		return nil
	}))

	close(release)
	waitIdle(t, p)

	assert.True(t, other.Load())
	assert.False(t, p.Busy("job:1"))
	assert.Equal(t, uint64(1), p.Snapshot().Skipped)

	ev := <-events
	assert.Equal(t, eventbus.TaskSkipped, ev.Type)

	// the slot is free again
	require.NoError(t, p.TryGo("job:1", func(context.Context) error { return nil }))
	waitIdle(t, p)
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	t.Parallel()

	p := startPool(t, Config{Workers: 1}, nil)
	require.NoError(t, p.TryGo("boom", func(context.Context) error { panic("kaboom") }))
	require.NoError(t, p.TryGo("after", func(context.Context) error { return errors.New("plain") }))
	waitIdle(t, p)

	h := p.Snapshot().History
	require.Len(t, h, 2)
	assert.Contains(t, h[0].Error, "kaboom")
	assert.Equal(t, "plain", h[1].Error)
}

func TestTimeoutCancelsTaskContext(t *testing.T) {
	t.Parallel()

	p := startPool(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	var gotErr atomic.Value
	require.NoError(t, p.TryGo("slow", func(ctx context.Context) error {
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	}))
	waitIdle(t, p)
	assert.ErrorIs(t, gotErr.Load().(error), context.DeadlineExceeded)
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1}, logx.Nop(), nil)
	assert.ErrorIs(t, p.TryGo("x", func(context.Context) error { return nil }), ErrStopped)

	p.Start(context.Background())
	p.Stop(context.Background())
	assert.ErrorIs(t, p.TryGo("x", func(context.Context) error { return nil }), ErrStopped)
	assert.False(t, p.Snapshot().Running)
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	p := startPool(t, Config{Workers: 1, QueueSize: 1}, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.TryGo("a", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.TryGo("b", func(context.Context) error { return nil }))
	assert.ErrorIs(t, p.TryGo("c", func(context.Context) error { return nil }), ErrQueueFull)
	assert.False(t, p.Busy("c"))

	close(release)
	waitIdle(t, p)
	assert.Equal(t, uint64(1), p.Snapshot().Dropped)
}
