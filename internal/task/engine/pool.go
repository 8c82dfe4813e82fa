package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"castbot/internal/eventbus"
	rtsup "castbot/internal/runtime/supervisor"
	logx "castbot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Pool struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopping bool

	// pending counts accepted tasks that have not finished or been dropped.
	pending sync.WaitGroup

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight atomic.Int32
	skipped  atomic.Uint64
	dropped  atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	state      *RunState
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		states: make(map[string]*RunState),
	}
}

// Start launches the workers. It is idempotent.
func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	cfg := p.cfg
	p.q = make(chan queuedTask, cfg.QueueSize)
	p.stopCh = make(chan struct{})
	p.stopping = false
	p.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(p.log),
		rtsup.WithCancelOnError(false),
	)
	sup, stopCh, queue := p.sup, p.stopCh, p.q
	p.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			p.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	p.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop refuses new work, lets running tasks finish and drops whatever is
// still queued. If ctx expires first, running tasks are canceled.
func (p *Pool) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.stopCh == nil || p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	close(p.stopCh)
	sup, queue := p.sup, p.q
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = sup.Wait(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("task engine stop timed out; canceling running tasks", logx.Err(ctx.Err()))
		sup.Cancel()
		<-done
	}
	sup.Cancel()

	for {
		select {
		case qt := <-queue:
			qt.state.release()
			p.dropped.Add(1)
			p.pending.Done()
			continue
		default:
		}
		break
	}

	p.mu.Lock()
	p.q = nil
	p.stopCh = nil
	p.sup = nil
	p.stopping = false
	p.mu.Unlock()
	p.log.Info("task engine stopped")
}

// TryGo submits fn under key without blocking. It returns ErrOverlapSkip when
// key is still queued or running.
func (p *Pool) TryGo(key string, fn func(ctx context.Context) error) error {
	return p.Enqueue(Task{Key: key, Run: fn})
}

// Enqueue submits t without blocking.
func (p *Pool) Enqueue(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Key = strings.TrimSpace(t.Key)
	if t.Key == "" {
		return fmt.Errorf("task Key is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		t.Name = t.Key
	}

	now := time.Now()
	st := p.stateFor(t.Key)

	// The send happens under mu so Stop's drain cannot miss a task.
	p.mu.Lock()
	q, cfg := p.q, p.cfg
	if q == nil || p.stopping {
		p.mu.Unlock()
		return ErrStopped
	}
	if !st.tryAcquire() {
		p.mu.Unlock()
		p.skipped.Add(1)
		p.publish(eventbus.TaskSkipped, TaskEvent{Key: t.Key, Name: t.Name, Error: "overlap"})
		p.log.Debug("task skipped due to overlap", logx.String("task", t.Name))
		return ErrOverlapSkip
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	p.pending.Add(1)
	select {
	case q <- queuedTask{task: t, enqueuedAt: now, timeout: timeout, state: st}:
		p.mu.Unlock()
		return nil
	default:
		p.pending.Done()
		st.release()
		p.mu.Unlock()
	}

	p.dropped.Add(1)
	p.publish(eventbus.TaskDropped, TaskEvent{Key: t.Key, Name: t.Name, Error: "queue_full"})
	if p.shouldWarn(now) {
		p.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(q)))
	}
	return ErrQueueFull
}

// Busy reports whether key is queued or running.
func (p *Pool) Busy(key string) bool {
	p.stateMu.Lock()
	st := p.states[key]
	p.stateMu.Unlock()
	return st != nil && st.busy()
}

// Wait blocks until every accepted task has finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	cfg, q := p.cfg, p.q
	p.mu.Unlock()

	s := Snapshot{
		Running:  q != nil,
		Workers:  cfg.Workers,
		InFlight: int(p.inFlight.Load()),
		Skipped:  p.skipped.Load(),
		Dropped:  p.dropped.Load(),
	}
	if q != nil {
		s.QueueLen, s.QueueCap = len(q), cap(q)
	}
	p.hmu.Lock()
	s.History = append([]HistoryItem(nil), p.history...)
	p.hmu.Unlock()
	return s
}

func (p *Pool) stateFor(key string) *RunState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	st := p.states[key]
	if st == nil {
		st = &RunState{}
		p.states[key] = st
	}
	return st
}

func (p *Pool) publish(typ string, ev TaskEvent) {
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

func (p *Pool) shouldWarn(now time.Time) bool {
	prev := p.lastQueueFullWarnAt.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return p.lastQueueFullWarnAt.CompareAndSwap(prev, n)
}

func (p *Pool) record(item HistoryItem) {
	p.hmu.Lock()
	p.history = append(p.history, item)
	if n := p.cfg.HistorySize; len(p.history) > n {
		p.history = p.history[len(p.history)-n:]
	}
	p.hmu.Unlock()
}
