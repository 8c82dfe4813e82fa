// Package eventbus is an in-process fanout of lifecycle events (job runs,
// deactivations, notification delivery) to observers such as the audit
// recorder and metrics.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by castbot components.
const (
	JobCompleted     = "delivery.job.completed"
	JobFailed        = "delivery.job.failed"
	JobSkipped       = "delivery.job.skipped"
	ActorDeactivated = "delivery.actor.deactivated"

	NotifyQueued  = "notifier.queued"
	NotifySent    = "notifier.sent"
	NotifyFailed  = "notifier.failed"
	NotifyDropped = "notifier.dropped"

	TaskSkipped = "task.skipped"
	TaskDropped = "task.dropped"
	TaskFailed  = "task.failed"
)

// Event is a small signal. Data should stay small and JSON-friendly.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobRun is the Data of the delivery.* job events.
type JobRun struct {
	JobID   int64  `json:"job_id"`
	ActorID int64  `json:"actor_id"`
	Sent    int    `json:"sent"`
	Total   int    `json:"total"`
	Reason  string `json:"reason,omitempty"`
}

// Bus publishes without blocking; slow subscribers lose events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends never block, so holding the read lock keeps unsubscribe from
	// closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.dropped.Load()
	}
	return 0
}
