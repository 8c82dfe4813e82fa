package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"castbot/internal/eventbus"
	logx "castbot/pkg/logx"
)

func (p *Pool) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			p.inFlight.Add(1)
			p.execOne(ctx, qt)
			p.inFlight.Add(-1)
		}
	}
}

func (p *Pool) execOne(ctx context.Context, qt queuedTask) {
	defer p.pending.Done()
	defer qt.state.release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				p.log.Error("task panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = qt.task.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{Key: qt.task.Key, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		p.log.Warn("task failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur))
		p.publish(eventbus.TaskFailed, TaskEvent{Key: qt.task.Key, Name: qt.task.Name, QueueDelay: queueDelay, Duration: dur, Error: item.Error})
	} else {
		p.log.Debug("task completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	}
	p.record(item)
}
