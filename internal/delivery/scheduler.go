// Package delivery runs active jobs on their interval.
//
// A cron entry ticks every second (SkipIfStillRunning, so ticks never stack).
// Each tick reads the active jobs, gates them on the owner's credential and
// hands due jobs to the task engine, which keeps at most one run per job in
// flight. A run opens a gateway session, sends the message to every
// destination in insertion order and stops at the first failure.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/internal/eventbus"
	"castbot/internal/gateway"
	"castbot/internal/model"
	"castbot/internal/notifier"
	"castbot/internal/observability"
	"castbot/internal/task/engine"
	logx "castbot/pkg/logx"
)

// User-facing notices.
const (
	MsgCredentialExpired = "Seems like your token is out of date. All tasks are deactivated."
	msgAccountBroken     = "Seems like account %s is broken. Please remove it and add again."
	msgAccountGone       = "The account of one of your tasks no longer exists. The task is deactivated."
	msgCompleted         = "User [%d] task completed. Message sent to %d groups."
	msgOperatorExpired   = "User [%d] token is out of date. %d tasks deactivated."
)

// Store is the persistence the scheduler needs.
type Store interface {
	ListDueActiveJobs(ctx context.Context) ([]model.Job, error)
	GetJob(ctx context.Context, id int64) (model.Job, error)
	ActorCredential(ctx context.Context, actorID int64) (model.Credential, bool, error)
	DeactivateActorJobs(ctx context.Context, actorID int64) (int64, error)
	GetActor(ctx context.Context, id int64) (model.Actor, error)
	GetEndpoint(ctx context.Context, id int64) (model.Endpoint, error)
	ListDestinations(ctx context.Context, jobID int64) ([]model.Destination, error)
	UpdateJob(ctx context.Context, id int64, p model.JobPatch) (model.Job, error)
	AppendAudit(ctx context.Context, e model.AuditEntry) error
}

// Transport opens gateway sessions.
type Transport interface {
	AccountFor(actor model.Actor, phone string) gateway.Account
	Open(ctx context.Context, acc gateway.Account) (gateway.Conn, error)
}

type Config struct {
	Tick       time.Duration
	JobTimeout time.Duration
	// Location decides calendar days for credential expiry.
	Location *time.Location
}

type Scheduler struct {
	cfg   Config
	store Store
	gw    Transport
	sink  notifier.Sink
	pool  *engine.Pool
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, store Store, gw Transport, sink notifier.Sink, pool *engine.Pool, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg, store: store, gw: gw, sink: sink, pool: pool, bus: bus, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start registers the tick and starts the cron. ctx bounds every tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := "@every " + s.cfg.Tick.String()
	if _, err := c.AddFunc(spec, func() {
		if err := s.Tick(ctx, s.now()); err != nil {
			s.log.Warn("tick failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("delivery: schedule tick: %w", err)
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick))
	return nil
}

// Stop stops ticking and waits for the running tick and job runs.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if err := s.pool.Wait(ctx); err != nil {
		s.log.Warn("job runs still in flight at stop", logx.Err(err))
	}
	s.log.Info("scheduler stopped")
}

// Due reports whether job should run at now: never run, or at least
// IntervalMin whole minutes since the last run.
func Due(job model.Job, now time.Time) bool {
	if job.LastRunAt == nil {
		return true
	}
	elapsed := int(now.Sub(*job.LastRunAt) / time.Minute)
	return elapsed >= job.Interval()
}

func jobKey(id int64) string { return "job:" + strconv.FormatInt(id, 10) }

// Tick evaluates every active job once. A store failure while listing
// aborts this tick only; per-job failures never affect later jobs.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	jobs, err := s.store.ListDueActiveJobs(ctx)
	if err != nil {
		observability.Ticks.WithLabelValues("store_error").Inc()
		return fmt.Errorf("list active jobs: %w", err)
	}
	observability.Ticks.WithLabelValues("ok").Inc()

	expired := map[int64]bool{}
	valid := map[int64]bool{}
	for _, job := range jobs {
		if expired[job.ActorID] {
			continue
		}
		if !valid[job.ActorID] {
			ok, err := s.credentialValid(ctx, job.ActorID, now)
			if err != nil {
				s.log.Error("credential lookup failed", logx.Int64("actor_id", job.ActorID), logx.Err(err))
				continue
			}
			if !ok {
				expired[job.ActorID] = true
				s.deactivateActor(ctx, job.ActorID, now)
				continue
			}
			valid[job.ActorID] = true
		}

		if !job.Configured() || !Due(job, now) {
			continue
		}
		s.dispatch(job, now)
	}
	return nil
}

func (s *Scheduler) dispatch(job model.Job, now time.Time) {
	err := s.pool.Enqueue(engine.Task{
		Key:     jobKey(job.ID),
		Timeout: s.cfg.JobTimeout,
		Run:     func(ctx context.Context) error { return s.perform(ctx, job.ID, now) },
	})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		observability.JobRuns.WithLabelValues("skipped").Inc()
		s.publish(eventbus.JobSkipped, eventbus.JobRun{JobID: job.ID, ActorID: job.ActorID, Reason: "in_flight"})
		s.log.Debug("job still running; skipped", logx.Int64("job_id", job.ID))
	default:
		observability.JobRuns.WithLabelValues("dropped").Inc()
		s.log.Warn("job dispatch failed", logx.Int64("job_id", job.ID), logx.Err(err))
	}
}

func (s *Scheduler) credentialValid(ctx context.Context, actorID int64, now time.Time) (bool, error) {
	cred, ok, err := s.store.ActorCredential(ctx, actorID)
	if err != nil || !ok {
		return false, err
	}
	return cred.ValidOn(now.In(s.cfg.Location)), nil
}

func (s *Scheduler) deactivateActor(ctx context.Context, actorID int64, now time.Time) {
	n, err := s.store.DeactivateActorJobs(ctx, actorID)
	if err != nil {
		s.log.Error("deactivate jobs failed", logx.Int64("actor_id", actorID), logx.Err(err))
		return
	}
	observability.Deactivations.Inc()
	s.publish(eventbus.ActorDeactivated, eventbus.JobRun{ActorID: actorID, Total: int(n), Reason: "credential_expired"})
	s.log.Info("credential expired; jobs deactivated", logx.Int64("actor_id", actorID), logx.Int64("jobs", n))

	if err := s.store.AppendAudit(ctx, model.AuditEntry{
		At: now, ActorID: actorID, Action: "jobs.deactivated", Detail: fmt.Sprintf("credential expired, %d jobs", n),
	}); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
	s.notifyOwner(ctx, actorID, MsgCredentialExpired)
	s.notifyOperator(ctx, fmt.Sprintf(msgOperatorExpired, actorID, n))
}

// PerformJob runs one job if it is still active, configured and due now.
func (s *Scheduler) PerformJob(ctx context.Context, job model.Job) error {
	return s.perform(ctx, job.ID, s.now())
}

// perform re-reads the job before running it. The tick's list may predate
// the previous run's bookkeeping, a STOP, a cascade or an edit.
func (s *Scheduler) perform(ctx context.Context, jobID int64, now time.Time) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			observability.JobRuns.WithLabelValues("stale").Inc()
			return nil
		}
		return err
	}
	if !job.Active || !job.Configured() || !Due(job, now) {
		observability.JobRuns.WithLabelValues("stale").Inc()
		s.log.Debug("job no longer due; skipped", logx.Int64("job_id", jobID), logx.Bool("active", job.Active))
		return nil
	}
	return s.run(ctx, job)
}

// run connects, sends to each destination in order, stops at the first
// failure, records the run time and disconnects. It never retries.
func (s *Scheduler) run(ctx context.Context, job model.Job) error {
	start := time.Now()
	log := s.log.With(logx.Int64("job_id", job.ID), logx.Int64("actor_id", job.ActorID))
	// Bookkeeping must land even if the run's deadline has passed.
	bg := context.WithoutCancel(ctx)

	ep, err := s.store.GetEndpoint(ctx, job.EndpointID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.finish(bg, job, false)
			s.notifyOwner(bg, job.ActorID, msgAccountGone)
			s.publish(eventbus.JobFailed, eventbus.JobRun{JobID: job.ID, ActorID: job.ActorID, Reason: "endpoint_missing"})
			observability.JobRuns.WithLabelValues("failed").Inc()
		}
		return err
	}
	actor, err := s.store.GetActor(ctx, job.ActorID)
	if err != nil {
		return err
	}

	conn, err := s.gw.Open(ctx, s.gw.AccountFor(actor, ep.Phone))
	if err != nil {
		s.fail(bg, log, job, ep, 0, 0, err)
		return err
	}
	defer func() {
		if err := conn.Close(bg); err != nil {
			log.Warn("session close failed", logx.Err(err))
		}
	}()

	dests, err := s.store.ListDestinations(ctx, job.ID)
	if err != nil {
		s.finish(bg, job, true)
		return err
	}

	sent := 0
	for _, d := range dests {
		if err := conn.Send(ctx, d.ExternalID, job.Text()); err != nil {
			observability.Sends.WithLabelValues("error").Inc()
			s.fail(bg, log, job, ep, sent, len(dests), fmt.Errorf("send to %d: %w", d.ExternalID, err))
			return err
		}
		observability.Sends.WithLabelValues("ok").Inc()
		sent++
	}

	s.finish(bg, job, true)
	observability.JobRuns.WithLabelValues("ok").Inc()
	observability.JobDuration.Observe(time.Since(start).Seconds())
	s.publish(eventbus.JobCompleted, eventbus.JobRun{JobID: job.ID, ActorID: job.ActorID, Sent: sent, Total: len(dests)})
	log.Info("job completed", logx.Int("sent", sent), logx.Duration("dur", time.Since(start)))
	s.notifyOperator(bg, fmt.Sprintf(msgCompleted, job.ActorID, sent))
	return nil
}

func (s *Scheduler) fail(ctx context.Context, log logx.Logger, job model.Job, ep model.Endpoint, sent, total int, err error) {
	s.finish(ctx, job, false)
	observability.JobRuns.WithLabelValues("failed").Inc()
	s.publish(eventbus.JobFailed, eventbus.JobRun{JobID: job.ID, ActorID: job.ActorID, Sent: sent, Total: total, Reason: err.Error()})
	log.Warn("job failed; deactivated", logx.Int("sent", sent), logx.Int("total", total), logx.Err(err))
	s.notifyOwner(ctx, job.ActorID, fmt.Sprintf(msgAccountBroken, ep.Phone))
}

// finish records the run time and, unless keepActive, deactivates the job.
func (s *Scheduler) finish(ctx context.Context, job model.Job, keepActive bool) {
	now := s.now()
	patch := model.JobPatch{LastRunAt: &now}
	if !keepActive {
		patch.Active = model.Ptr(false)
	}
	if _, err := s.store.UpdateJob(ctx, job.ID, patch); err != nil {
		s.log.Error("record job run failed", logx.Int64("job_id", job.ID), logx.Err(err))
	}
}

func (s *Scheduler) notifyOwner(ctx context.Context, actorID int64, text string) {
	if err := s.sink.NotifyOwner(ctx, actorID, text); err != nil {
		s.log.Warn("owner notice failed", logx.Int64("actor_id", actorID), logx.Err(err))
	}
}

func (s *Scheduler) notifyOperator(ctx context.Context, text string) {
	if err := s.sink.NotifyOperator(ctx, text); err != nil {
		s.log.Warn("operator notice failed", logx.Err(err))
	}
}

func (s *Scheduler) publish(typ string, run eventbus.JobRun) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: run})
	}
}
