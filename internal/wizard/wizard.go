// Package wizard runs the multi-step conversations that create and edit
// broadcast jobs and link endpoints. Each actor has at most one conversation;
// its state lives in a SessionStore and every handler of one actor runs under
// that actor's lock.
package wizard

import (
	"context"
	"slices"
	"time"

	"castbot/internal/gateway"
	"castbot/internal/model"
	"castbot/internal/observability"
	"castbot/internal/selection"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"
)

// Callback namespaces owned by the wizard. The toggle list uses selection.NS.
const (
	nsEndpoint = "ep"
	nsJobs     = "jobs"
	nsJob      = "job"
	nsActivate = "act"
)

// Store is the slice of storage.Store the wizard uses.
type Store interface {
	selection.Store

	GetActor(ctx context.Context, id int64) (model.Actor, error)

	UpsertEndpoint(ctx context.Context, actorID int64, phone, codeHash string) (model.Endpoint, error)
	GetEndpoint(ctx context.Context, id int64) (model.Endpoint, error)
	ActivateEndpoint(ctx context.Context, id int64) error
	ListEndpoints(ctx context.Context, actorID int64) ([]model.Endpoint, error)
	ListActiveEndpoints(ctx context.Context, actorID int64) ([]model.Endpoint, error)

	CreateJob(ctx context.Context, actorID, endpointID int64) (model.Job, error)
	GetJob(ctx context.Context, id int64) (model.Job, error)
	UpdateJob(ctx context.Context, id int64, p model.JobPatch) (model.Job, error)
	DeleteJob(ctx context.Context, id int64) error
	ListActorJobs(ctx context.Context, actorID int64) ([]model.Job, error)

	AppendAudit(ctx context.Context, e model.AuditEntry) error
}

// Guard refuses actors without a valid credential.
type Guard interface {
	Require(ctx context.Context, actorID int64) error
	Check(ctx context.Context, actorID int64) error
}

// Gateway is the part of gateway.Client the wizard calls.
type Gateway interface {
	AccountFor(actor model.Actor, phone string) gateway.Account
	ListCandidates(ctx context.Context, acc gateway.Account) ([]model.Candidate, error)
	RequestCode(ctx context.Context, acc gateway.Account) (string, error)
	SignIn(ctx context.Context, acc gateway.Account, code, codeHash string) error
}

type Config struct {
	// SessionTTL discards conversations idle for longer. 0 keeps them forever.
	SessionTTL time.Duration
	// GatewayTimeout bounds candidate listing and sign-in calls.
	GatewayTimeout time.Duration
}

type Wizard struct {
	cfg      Config
	store    Store
	guard    Guard
	gw       Gateway
	sel      *selection.Controller
	sessions *SessionStore
	log      logx.Logger
	now      func() time.Time
}

func New(cfg Config, store Store, guard Guard, gw Gateway, log logx.Logger) *Wizard {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	return &Wizard{
		cfg:      cfg,
		store:    store,
		guard:    guard,
		gw:       gw,
		sel:      selection.New(store),
		sessions: NewSessionStore(cfg.SessionTTL),
		log:      log,
		now:      time.Now,
	}
}

// SetClock replaces the time source of the wizard and its sessions (tests).
func (w *Wizard) SetClock(now func() time.Time) {
	w.now = now
	w.sessions.now = now
}

// Commands are the conversation entry points.
func (w *Wizard) Commands() []router.Command {
	return []router.Command{
		{Name: "start_posting", Aliases: []string{"new"}, Description: "Create a new task", Handle: w.handleStartPosting},
		{Name: "my_tasks", Aliases: []string{"jobs"}, Description: "Edit your tasks", Handle: w.handleMyTasks},
		{Name: "add_account", Description: "Link an account by phone number", Usage: "/add_account PHONE", Handle: w.handleAddAccount},
		{Name: "cancel", Description: "Abort the current action", Handle: w.handleCancel},
	}
}

// Callbacks routes the wizard's keyboards.
func (w *Wizard) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{NS: nsEndpoint, Handle: w.onCallback(w.onEndpoint, StateSelectEndpoint)},
		{NS: selection.NS, Handle: w.onCallback(w.onSelection, StateSelectTargets, StateEditTargets)},
		{NS: nsActivate, Handle: w.onCallback(w.onActivate, StateConfirmActivate)},
		{NS: nsJobs, Handle: w.onCallback(w.onJobs, StateListJobs)},
		{NS: nsJob, Handle: w.onCallback(w.onJobMenu, StateJobMenu)},
	}
}

// step advances sess. done ends the conversation.
type step func(ctx context.Context, req *router.Request, sess *Session) (done bool, err error)

func (w *Wizard) onCallback(fn step, states ...State) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		unlock := w.sessions.Lock(req.FromID)
		defer unlock()

		sess, ok := w.current(ctx, req.FromID)
		if !ok || !slices.Contains(states, sess.State) || sess.MessageRef.MessageID != req.MessageRef().MessageID {
			return req.Answer(ctx, router.MsgMenuExpired)
		}
		if err := w.guard.Check(ctx, req.FromID); err != nil {
			w.discard(ctx, req.FromID, sess)
			return err
		}
		return w.advance(ctx, req, sess, fn)
	}
}

// HandleText feeds free text to the actor's conversation, if one is
// waiting for text.
func (w *Wizard) HandleText(ctx context.Context, req *router.Request) (bool, error) {
	unlock := w.sessions.Lock(req.FromID)
	defer unlock()

	sess, ok := w.current(ctx, req.FromID)
	if !ok {
		return false, nil
	}
	var fn step
	switch sess.State {
	case StateSetMessage:
		fn = w.onMessageText
	case StateSetInterval:
		fn = w.onIntervalText
	case StateEditMessage:
		fn = w.onEditMessageText
	case StateEditInterval:
		fn = w.onEditIntervalText
	case StateLoginCode:
		fn = w.onLoginCode
	default:
		return false, nil
	}
	if err := w.guard.Check(ctx, req.FromID); err != nil {
		w.discard(ctx, req.FromID, sess)
		return true, err
	}
	return true, w.advance(ctx, req, sess, fn)
}

func (w *Wizard) advance(ctx context.Context, req *router.Request, sess Session, fn step) error {
	before := sess.State
	done, err := fn(ctx, req, &sess)
	if done {
		w.sessions.Delete(req.FromID)
		observability.WizardSteps.WithLabelValues(sess.Flow.String(), "end").Inc()
	} else {
		w.sessions.Put(req.FromID, sess)
		if sess.State != before {
			observability.WizardSteps.WithLabelValues(sess.Flow.String(), sess.State.String()).Inc()
		}
	}
	observability.WizardSessions.Set(float64(w.sessions.Len()))
	if err != nil && !model.IsKind(err, model.KindValidation) {
		req.Logger.Warn("wizard step failed",
			logx.String("flow", sess.Flow.String()),
			logx.String("state", before.String()),
			logx.Int64("job_id", sess.JobID),
			logx.Err(err),
		)
	}
	return err
}

// begin starts a fresh conversation, discarding whatever was in flight.
// The caller holds the actor's lock.
func (w *Wizard) begin(ctx context.Context, actorID int64, sess Session) {
	if old, ok := w.sessions.Get(actorID); ok {
		w.discard(ctx, actorID, old)
	}
	w.sessions.Put(actorID, sess)
	observability.WizardSteps.WithLabelValues(sess.Flow.String(), sess.State.String()).Inc()
	observability.WizardSessions.Set(float64(w.sessions.Len()))
}

// current returns the live session. An expired one is cleaned up and
// reported as absent.
func (w *Wizard) current(ctx context.Context, actorID int64) (Session, bool) {
	sess, ok := w.sessions.Get(actorID)
	if ok {
		return sess, true
	}
	if sess.State != StateNone {
		w.discard(ctx, actorID, sess)
	}
	return Session{}, false
}

// discard drops the session. A creation-flow job that never got its
// interval is deleted with it.
func (w *Wizard) discard(ctx context.Context, actorID int64, sess Session) {
	w.sessions.Delete(actorID)
	observability.WizardSessions.Set(float64(w.sessions.Len()))
	w.dropUnfinished(ctx, actorID, sess)
}

func (w *Wizard) dropUnfinished(ctx context.Context, actorID int64, sess Session) {
	if sess.Flow != FlowCreate || sess.JobID == 0 || sess.IntervalSet {
		return
	}
	if err := w.store.DeleteJob(ctx, sess.JobID); err != nil && !model.IsKind(err, model.KindNotFound) {
		w.log.Warn("delete unfinished job failed", logx.Int64("actor_id", actorID), logx.Int64("job_id", sess.JobID), logx.Err(err))
		return
	}
	w.audit(ctx, actorID, "job.discard", sess.JobID, "")
}

// Sweep discards idle conversations. It returns how many were dropped.
func (w *Wizard) Sweep(ctx context.Context) int {
	expired := w.sessions.Sweep()
	for actorID, sess := range expired {
		w.dropUnfinished(ctx, actorID, sess)
	}
	if len(expired) > 0 {
		observability.WizardSessions.Set(float64(w.sessions.Len()))
		w.log.Debug("wizard sessions expired", logx.Int("count", len(expired)))
	}
	return len(expired)
}

func (w *Wizard) audit(ctx context.Context, actorID int64, action string, target int64, detail string) {
	err := w.store.AppendAudit(ctx, model.AuditEntry{
		At:      w.now(),
		ActorID: actorID,
		Action:  action,
		Target:  formatID(target),
		Detail:  detail,
	})
	if err != nil {
		w.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (w *Wizard) handleCancel(ctx context.Context, req *router.Request) error {
	unlock := w.sessions.Lock(req.FromID)
	defer unlock()

	if sess, ok := w.sessions.Get(req.FromID); ok || sess.State != StateNone {
		w.discard(ctx, req.FromID, sess)
		observability.WizardSteps.WithLabelValues(sess.Flow.String(), "cancelled").Inc()
	}
	_, err := req.Reply(ctx, msgCancelled, nil)
	return err
}

// candidates lists the live targets reachable through the job's endpoint.
func (w *Wizard) candidates(ctx context.Context, actorID, endpointID int64) ([]model.Candidate, error) {
	ep, err := w.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	actor, err := w.store.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
	defer cancel()
	return w.gw.ListCandidates(ctx, w.gw.AccountFor(actor, ep.Phone))
}

// ownedJob loads a job and checks it belongs to actorID.
func (w *Wizard) ownedJob(ctx context.Context, actorID, jobID int64) (model.Job, error) {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.ActorID != actorID {
		return model.Job{}, model.NotFound("wizard.job", "task")
	}
	return job, nil
}
