// Package account owns actors, credentials and the administrative commands.
package account

import (
	"context"
	"sync"
	"time"

	"castbot/internal/model"
)

// MsgTokenInvalid is the refusal shown when an actor has no usable credential.
const MsgTokenInvalid = "Your token is invalid. Please /activate a new one."

// Store is the slice of storage.Store used by this package.
type Store interface {
	FindOrCreateActor(ctx context.Context, id int64) (model.Actor, error)
	GetActor(ctx context.Context, id int64) (model.Actor, error)
	BindCredential(ctx context.Context, actorID, credentialID int64) error
	ActorCredential(ctx context.Context, actorID int64) (model.Credential, bool, error)
	SetAdmin(ctx context.Context, actorID int64, admin bool) error
	SetActorOverride(ctx context.Context, actorID int64, apiID int, apiHash string) error

	CreateCredential(ctx context.Context, value string, validUntil time.Time) (model.Credential, error)
	GetCredentialByValue(ctx context.Context, value string) (model.Credential, error)
	ListValidCredentials(ctx context.Context, today time.Time) ([]model.Credential, error)

	ListEndpoints(ctx context.Context, actorID int64) ([]model.Endpoint, error)
	GetEndpointByPhone(ctx context.Context, actorID int64, phone string) (model.Endpoint, error)
	DeleteEndpoint(ctx context.Context, actorID, endpointID int64) (int64, error)

	ListActorJobs(ctx context.Context, actorID int64) ([]model.Job, error)
	AppendAudit(ctx context.Context, e model.AuditEntry) error
}

// Guard answers "may this actor use the bot" and "is this actor an admin".
type Guard struct {
	store Store
	loc   *time.Location
	now   func() time.Time

	mu     sync.RWMutex
	admins map[int64]struct{}
}

func NewGuard(store Store, loc *time.Location, admins []int64) *Guard {
	if loc == nil {
		loc = time.Local
	}
	g := &Guard{store: store, loc: loc, now: time.Now}
	g.SetAdmins(admins)
	return g
}

// SetClock replaces the time source (tests).
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

// SetAdmins replaces the configured admin ids. Actors flagged in the store
// stay admins regardless.
func (g *Guard) SetAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	g.mu.Lock()
	g.admins = m
	g.mu.Unlock()
}

// Today is the current calendar day in the configured location.
func (g *Guard) Today() time.Time { return model.DayOf(g.now().In(g.loc)) }

// Require fails with an authorization error unless actorID holds a credential
// valid today. The actor row is created on first contact, so entry points
// call Require.
func (g *Guard) Require(ctx context.Context, actorID int64) error {
	if _, err := g.store.FindOrCreateActor(ctx, actorID); err != nil {
		return err
	}
	return g.Check(ctx, actorID)
}

// Check is Require without the write: steps of a conversation that already
// passed Require use it. An unknown actor has no credential.
func (g *Guard) Check(ctx context.Context, actorID int64) error {
	cred, ok, err := g.store.ActorCredential(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok || !cred.ValidOn(g.now().In(g.loc)) {
		return model.Unauthorized("account.guard", MsgTokenInvalid)
	}
	return nil
}

// IsAdmin is the union of configured admins and the store's admin flag.
func (g *Guard) IsAdmin(ctx context.Context, actorID int64) (bool, error) {
	g.mu.RLock()
	_, ok := g.admins[actorID]
	g.mu.RUnlock()
	if ok {
		return true, nil
	}
	a, err := g.store.GetActor(ctx, actorID)
	if model.IsKind(err, model.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.IsAdmin, nil
}
