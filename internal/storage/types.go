package storage

import (
	"context"
	"errors"
	"time"

	"castbot/internal/model"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Path is the SQLite database file. The special value ":memory:" opens a
// private in-memory database (tests, dry runs).
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
	Readers     int           // reader pool size; 0 means 4
}

// Store is the persistence API used by the wizard, the scheduler and the
// account commands. Consumers usually declare the narrower subset they need.
type Store interface {
	// actors
	FindOrCreateActor(ctx context.Context, id int64) (model.Actor, error)
	GetActor(ctx context.Context, id int64) (model.Actor, error)
	BindCredential(ctx context.Context, actorID, credentialID int64) error
	ActorCredential(ctx context.Context, actorID int64) (model.Credential, bool, error)
	SetAdmin(ctx context.Context, actorID int64, admin bool) error
	ListAdmins(ctx context.Context) ([]model.Actor, error)
	SetActorOverride(ctx context.Context, actorID int64, apiID int, apiHash string) error

	// credentials
	CreateCredential(ctx context.Context, value string, validUntil time.Time) (model.Credential, error)
	GetCredential(ctx context.Context, id int64) (model.Credential, error)
	GetCredentialByValue(ctx context.Context, value string) (model.Credential, error)
	ListValidCredentials(ctx context.Context, today time.Time) ([]model.Credential, error)

	// endpoints
	UpsertEndpoint(ctx context.Context, actorID int64, phone, codeHash string) (model.Endpoint, error)
	GetEndpoint(ctx context.Context, id int64) (model.Endpoint, error)
	GetEndpointByPhone(ctx context.Context, actorID int64, phone string) (model.Endpoint, error)
	ActivateEndpoint(ctx context.Context, id int64) error
	ListEndpoints(ctx context.Context, actorID int64) ([]model.Endpoint, error)
	ListActiveEndpoints(ctx context.Context, actorID int64) ([]model.Endpoint, error)
	DeleteEndpoint(ctx context.Context, actorID, endpointID int64) (jobsRemoved int64, err error)

	// jobs
	CreateJob(ctx context.Context, actorID, endpointID int64) (model.Job, error)
	GetJob(ctx context.Context, id int64) (model.Job, error)
	UpdateJob(ctx context.Context, id int64, p model.JobPatch) (model.Job, error)
	DeleteJob(ctx context.Context, id int64) error
	ListDueActiveJobs(ctx context.Context) ([]model.Job, error)
	ListActorJobs(ctx context.Context, actorID int64) ([]model.Job, error)
	DeactivateActorJobs(ctx context.Context, actorID int64) (int64, error)

	// destinations
	AddDestination(ctx context.Context, jobID int64, c model.Candidate) error
	RemoveDestination(ctx context.Context, jobID, externalID int64) error
	ListDestinations(ctx context.Context, jobID int64) ([]model.Destination, error)
	ReplaceDestinations(ctx context.Context, jobID int64, cs []model.Candidate) error

	// bookkeeping
	AppendAudit(ctx context.Context, e model.AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

var _ Store = (*SQLite)(nil)
