// Package model holds the broadcast domain entities shared by the store,
// the wizard and the delivery scheduler.
package model

import (
	"strings"
	"time"
)

// Actor is one end user. APIID/APIHash override the process-wide gateway
// credentials when set.
type Actor struct {
	ID           int64
	APIID        int
	APIHash      string
	IsAdmin      bool
	CredentialID *int64
	CreatedAt    time.Time
}

// HasOverride reports whether the actor carries its own gateway credentials.
func (a Actor) HasOverride() bool {
	return a.APIID != 0 && strings.TrimSpace(a.APIHash) != ""
}

// Credential is a time-boxed token gating whether an actor's jobs may run.
type Credential struct {
	ID         int64
	Value      string
	ValidUntil time.Time
	CreatedAt  time.Time
}

// ValidOn reports whether the credential is still valid on the calendar day
// of now. The expiry day itself is still valid.
func (c Credential) ValidOn(now time.Time) bool {
	y, m, d := c.ValidUntil.Date()
	expiry := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return !DayOf(now).After(expiry)
}

// DayOf truncates t to midnight in its own location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Endpoint is an authenticated transport identity (a phone-linked account)
// owned by an actor. It becomes Active only after the login code is confirmed.
type Endpoint struct {
	ID        int64
	ActorID   int64
	Phone     string
	CodeHash  string
	Active    bool
	CreatedAt time.Time
}

// ShortPhone is the label prefix used in job lists.
func (e Endpoint) ShortPhone() string {
	r := []rune(e.Phone)
	if len(r) > 5 {
		r = r[:5]
	}
	return string(r)
}

// Job is a recurring broadcast.
type Job struct {
	ID          int64
	ActorID     int64
	EndpointID  int64
	Message     *string
	IntervalMin *int
	Active      bool
	LastRunAt   *time.Time
	CreatedAt   time.Time
}

// Configured reports whether the job has everything it needs to run.
func (j Job) Configured() bool {
	return j.Message != nil && j.IntervalMin != nil && j.EndpointID != 0
}

// Text returns the stored message or "" when unset.
func (j Job) Text() string {
	if j.Message == nil {
		return ""
	}
	return *j.Message
}

// Interval returns the configured interval or 0 when unset.
func (j Job) Interval() int {
	if j.IntervalMin == nil {
		return 0
	}
	return *j.IntervalMin
}

// JobPatch carries the fields UpdateJob should change. Nil means untouched.
type JobPatch struct {
	Message     *string
	IntervalMin *int
	Active      *bool
	LastRunAt   *time.Time
}

// Destination is one target attached to a job.
type Destination struct {
	ID         int64
	JobID      int64
	ExternalID int64
	Title      string
	CreatedAt  time.Time
}

// Candidate is one entry of the live target list reported by the transport.
type Candidate struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// AuditEntry records an administrative or lifecycle action.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	Detail  string
}

// Ptr returns a pointer to v. Handy when building a JobPatch.
func Ptr[T any](v T) *T { return &v }
