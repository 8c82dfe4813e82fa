package wizard

import (
	"sync"
	"time"

	"castbot/internal/model"
	kit "castbot/internal/transport"
)

type Flow int

const (
	FlowNone Flow = iota
	FlowCreate
	FlowEdit
	FlowEndpoint
)

func (f Flow) String() string {
	switch f {
	case FlowCreate:
		return "create"
	case FlowEdit:
		return "edit"
	case FlowEndpoint:
		return "endpoint"
	}
	return "none"
}

type State int

const (
	StateNone State = iota

	// creation flow
	StateSelectEndpoint
	StateSetMessage
	StateSetInterval
	StateSelectTargets
	StateConfirmActivate

	// edit flow
	StateListJobs
	StateJobMenu
	StateEditMessage
	StateEditInterval
	StateEditTargets

	// endpoint flow
	StateLoginCode
)

var stateNames = map[State]string{
	StateNone:            "none",
	StateSelectEndpoint:  "select_endpoint",
	StateSetMessage:      "set_message",
	StateSetInterval:     "set_interval",
	StateSelectTargets:   "select_targets",
	StateConfirmActivate: "confirm_activate",
	StateListJobs:        "list_jobs",
	StateJobMenu:         "job_menu",
	StateEditMessage:     "edit_message",
	StateEditInterval:    "edit_interval",
	StateEditTargets:     "edit_targets",
	StateLoginCode:       "login_code",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Session is one actor's in-flight conversation.
type Session struct {
	Flow  Flow
	State State

	JobID      int64
	EndpointID int64
	// IntervalSet is false until a creation-flow job has its interval.
	IntervalSet bool

	// endpoint flow
	Phone    string
	CodeHash string

	Candidates []model.Candidate
	PageIndex  int
	// MessageRef is the message carrying the current keyboard. Presses on
	// any other message are stale.
	MessageRef kit.MessageRef

	UpdatedAt time.Time
}

type entry struct {
	mu   sync.Mutex
	refs int
	sess *Session
}

// SessionStore keeps one Session per actor and serializes each actor's
// handlers through a per-actor mutex. Get, Put and Delete expect the caller
// to hold the actor's lock.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{ttl: ttl, now: time.Now, entries: map[int64]*entry{}}
}

// Lock acquires the actor's mutex and returns the release func.
func (s *SessionStore) Lock(actorID int64) (unlock func()) {
	s.mu.Lock()
	e := s.entries[actorID]
	if e == nil {
		e = &entry{}
		s.entries[actorID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 && e.sess == nil {
			delete(s.entries, actorID)
		}
		s.mu.Unlock()
	}
}

// Get returns a copy of the actor's session. Expired sessions are reported
// with ok=false but left in place so the caller can clean up after them.
func (s *SessionStore) Get(actorID int64) (sess Session, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[actorID]
	if e == nil || e.sess == nil {
		return Session{}, false
	}
	if s.expired(e.sess) {
		return *e.sess, false
	}
	return *e.sess, true
}

func (s *SessionStore) Put(actorID int64, sess Session) {
	sess.UpdatedAt = s.now()
	s.mu.Lock()
	e := s.entries[actorID]
	if e == nil {
		e = &entry{}
		s.entries[actorID] = e
	}
	e.sess = &sess
	s.mu.Unlock()
}

func (s *SessionStore) Delete(actorID int64) {
	s.mu.Lock()
	if e := s.entries[actorID]; e != nil {
		e.sess = nil
		if e.refs == 0 {
			delete(s.entries, actorID)
		}
	}
	s.mu.Unlock()
}

// Len is the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.sess != nil {
			n++
		}
	}
	return n
}

// Sweep removes expired sessions of actors that are not in a handler and
// returns them keyed by actor id.
func (s *SessionStore) Sweep() map[int64]Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out map[int64]Session
	for id, e := range s.entries {
		if e.refs > 0 || e.sess == nil || !s.expired(e.sess) {
			continue
		}
		if out == nil {
			out = map[int64]Session{}
		}
		out[id] = *e.sess
		delete(s.entries, id)
	}
	return out
}

func (s *SessionStore) expired(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.UpdatedAt) > s.ttl
}
