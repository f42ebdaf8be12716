// Package session holds the client-side authentication state: token, email
// and the backend thread id. The store is constructed explicitly by the
// application root and passed to its dependents.
package session

import (
	"context"
	"sync"

	"pkt.systems/paveurpath/internal/logx"
	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// ActionType identifies a store transition.
type ActionType int

const (
	// ActionSetAuth sets token and email.
	ActionSetAuth ActionType = iota + 1
	// ActionSetThreadID sets the thread id.
	ActionSetThreadID
	// ActionClearAuth resets every field.
	ActionClearAuth
)

// Action is an input to Reduce.
type Action struct {
	Type     ActionType
	Token    string
	Email    string
	ThreadID string
}

// Reduce is the pure transition function of the store.
func Reduce(state schema.Session, action Action) schema.Session {
	switch action.Type {
	case ActionSetAuth:
		state.Token = action.Token
		state.Email = action.Email
	case ActionSetThreadID:
		state.ThreadID = action.ThreadID
	case ActionClearAuth:
		state = schema.Session{}
	}
	return state
}

// Listener observes store transitions. It runs synchronously after the
// mutation and must not mutate the store.
type Listener = func(event schema.SessionEvent)

// Store is the single source of truth for "is the user signed in".
type Store struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex
	state    schema.Session
	subs     map[uint64]Listener
	order    []uint64
	nextID   uint64
	log      pslog.Logger
}

// NewStore returns a store seeded with a rehydrated session.
func NewStore(initial schema.Session) *Store {
	return NewStoreWithLogger(initial, nil)
}

// NewStoreWithLogger returns a store seeded with initial and logging to logger.
func NewStoreWithLogger(initial schema.Session, logger pslog.Logger) *Store {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Store{
		state: initial,
		subs:  make(map[uint64]Listener),
		log:   logger,
	}
}

// SetAuth records a successful sign-in. The thread id is left untouched.
func (s *Store) SetAuth(token, email string) {
	s.dispatch(Action{Type: ActionSetAuth, Token: token, Email: email})
}

// SetThreadID records the backend conversation id.
func (s *Store) SetThreadID(threadID string) {
	s.dispatch(Action{Type: ActionSetThreadID, ThreadID: threadID})
}

// ClearAuth signs out, resetting token, email and thread id.
func (s *Store) ClearAuth() {
	s.dispatch(Action{Type: ActionClearAuth})
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() schema.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns the auth token or "".
func (s *Store) Token() string {
	return s.Snapshot().Token
}

// Email returns the account email or "".
func (s *Store) Email() string {
	return s.Snapshot().Email
}

// ThreadID returns the thread id or "".
func (s *Store) ThreadID() string {
	return s.Snapshot().ThreadID
}

// Authenticated reports whether a token is present.
func (s *Store) Authenticated() bool {
	return s.Snapshot().Authenticated()
}

// Subscribe registers a listener and returns its cancel func.
func (s *Store) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = listener
	s.order = append(s.order, id)
	count := len(s.subs)
	s.mu.Unlock()
	s.log.Debug("session subscribe", "subs", count)
	return func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			for i, existing := range s.order {
				if existing == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		}
		s.mu.Unlock()
	}
}

func (s *Store) dispatch(action Action) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, action)
	s.state = next
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.subs[id])
	}
	s.mu.Unlock()

	logx.WithSession(s.log, next).Debug("session updated", "action", action.Type.String(), "authenticated", next.Authenticated())
	event := schema.SessionEvent{Previous: prev, Current: next}
	for _, listener := range listeners {
		listener(event)
	}
}

func (t ActionType) String() string {
	switch t {
	case ActionSetAuth:
		return "set_auth"
	case ActionSetThreadID:
		return "set_thread_id"
	case ActionClearAuth:
		return "clear_auth"
	default:
		return "unknown"
	}
}
