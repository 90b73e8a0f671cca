package expertloop

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTurnActive is returned when a turn is requested for a session that
// already has one in flight. Each session processes at most one turn at
// a time; callers should retry after the stream ends.
var ErrTurnActive = errors.New("a turn is already in flight for this session")

// ErrSessionNotFound is returned for lookups of unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session holds one conversation: its append-only turn history, its
// sandbox, and the in-flight-turn latch.
type Session struct {
	id        string
	sandbox   *Sandbox
	createdAt time.Time

	mu           sync.Mutex
	history      []Turn
	lastActivity time.Time
	inFlight     bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Sandbox returns the session's sandbox.
func (s *Session) Sandbox() *Sandbox { return s.sandbox }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Append adds a turn to the history. History is append-only; turns are
// never modified or removed once recorded.
func (s *Session) Append(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
	s.lastActivity = time.Now()
}

// History returns a copy of the turn history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of recorded turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// LastActivity returns when the session last recorded a turn.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// TryAcquireTurn attempts to claim the session's single turn slot. On
// success it returns a release function that must be called when the
// turn finishes; on failure the session already has a turn in flight.
func (s *Session) TryAcquireTurn() (release func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, false
	}
	s.inFlight = true
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inFlight = false
			s.lastActivity = time.Now()
			s.mu.Unlock()
		})
	}, true
}

// turnActive reports whether a turn is currently in flight.
func (s *Session) turnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// SessionStore creates and tracks sessions. Each session gets its own
// sandbox directory under the store's workspace root.
type SessionStore struct {
	workspaceRoot string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore creates a store rooted at workspaceRoot.
func NewSessionStore(workspaceRoot string) *SessionStore {
	return &SessionStore{
		workspaceRoot: workspaceRoot,
		sessions:      make(map[string]*Session),
	}
}

// GetOrCreate returns the session with the given id if it exists.
// Otherwise a fresh session is created under a generated identifier; the
// supplied id is never used to name the sandbox directory, so client
// input cannot influence where a sandbox is rooted.
func (st *SessionStore) GetOrCreate(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != "" {
		if sess, ok := st.sessions[id]; ok {
			return sess, nil
		}
	}
	id = uuid.NewString()
	sandbox, err := NewSandbox(filepath.Join(st.workspaceRoot, id))
	if err != nil {
		return nil, fmt.Errorf("creating session %s: %w", id, err)
	}
	now := time.Now()
	sess := &Session{id: id, sandbox: sandbox, createdAt: now, lastActivity: now}
	st.sessions[id] = sess
	return sess, nil
}

// Get looks up an existing session.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// EvictIdle drops sessions whose last activity is older than maxIdle.
// Sessions with a turn in flight are never evicted. Sandbox directories
// are left on disk. Returns the ids removed.
func (st *SessionStore) EvictIdle(maxIdle time.Duration) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	var evicted []string
	for id, sess := range st.sessions {
		if sess.turnActive() {
			continue
		}
		if sess.LastActivity().Before(cutoff) {
			delete(st.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
