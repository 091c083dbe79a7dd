package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrTooManySessions = errors.New("too many live sessions")

// Factory builds a session for a freshly allocated id.
type Factory func(id string) *Session

// Store keeps live sessions by id.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*storeEntry
	max      int
	factory  Factory
	now      func() time.Time
}

type storeEntry struct {
	session      *Session
	lastAccessed time.Time
}

func NewStore(maxSessions int, factory Factory) *Store {
	return &Store{
		sessions: make(map[string]*storeEntry),
		max:      maxSessions,
		factory:  factory,
		now:      time.Now,
	}
}

func (st *Store) Create() (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.max > 0 && len(st.sessions) >= st.max {
		return nil, ErrTooManySessions
	}
	id := uuid.NewString()
	s := st.factory(id)
	st.sessions[id] = &storeEntry{session: s, lastAccessed: st.now()}
	return s, nil
}

// Get returns the session and marks it as recently used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastAccessed = st.now()
	return e.session, true
}

func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	e, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if ok {
		e.session.Close()
	}
	return ok
}

// Sweep closes sessions idle for longer than maxIdle. Sessions with a
// transfer in flight are kept.
func (st *Store) Sweep(maxIdle time.Duration) int {
	cutoff := st.now().Add(-maxIdle)

	st.mu.Lock()
	var stale []*Session
	for id, e := range st.sessions {
		if e.lastAccessed.After(cutoff) || e.session.Transferring() {
			continue
		}
		stale = append(stale, e.session)
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
