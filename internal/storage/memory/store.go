// Package memory provides in-memory session storage for ClipMesh.
//
// Sessions live for the process lifetime; there is no eviction and no
// persistence. The store is the single serialization point for session
// state: every read or mutation of a session runs under that session's
// lock, which gives the per-session single-writer guarantee the services
// rely on.
package memory

import (
	"context"
	"sync"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/pkg/cmap"
)

// record pairs a session with its serialization lock.
type record struct {
	mu      sync.Mutex
	session *domain.Session
}

// Store is an in-memory implementation of service.SessionStore.
type Store struct {
	sessions *cmap.Map[*record]
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: cmap.New[*record](),
	}
}

// Create stores a new session. Fails with CM-SESS-4090 if the ID is taken.
func (s *Store) Create(_ context.Context, session *domain.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	if !s.sessions.SetIfAbsent(session.ID, &record{session: session}) {
		return domain.ErrSessionExists
	}
	return nil
}

// Exists reports whether a session with the given ID is known.
func (s *Store) Exists(_ context.Context, id string) bool {
	return s.sessions.Has(id)
}

// View runs fn with the session locked. fn must not retain the session
// or anything reachable from it past its return.
func (s *Store) View(_ context.Context, id string, fn func(*domain.Session) error) error {
	rec, ok := s.sessions.Get(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return fn(rec.session)
}

// Mutate runs fn with the session locked for read-modify-write.
// All session mutation in the process goes through here, which makes
// handler goroutines, liveness sweeps and verification expiry mutually
// exclusive per session.
func (s *Store) Mutate(_ context.Context, id string, fn func(*domain.Session) error) error {
	rec, ok := s.sessions.Get(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return fn(rec.session)
}

// IDs returns the IDs of all known sessions.
func (s *Store) IDs() []string {
	return s.sessions.Keys()
}

// Count returns the number of known sessions.
func (s *Store) Count() int {
	return s.sessions.Count()
}
