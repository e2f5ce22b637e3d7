// Package memstore provides an in-memory implementation of track.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/beacon/internal/track"
)

// Store holds tracked violations in memory. Suitable for dev/testing; state
// does not survive a restart.
type Store struct {
	mu    sync.RWMutex
	state map[string]track.Violation // incident id -> tracked violation
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{state: make(map[string]track.Violation)}
}

// Load returns a copy of the current mapping.
func (s *Store) Load(_ context.Context) (map[string]track.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]track.Violation, len(s.state))
	for k, v := range s.state {
		cp[k] = v
	}
	return cp, nil
}

// Put stores one tracked violation.
func (s *Store) Put(_ context.Context, incidentID string, v track.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[incidentID] = v
	return nil
}

// Flush is a no-op.
func (s *Store) Flush(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}
