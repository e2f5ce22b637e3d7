// Package filestore persists tracked violations as a flat JSON object in a
// single file. Recovery is best-effort: a missing or unreadable file loads
// as empty state, and save failures are logged rather than raised. Losing
// state costs at worst a duplicate ticket; crashing the monitor costs all
// alerting.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/linnemanlabs/beacon/internal/track"
	"github.com/linnemanlabs/go-core/log"
)

// Store is a file-backed track.Store.
type Store struct {
	path   string
	logger log.Logger

	mu    sync.Mutex
	state map[string]track.Violation
}

// New creates a file store at path. Nothing is read until Load.
func New(path string, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{
		path:   path,
		logger: logger,
		state:  make(map[string]track.Violation),
	}
}

// Load reads the state file. A missing file, parse failure, or read error
// yields empty state and a log line, never an error.
func (s *Store) Load(ctx context.Context) (map[string]track.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		s.logger.Info(ctx, "no state file, starting empty", "path", s.path)
		s.state = make(map[string]track.Violation)
		return copyState(s.state), nil
	case err != nil:
		s.logger.Error(ctx, err, "state file unreadable, starting empty", "path", s.path)
		s.state = make(map[string]track.Violation)
		return copyState(s.state), nil
	}

	// Unknown extra fields are ignored for forward compatibility.
	loaded := make(map[string]track.Violation)
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Error(ctx, err, "state file corrupt, starting empty", "path", s.path)
		loaded = make(map[string]track.Violation)
	}

	s.state = loaded
	return copyState(s.state), nil
}

// Put records one tracked violation and writes the whole mapping to disk.
// Persistence failures are logged, not returned: the in-memory state stays
// authoritative for the rest of the process lifetime.
func (s *Store) Put(ctx context.Context, incidentID string, v track.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[incidentID] = v
	if err := s.write(); err != nil {
		s.logger.Error(ctx, err, "state save failed", "path", s.path, "incident", incidentID)
	}
	return nil
}

// Flush rewrites the full state file.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(); err != nil {
		s.logger.Error(ctx, err, "state flush failed", "path", s.path)
	}
	return nil
}

// Close is a no-op; every Put already reached disk.
func (s *Store) Close() {}

// write serializes the mapping through a temp file and rename so a
// concurrent reader never sees a half-written file.
func (s *Store) write() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func copyState(m map[string]track.Violation) map[string]track.Violation {
	cp := make(map[string]track.Violation, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
