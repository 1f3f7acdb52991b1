// Package memory keeps process versions and metadata in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meikuraledutech/procgraph"
)

// Store implements procgraph.VersionStore and procgraph.MetaStore in memory.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	versions map[procgraph.VersionKey]*procgraph.ProcessVersion
	meta     map[string]procgraph.ProcessMeta
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		versions: make(map[procgraph.VersionKey]*procgraph.ProcessVersion),
		meta:     make(map[string]procgraph.ProcessMeta),
		now:      time.Now,
	}
}

// Create stores v. Returns procgraph.ErrAlreadyExists if the key is taken.
func (s *Store) Create(ctx context.Context, v *procgraph.ProcessVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := v.Key()
	if _, ok := s.versions[key]; ok {
		return fmt.Errorf("memory: create %s: %w", key, procgraph.ErrAlreadyExists)
	}
	s.versions[key] = v.Clone()
	return nil
}

// Get returns a copy of the stored version.
func (s *Store) Get(ctx context.Context, key procgraph.VersionKey) (*procgraph.ProcessVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[key]
	if !ok {
		return nil, fmt.Errorf("memory: get %s: %w", key, procgraph.ErrNotFound)
	}
	return v.Clone(), nil
}

// Put replaces the stored version if its revision is still prevRevision.
func (s *Store) Put(ctx context.Context, v *procgraph.ProcessVersion, prevRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := v.Key()
	cur, ok := s.versions[key]
	if !ok {
		return fmt.Errorf("memory: put %s: %w", key, procgraph.ErrNotFound)
	}
	if cur.Revision != prevRevision {
		return fmt.Errorf("memory: put %s at revision %d, stored %d: %w", key, prevRevision, cur.Revision, procgraph.ErrConflict)
	}
	s.versions[key] = v.Clone()
	return nil
}

// GetMeta returns the metadata record of a process.
func (s *Store) GetMeta(ctx context.Context, processID string) (*procgraph.ProcessMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meta[processID]
	if !ok {
		return nil, fmt.Errorf("memory: meta %s: %w", processID, procgraph.ErrNotFound)
	}
	return &m, nil
}

// UpdateMeta applies patch to the record, creating it if needed.
func (s *Store) UpdateMeta(ctx context.Context, processID string, patch procgraph.MetaPatch) (*procgraph.ProcessMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := patch.Apply(s.meta[processID])
	m.ProcessID = processID
	m.UpdatedAt = s.now().UTC()
	s.meta[processID] = m
	return &m, nil
}
