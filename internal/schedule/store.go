package schedule

import (
	"sync"

	"agendalive/internal/model"
)

// Store holds the loaded schedule. The collection is immutable once loaded
// and is only ever replaced as a whole.
type Store struct {
	mu      sync.RWMutex
	entries []model.ScheduleEntry
	version uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// ReplaceAll swaps in a copy of entries.
func (s *Store) ReplaceAll(entries []model.ScheduleEntry) {
	cp := make([]model.ScheduleEntry, len(entries))
	copy(cp, entries)

	s.mu.Lock()
	s.entries = cp
	s.version++
	s.mu.Unlock()
}

// Entries returns the current collection. Callers must not modify it.
func (s *Store) Entries() []model.ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Version increments on every ReplaceAll.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
