package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used by tests and single-node dev
// runs. All reads and writes deep-copy so callers never alias store state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Save implements Store. Turns already persisted are kept as-is; only
// turns past the stored count are appended.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[s.ID]
	if !ok {
		m.sessions[s.ID] = s.Clone()
		return nil
	}
	if len(s.Turns) < len(stored.Turns) {
		return fmt.Errorf("session %s: refusing to truncate turn list (%d < %d)",
			s.ID, len(s.Turns), len(stored.Turns))
	}
	next := s.Clone()
	// Keep previously persisted turns byte-identical: append-only.
	copy(next.Turns, stored.Turns)
	m.sessions[s.ID] = next
	return nil
}

// ListByState implements Store.
func (m *MemoryStore) ListByState(_ context.Context, states ...State) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		for _, st := range states {
			if s.State == st {
				out = append(out, s.Clone())
				break
			}
		}
	}
	return out, nil
}

// ListIdle implements Store.
func (m *MemoryStore) ListIdle(_ context.Context, cutoff time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if !s.State.Terminal() && s.LastActivityAt.Before(cutoff) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// SetSummary implements Store.
func (m *MemoryStore) SetSummary(_ context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Summary = summary
	return nil
}

// MarkAbandoned implements Store.
func (m *MemoryStore) MarkAbandoned(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.MarkAbandoned()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
