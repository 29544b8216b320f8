package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Store errors.
var (
	// ErrNotFound is returned when no session exists for an ID.
	ErrNotFound = errors.New("session not found")
	// ErrTurnInFlight is returned when a second turn is attempted while
	// one is already running for the same session.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
)

// Store persists sessions. Implementations must make Save(s) followed by
// Get(s.ID) round-trip every field, including turn order.
type Store interface {
	// Get loads a session. Returns ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Session, error)
	// Create persists a fresh session for an unknown ID.
	Create(ctx context.Context, s *Session) error
	// Save upserts the session row and appends any new turns. Persisted
	// turns are never rewritten: only turns past the stored count are
	// inserted.
	Save(ctx context.Context, s *Session) error
	// ListByState returns sessions currently in any of the given states.
	ListByState(ctx context.Context, states ...State) ([]*Session, error)
	// ListIdle returns non-terminal sessions with no activity since the cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*Session, error)
	// SetSummary records a batch-analytics summary for a session.
	SetSummary(ctx context.Context, id, summary string) error
	// MarkAbandoned transitions a session to Abandoned (inactivity hook).
	MarkAbandoned(ctx context.Context, id string) error
	// Close releases store resources.
	Close() error
}

// Inflight enforces one in-flight turn per session. A second concurrent
// request for the same session is rejected, never interleaved, preserving
// the turn append ordering invariant.
type Inflight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInflight creates the per-session turn lock registry.
func NewInflight() *Inflight {
	return &Inflight{active: make(map[string]struct{})}
}

// Acquire claims the turn slot for a session. Returns ErrTurnInFlight if
// another turn holds it.
func (f *Inflight) Acquire(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.active[sessionID]; busy {
		return ErrTurnInFlight
	}
	f.active[sessionID] = struct{}{}
	return nil
}

// Release frees the turn slot.
func (f *Inflight) Release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, sessionID)
}
