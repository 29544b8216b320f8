// Package session holds the conversation data model and its persistence.
//
// DESIGN: A Session is the single unit of shared mutable state in the
// engine. Turns are append-only and never reordered; cumulative counters
// only increase; state transitions follow the graph in state.go. The
// orchestrator is the single writer per session, enforced by Inflight.
package session

import (
	"encoding/json"
	"time"
)

// Role tags a turn's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured tool-invocation request emitted by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult carries the outcome of one tool call, keyed by the call ID.
// IsError marks adapter failures surfaced to the model in-band.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error,omitempty"`
}

// Turn is one immutable unit of conversation.
// Content may be empty for pure tool-invocation turns. Partial marks an
// assistant turn cut short by client disconnect; it is still persisted so
// the session stays resumable.
type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Partial     bool         `json:"partial,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// DateRange is a pickup/return window. Dates are ISO "2006-01-02".
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Slots is the extracted filter set. Each field is optional and
// independently settable; nil means "not yet provided".
type Slots struct {
	Location     *string    `json:"location,omitempty"`
	Dates        *DateRange `json:"dates,omitempty"`
	Category     *string    `json:"category,omitempty"`
	BudgetPerDay *float64   `json:"budget_per_day,omitempty"`
	// Deposit is the user's deposit preference: true = willing to pay a
	// deposit, false = deposit-free options only.
	Deposit *bool `json:"deposit,omitempty"`
}

// HasMinimum reports whether the mandatory search slots are present.
func (s Slots) HasMinimum() bool {
	return s.Location != nil && s.Dates != nil
}

// VehicleCandidate is a denormalized inventory summary. The candidate list
// is replaced wholesale on each successful search, never partially mutated.
type VehicleCandidate struct {
	ID            string  `json:"id"`
	Make          string  `json:"make"`
	Model         string  `json:"model"`
	Category      string  `json:"category"`
	PricePerDay   float64 `json:"price_per_day"`
	DepositAmount float64 `json:"deposit_amount"`
	Location      string  `json:"location"`
	AvailableFrom string  `json:"available_from"`
	AvailableTo   string  `json:"available_to"`
}

// TokenCounts are cumulative per-session token counters. Monotonic.
type TokenCounts struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
	Reasoning  int64 `json:"reasoning"`
}

// Add accumulates counts. Negative deltas are ignored to keep counters
// monotonic even against a misbehaving provider.
func (t *TokenCounts) Add(d TokenCounts) {
	t.Input += max64(d.Input, 0)
	t.Output += max64(d.Output, 0)
	t.CacheRead += max64(d.CacheRead, 0)
	t.CacheWrite += max64(d.CacheWrite, 0)
	t.Reasoning += max64(d.Reasoning, 0)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Session is one conversation. Created on the first inbound message for an
// unknown session ID; never deleted by this engine (retention is external).
type Session struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	Turns []Turn `json:"turns"`
	Slots Slots  `json:"slots"`

	Candidates        []VehicleCandidate `json:"candidates,omitempty"`
	SelectedVehicleID string             `json:"selected_vehicle_id,omitempty"`
	// RelaxLevel is the fallback ladder level of the last successful
	// search (-1 = no search yet, 0 = strict query matched).
	RelaxLevel int `json:"relax_level"`

	Tokens   TokenCounts `json:"tokens"`
	Cost     float64     `json:"cost"`
	Verified bool        `json:"verified"`

	// RequiresReview is set from the risk tool; gates manual verification.
	RequiresReview bool `json:"requires_review,omitempty"`

	// Summary is written back by batch analytics, never by the turn loop.
	Summary string `json:"summary,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// New creates a fresh session in Init.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		State:          StateInit,
		RelaxLevel:     -1,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// AppendTurn appends one turn and bumps activity. The slice is never
// mutated in place elsewhere.
func (s *Session) AppendTurn(t Turn) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.Turns = append(s.Turns, t)
	s.LastActivityAt = t.CreatedAt
}

// ReplaceCandidates swaps the candidate list wholesale and records the
// ladder level that produced it.
func (s *Session) ReplaceCandidates(candidates []VehicleCandidate, relaxLevel int) {
	s.Candidates = candidates
	s.RelaxLevel = relaxLevel
}

// Clone returns a deep copy, used by stores to keep callers from aliasing
// store-owned state.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		tc := t
		tc.ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
		tc.ToolResults = append([]ToolResult(nil), t.ToolResults...)
		cp.Turns[i] = tc
	}
	cp.Candidates = append([]VehicleCandidate(nil), s.Candidates...)
	cp.Slots = s.Slots.clone()
	return &cp
}

func (sl Slots) clone() Slots {
	cp := sl
	if sl.Location != nil {
		v := *sl.Location
		cp.Location = &v
	}
	if sl.Dates != nil {
		v := *sl.Dates
		cp.Dates = &v
	}
	if sl.Category != nil {
		v := *sl.Category
		cp.Category = &v
	}
	if sl.BudgetPerDay != nil {
		v := *sl.BudgetPerDay
		cp.BudgetPerDay = &v
	}
	if sl.Deposit != nil {
		v := *sl.Deposit
		cp.Deposit = &v
	}
	return cp
}
