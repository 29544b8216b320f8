// Package orchestrator drives the conversation turn loop.
//
// DESIGN: RunTurn is the only entry point for live traffic. It owns the
// admission, budget, intent, model, and tool phases of a turn and emits a
// typed event stream the transports relay verbatim. Every failure mode maps
// to one ErrorKind; no upstream payload or stack detail crosses the stream
// boundary.
package orchestrator

import "github.com/driveline/concierge/internal/session"

// EventType discriminates turn stream events.
type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventTurnComplete EventType = "turn_complete"
	EventError        EventType = "error"
)

// ErrorKind is the error taxonomy surfaced to callers.
type ErrorKind string

const (
	// ErrSecurityBlocked covers rate limiting, abuse heuristics, and unsafe
	// input. Never retried; the message is a fixed refusal.
	ErrSecurityBlocked ErrorKind = "security_blocked"
	// ErrModelTimeout is a model call deadline, surfaced after one retry.
	ErrModelTimeout ErrorKind = "model_timeout"
	// ErrUpstream is a non-timeout provider failure, surfaced after one retry.
	ErrUpstream ErrorKind = "upstream_error"
	// ErrValidation is malformed session, slot, or model output data.
	// Fatal to the turn, not the session.
	ErrValidation ErrorKind = "validation_failed"
	// ErrBudgetExceeded means a cost ceiling was hit before the model call.
	ErrBudgetExceeded ErrorKind = "budget_exceeded"
	// ErrTurnInFlight means another turn holds this session's write lock.
	ErrTurnInFlight ErrorKind = "turn_in_flight"
	// ErrSessionClosed means the session is in a terminal state.
	ErrSessionClosed ErrorKind = "session_closed"
)

// TurnEvent is one element of the turn stream. Exactly the fields implied
// by Type are set.
type TurnEvent struct {
	Type EventType `json:"type"`

	// SessionID is set on every event so new sessions learn their ID from
	// the first event.
	SessionID string `json:"session_id,omitempty"`

	// text_delta
	Text string `json:"text,omitempty"`

	// tool_call / tool_result
	Call   *session.ToolCall   `json:"call,omitempty"`
	Result *session.ToolResult `json:"result,omitempty"`

	// turn_complete
	Session *session.Session `json:"session,omitempty"`

	// error
	ErrKind ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}
