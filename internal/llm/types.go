// Package llm holds the model provider clients.
//
// DESIGN: The orchestrator speaks one Client interface; behind it sit the
// direct Anthropic-style Messages API and the Bedrock variant of the same
// wire format with SigV4 signing swapped in for the API key. Model output
// is surfaced as a tagged union: a response is either plain text or a set
// of tool calls, decided by stop reason, and anything malformed is an
// error at this boundary rather than a silent coercion.
package llm

import (
	"context"
	"encoding/json"

	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/tools"
)

// ResponseKind discriminates the model response union.
type ResponseKind string

const (
	// KindText is a plain assistant text response; the turn loop ends.
	KindText ResponseKind = "text"
	// KindToolUse is a response requesting one or more tool invocations.
	KindToolUse ResponseKind = "tool_use"
)

// Role is a message author on the model wire.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one block inside a wire message.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is one wire message.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Thinking enables extended reasoning with a token budget.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// Request is a single model invocation.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []tools.Definition
	MaxTokens int
	Thinking  *Thinking
}

// Usage is the token accounting returned by one model call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	ReasoningTokens  int64
}

// Response is the fully-assembled outcome of one model call.
// Exactly one of Text / ToolCalls is meaningful, selected by Kind.
type Response struct {
	Kind       ResponseKind
	Text       string
	ToolCalls  []session.ToolCall
	StopReason string
	Usage      Usage
}

// Client is the model invocation boundary.
type Client interface {
	// Stream runs one model call, invoking onDelta for each text fragment
	// as it arrives. Tool-call input JSON is buffered internally and only
	// surfaces in the returned Response once complete and parseable.
	Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error)
}
