// Package tools implements the capability registry and its adapters.
//
// DESIGN: Every capability the model can invoke is a Tool registered by
// name. Dispatch is a map lookup, never a conditional ladder, so a
// declared tool has exactly one handler or registration fails. Adapters
// are pure: arguments and a read-only session snapshot in, result or
// structured error out. Session mutation only happens through the
// returned StateChange, which the executor applies once all concurrent
// siblings have finished.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/driveline/concierge/internal/session"
)

// Tool names.
const (
	ToolVehicleSearch   = "vehicle_search"
	ToolRiskAssess      = "risk_assess"
	ToolLocalConditions = "local_conditions"
	ToolPriceQuote      = "price_quote"
)

// Tool is one named capability the model may invoke.
type Tool interface {
	// Name returns the registry key for this tool.
	Name() string

	// Definition returns the schema advertised to the model.
	Definition() Definition

	// Invoke runs the tool against a session snapshot. The snapshot is
	// shared with concurrently running siblings and must not be written;
	// mutations travel in the returned StateChange. A returned error is
	// converted into a structured error result by the executor, never
	// propagated raw.
	Invoke(ctx context.Context, args json.RawMessage, sess *session.Session) (string, *StateChange, error)
}

// StateChange is the session mutation produced by one tool call. Zero-value
// fields are left untouched when the change is applied.
type StateChange struct {
	// Slots replaces the slot set wholesale when non-nil.
	Slots *session.Slots
	// RelaxLevel non-nil replaces the candidate list (possibly with an
	// empty one, on an exhausted search) at the given ladder level.
	RelaxLevel        *int
	Candidates        []session.VehicleCandidate
	SelectedVehicleID string
	Verified          bool
	RequiresReview    bool
}

// Apply folds the change into the live session. Nil changes are no-ops.
func (c *StateChange) Apply(sess *session.Session) {
	if c == nil {
		return
	}
	if c.Slots != nil {
		sess.Slots = *c.Slots
	}
	if c.RelaxLevel != nil {
		sess.ReplaceCandidates(c.Candidates, *c.RelaxLevel)
	}
	if c.SelectedVehicleID != "" {
		sess.SelectedVehicleID = c.SelectedVehicleID
	}
	if c.Verified {
		sess.Verified = true
	}
	if c.RequiresReview {
		sess.RequiresReview = true
	}
}

// Definition is the tool schema as advertised to the model.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Registry maps tool names to their adapters.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
// Duplicate names are a programming error and panic at startup.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; exists {
			panic(fmt.Sprintf("tools: duplicate registration for %q", t.Name()))
		}
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all tool schemas in stable name order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
