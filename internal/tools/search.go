package tools

// ============================================================================
// vehicle_search - ladder-driven inventory search
// ============================================================================
//
// Builds the query ladder from the session's slots (optionally overridden by
// tool arguments), then climbs it rung by rung against the inventory index,
// stopping at the first rung with at least one candidate. The winning rung
// travels back in the state change so the assistant can tell the user which
// constraint was relaxed.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driveline/concierge/internal/intent"
	"github.com/driveline/concierge/internal/inventory"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

// SearchTool wraps the inventory index behind the fallback ladder.
type SearchTool struct {
	index inventory.Searcher
}

// NewSearchTool creates the vehicle_search tool.
func NewSearchTool(index inventory.Searcher) *SearchTool {
	return &SearchTool{index: index}
}

func (t *SearchTool) Name() string { return ToolVehicleSearch }

func (t *SearchTool) Definition() Definition {
	return Definition{
		Name:        ToolVehicleSearch,
		Description: "Search the rental inventory for vehicles matching the renter's constraints. Relaxes constraints automatically when nothing matches.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {"type": "string", "description": "Pickup city"},
				"start": {"type": "string", "description": "Pickup date, YYYY-MM-DD"},
				"end": {"type": "string", "description": "Return date, YYYY-MM-DD"},
				"category": {"type": "string", "description": "Vehicle category, e.g. suv, sedan"},
				"max_price_per_day": {"type": "number", "description": "Daily budget ceiling in dollars"}
			}
		}`),
	}
}

type searchArgs struct {
	Location       string  `json:"location"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	Category       string  `json:"category"`
	MaxPricePerDay float64 `json:"max_price_per_day"`
}

type searchOutput struct {
	Candidates []session.VehicleCandidate `json:"candidates"`
	RelaxLevel int                        `json:"relax_level"`
	Relaxed    []string                   `json:"relaxed,omitempty"`
	Exhausted  bool                       `json:"exhausted,omitempty"`
}

func (t *SearchTool) Invoke(ctx context.Context, args json.RawMessage, sess *session.Session) (string, *StateChange, error) {
	var in searchArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", nil, err
	}

	slots := mergeSearchArgs(sess.Slots, in)
	if !slots.HasMinimum() {
		return "", nil, fmt.Errorf("vehicle search requires a location and a date range")
	}

	ladder := intent.BuildLadder(slots)
	for level, q := range ladder {
		candidates, err := t.index.Search(ctx, q)
		if err != nil {
			return "", nil, fmt.Errorf("inventory level %d: %w", level, err)
		}
		if len(candidates) == 0 {
			continue
		}

		won := level
		payload, err := utils.MarshalNoEscape(searchOutput{
			Candidates: candidates,
			RelaxLevel: level,
			Relaxed:    relaxedDimensions(ladder[0], q),
		})
		if err != nil {
			return "", nil, err
		}
		return string(payload), &StateChange{
			Slots:      &slots,
			RelaxLevel: &won,
			Candidates: candidates,
		}, nil
	}

	// Every rung came back empty. Record the exhausted search so the
	// state machine can fall back to gathering.
	last := len(ladder) - 1
	payload, err := utils.MarshalNoEscape(searchOutput{
		Candidates: []session.VehicleCandidate{},
		RelaxLevel: last,
		Exhausted:  true,
	})
	if err != nil {
		return "", nil, err
	}
	return string(payload), &StateChange{Slots: &slots, RelaxLevel: &last}, nil
}

// mergeSearchArgs overlays explicit tool arguments on the session slots.
func mergeSearchArgs(base session.Slots, in searchArgs) session.Slots {
	if in.Location != "" {
		base.Location = &in.Location
	}
	if in.Start != "" && in.End != "" {
		base.Dates = &session.DateRange{Start: in.Start, End: in.End}
	}
	if in.Category != "" {
		base.Category = &in.Category
	}
	if in.MaxPricePerDay > 0 {
		base.BudgetPerDay = &in.MaxPricePerDay
	}
	return base
}

// relaxedDimensions names the constraints dropped between the full query
// and the winning rung.
func relaxedDimensions(full, won intent.Query) []string {
	var relaxed []string
	if full.MaxPricePerDay > 0 && won.MaxPricePerDay == 0 {
		relaxed = append(relaxed, "price")
	}
	if full.Category != "" && won.Category == "" {
		relaxed = append(relaxed, "category")
	}
	if won.RadiusKm > full.RadiusKm {
		relaxed = append(relaxed, "radius")
	}
	if won.DateFlexDays > full.DateFlexDays {
		relaxed = append(relaxed, "dates")
	}
	return relaxed
}
