package tools

// ============================================================================
// price_quote - local pricing computation for a selected vehicle
// ============================================================================

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

const (
	serviceFeeRate = 0.10
	taxRate        = 0.083
)

// QuoteTool computes a full price breakdown for a candidate over the
// session's date range. Pure computation, no external calls.
type QuoteTool struct{}

// NewQuoteTool creates the price_quote tool.
func NewQuoteTool() *QuoteTool { return &QuoteTool{} }

func (t *QuoteTool) Name() string { return ToolPriceQuote }

func (t *QuoteTool) Definition() Definition {
	return Definition{
		Name:        ToolPriceQuote,
		Description: "Compute the full price breakdown (daily rate, fees, taxes, deposit) for a candidate vehicle over the rental dates.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"vehicle_id": {"type": "string", "description": "Candidate vehicle identifier"}
			},
			"required": ["vehicle_id"]
		}`),
	}
}

type quoteArgs struct {
	VehicleID string `json:"vehicle_id"`
}

type quoteOutput struct {
	VehicleID  string  `json:"vehicle_id"`
	Days       int     `json:"days"`
	DailyRate  float64 `json:"daily_rate"`
	Subtotal   float64 `json:"subtotal"`
	ServiceFee float64 `json:"service_fee"`
	Tax        float64 `json:"tax"`
	Total      float64 `json:"total"`
	Deposit    float64 `json:"deposit"`
}

func (t *QuoteTool) Invoke(ctx context.Context, args json.RawMessage, sess *session.Session) (string, *StateChange, error) {
	var in quoteArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", nil, err
	}
	if in.VehicleID == "" {
		in.VehicleID = sess.SelectedVehicleID
	}
	if in.VehicleID == "" {
		return "", nil, fmt.Errorf("quote requires a vehicle identifier")
	}
	if sess.Slots.Dates == nil {
		return "", nil, fmt.Errorf("quote requires rental dates")
	}

	var candidate *session.VehicleCandidate
	for i := range sess.Candidates {
		if sess.Candidates[i].ID == in.VehicleID {
			candidate = &sess.Candidates[i]
			break
		}
	}
	if candidate == nil {
		return "", nil, fmt.Errorf("vehicle %q is not among the current candidates", in.VehicleID)
	}

	days, err := rentalDays(sess.Slots.Dates.Start, sess.Slots.Dates.End)
	if err != nil {
		return "", nil, err
	}

	subtotal := candidate.PricePerDay * float64(days)
	fee := roundCents(subtotal * serviceFeeRate)
	tax := roundCents((subtotal + fee) * taxRate)

	out := quoteOutput{
		VehicleID:  candidate.ID,
		Days:       days,
		DailyRate:  candidate.PricePerDay,
		Subtotal:   roundCents(subtotal),
		ServiceFee: fee,
		Tax:        tax,
		Total:      roundCents(subtotal + fee + tax),
		Deposit:    candidate.DepositAmount,
	}

	payload, err := utils.MarshalNoEscape(out)
	if err != nil {
		return "", nil, err
	}
	// Quoting a vehicle records it as the renter's working selection.
	return string(payload), &StateChange{SelectedVehicleID: candidate.ID}, nil
}

// rentalDays counts whole days between two ISO dates, minimum one.
func rentalDays(start, end string) (int, error) {
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return 0, fmt.Errorf("parse start date: %w", err)
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return 0, fmt.Errorf("parse end date: %w", err)
	}
	days := int(to.Sub(from).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
