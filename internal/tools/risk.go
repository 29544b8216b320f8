package tools

// ============================================================================
// risk_assess - external risk service delegate
// ============================================================================

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

// RiskTool delegates renter risk scoring to the external risk service; the
// review flag reaches the session through the returned state change.
type RiskTool struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewRiskTool creates the risk_assess tool from service config.
func NewRiskTool(cfg config.ServiceConfig) *RiskTool {
	return &RiskTool{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.D(),
		},
	}
}

func (t *RiskTool) Name() string { return ToolRiskAssess }

func (t *RiskTool) Definition() Definition {
	return Definition{
		Name:        ToolRiskAssess,
		Description: "Assess the risk of this rental before booking. Returns a risk tier and whether the booking needs manual review. Must be called when the renter asks to waive the deposit.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"vehicle_id": {"type": "string", "description": "Selected vehicle identifier"},
				"deposit_waived": {"type": "boolean", "description": "Whether the renter asked to skip the deposit"}
			}
		}`),
	}
}

type riskArgs struct {
	VehicleID     string `json:"vehicle_id"`
	DepositWaived bool   `json:"deposit_waived"`
}

type riskOutput struct {
	Tier           string `json:"tier"`
	RequiresReview bool   `json:"requires_review"`
}

func (t *RiskTool) Invoke(ctx context.Context, args json.RawMessage, sess *session.Session) (string, *StateChange, error) {
	var in riskArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", nil, err
	}
	if in.VehicleID == "" {
		in.VehicleID = sess.SelectedVehicleID
	}
	if in.VehicleID == "" {
		return "", nil, fmt.Errorf("risk assessment requires a selected vehicle")
	}

	reqBody, err := utils.MarshalNoEscape(map[string]any{
		"session_id":     sess.ID,
		"vehicle_id":     in.VehicleID,
		"deposit_waived": in.DepositWaived,
	})
	if err != nil {
		return "", nil, fmt.Errorf("encode risk request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.endpoint+"/v1/assess", bytes.NewReader(reqBody))
	if err != nil {
		return "", nil, fmt.Errorf("build risk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("risk service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read risk response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("risk service returned status %d", resp.StatusCode)
	}

	out := riskOutput{
		Tier:           gjson.GetBytes(raw, "tier").String(),
		RequiresReview: gjson.GetBytes(raw, "requires_review").Bool(),
	}
	if out.Tier == "" {
		return "", nil, fmt.Errorf("risk service response missing tier")
	}

	payload, err := utils.MarshalNoEscape(out)
	if err != nil {
		return "", nil, err
	}
	return string(payload), &StateChange{
		Verified:       true,
		RequiresReview: out.RequiresReview,
	}, nil
}
