package tools

// ============================================================================
// local_conditions - weather lookup used to bias recommendations
// ============================================================================

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

// WeatherTool fetches local conditions for the rental window so the
// assistant can steer category suggestions (convertible vs. all-wheel).
type WeatherTool struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewWeatherTool creates the local_conditions tool from service config.
func NewWeatherTool(cfg config.ServiceConfig) *WeatherTool {
	return &WeatherTool{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.D(),
		},
	}
}

func (t *WeatherTool) Name() string { return ToolLocalConditions }

func (t *WeatherTool) Definition() Definition {
	return Definition{
		Name:        ToolLocalConditions,
		Description: "Look up weather conditions at the pickup location for the rental dates. Use the result to tailor vehicle recommendations.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {"type": "string", "description": "City to check"},
				"start": {"type": "string", "description": "First date, YYYY-MM-DD"},
				"end": {"type": "string", "description": "Last date, YYYY-MM-DD"}
			}
		}`),
	}
}

type weatherArgs struct {
	Location string `json:"location"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type weatherOutput struct {
	Location  string  `json:"location"`
	Summary   string  `json:"summary"`
	HighTempC float64 `json:"high_temp_c"`
	LowTempC  float64 `json:"low_temp_c"`
	RainRisk  float64 `json:"rain_risk"`
}

func (t *WeatherTool) Invoke(ctx context.Context, args json.RawMessage, sess *session.Session) (string, *StateChange, error) {
	var in weatherArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", nil, err
	}
	if in.Location == "" && sess.Slots.Location != nil {
		in.Location = *sess.Slots.Location
	}
	if in.Location == "" {
		return "", nil, fmt.Errorf("conditions lookup requires a location")
	}
	if sess.Slots.Dates != nil {
		if in.Start == "" {
			in.Start = sess.Slots.Dates.Start
		}
		if in.End == "" {
			in.End = sess.Slots.Dates.End
		}
	}

	params := url.Values{}
	params.Set("location", in.Location)
	if in.Start != "" {
		params.Set("start", in.Start)
	}
	if in.End != "" {
		params.Set("end", in.End)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.endpoint+"/v1/conditions?"+params.Encode(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("build conditions request: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("conditions service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read conditions response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("conditions service returned status %d", resp.StatusCode)
	}

	out := weatherOutput{
		Location:  in.Location,
		Summary:   gjson.GetBytes(raw, "summary").String(),
		HighTempC: gjson.GetBytes(raw, "high_temp_c").Float(),
		LowTempC:  gjson.GetBytes(raw, "low_temp_c").Float(),
		RainRisk:  gjson.GetBytes(raw, "rain_risk").Float(),
	}

	payload, err := utils.MarshalNoEscape(out)
	if err != nil {
		return "", nil, err
	}
	return string(payload), nil, nil
}
