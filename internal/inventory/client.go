// Package inventory provides a client for the vehicle search index.
//
// DESIGN: The index itself is an external collaborator; this client is the
// whole interface boundary. One POST per query, gjson to read the result
// set, no retries. Ladder climbing above this layer decides what to do
// with an empty result.
package inventory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/intent"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

// Searcher is the interface the search tool depends on.
type Searcher interface {
	Search(ctx context.Context, q intent.Query) ([]session.VehicleCandidate, error)
}

// Client talks to the inventory search index over HTTP.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an inventory client from service config.
func NewClient(cfg config.ServiceConfig, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.D(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs one query against the index and returns its candidates.
// An empty result is not an error.
func (c *Client) Search(ctx context.Context, q intent.Query) ([]session.VehicleCandidate, error) {
	body, err := utils.MarshalNoEscape(q)
	if err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/vehicles/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inventory search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inventory search returned status %d", resp.StatusCode)
	}

	results := gjson.GetBytes(raw, "results")
	if !results.Exists() {
		return nil, fmt.Errorf("inventory search response missing results")
	}

	var candidates []session.VehicleCandidate
	results.ForEach(func(_, v gjson.Result) bool {
		candidates = append(candidates, session.VehicleCandidate{
			ID:            v.Get("id").String(),
			Make:          v.Get("make").String(),
			Model:         v.Get("model").String(),
			Category:      v.Get("category").String(),
			PricePerDay:   v.Get("price_per_day").Float(),
			DepositAmount: v.Get("deposit_amount").Float(),
			Location:      v.Get("location").String(),
			AvailableFrom: v.Get("available_from").String(),
			AvailableTo:   v.Get("available_to").String(),
		})
		return true
	})
	return candidates, nil
}
