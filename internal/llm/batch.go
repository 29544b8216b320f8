package llm

// ============================================================================
// Message Batches API
// ============================================================================
//
// Batch jobs run outside the live turn loop at reduced cost. Items are keyed
// by caller-chosen custom IDs so resubmission of the same work is idempotent
// on the caller's side.

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/utils"
)

// BatchStatus is the lifecycle of a submitted batch job.
type BatchStatus string

const (
	BatchSubmitted  BatchStatus = "submitted"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCanceled   BatchStatus = "canceled"
)

// BatchItem is one request inside a batch job.
type BatchItem struct {
	CustomID  string
	System    string
	Messages  []Message
	MaxTokens int
}

// BatchResult is one completed item keyed by its custom ID.
type BatchResult struct {
	CustomID string
	Text     string
	Err      string
}

// BatchJob is a submitted job handle plus its last observed status.
type BatchJob struct {
	ID         string
	Status     BatchStatus
	ResultsURL string
}

// BatchClient submits and polls message batch jobs.
type BatchClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewBatchClient creates a batch client from model config, using the batch
// model name when one is set.
func NewBatchClient(cfg config.ModelConfig) *BatchClient {
	model := cfg.BatchName
	if model == "" {
		model = cfg.Name
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIEndpoint
	}
	return &BatchClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.D(),
		},
	}
}

// Submit creates a batch job and returns its handle.
func (c *BatchClient) Submit(ctx context.Context, items []BatchItem) (*BatchJob, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("batch submit requires at least one item")
	}

	type params struct {
		Model     string    `json:"model"`
		MaxTokens int       `json:"max_tokens"`
		System    string    `json:"system,omitempty"`
		Messages  []Message `json:"messages"`
	}
	type request struct {
		CustomID string `json:"custom_id"`
		Params   params `json:"params"`
	}

	reqs := make([]request, 0, len(items))
	for _, item := range items {
		reqs = append(reqs, request{
			CustomID: item.CustomID,
			Params: params{
				Model:     c.model,
				MaxTokens: item.MaxTokens,
				System:    item.System,
				Messages:  item.Messages,
			},
		})
	}

	body, err := utils.MarshalNoEscape(map[string]any{"requests": reqs})
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/messages/batches", body)
	if err != nil {
		return nil, err
	}

	job := &BatchJob{
		ID:     gjson.GetBytes(raw, "id").String(),
		Status: mapBatchStatus(gjson.GetBytes(raw, "processing_status").String()),
	}
	if job.ID == "" {
		return nil, fmt.Errorf("batch submit response missing job id")
	}
	return job, nil
}

// Poll refreshes the job's status in place.
func (c *BatchClient) Poll(ctx context.Context, job *BatchJob) error {
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/messages/batches/"+job.ID, nil)
	if err != nil {
		return err
	}
	job.Status = mapBatchStatus(gjson.GetBytes(raw, "processing_status").String())
	job.ResultsURL = gjson.GetBytes(raw, "results_url").String()
	return nil
}

// Results fetches the completed job's result set, one entry per item.
func (c *BatchClient) Results(ctx context.Context, job *BatchJob) ([]BatchResult, error) {
	if job.Status != BatchCompleted {
		return nil, fmt.Errorf("batch %s is %s, not completed", job.ID, job.Status)
	}
	if job.ResultsURL == "" {
		return nil, fmt.Errorf("batch %s has no results url", job.ID)
	}

	raw, err := c.do(ctx, http.MethodGet, job.ResultsURL, nil)
	if err != nil {
		return nil, err
	}

	// Results arrive as JSON lines, one object per item.
	var results []BatchResult
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, config.DefaultBufferSize), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		r := BatchResult{CustomID: gjson.GetBytes(line, "custom_id").String()}
		switch gjson.GetBytes(line, "result.type").String() {
		case "succeeded":
			var text bytes.Buffer
			gjson.GetBytes(line, "result.message.content").ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					text.WriteString(block.Get("text").String())
				}
				return true
			})
			r.Text = text.String()
		default:
			r.Err = gjson.GetBytes(line, "result.error.message").String()
			if r.Err == "" {
				r.Err = "item did not succeed"
			}
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan batch results: %w", err)
	}
	return results, nil
}

func (c *BatchClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read batch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch endpoint returned status %d: %s",
			resp.StatusCode, utils.Truncate(string(raw), 200))
	}
	return raw, nil
}

func mapBatchStatus(s string) BatchStatus {
	switch s {
	case "in_progress":
		return BatchProcessing
	case "ended":
		return BatchCompleted
	case "canceling", "canceled":
		return BatchCanceled
	case "failed", "errored":
		return BatchFailed
	default:
		return BatchSubmitted
	}
}
