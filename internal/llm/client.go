package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/tools"
	"github.com/driveline/concierge/internal/utils"
)

const (
	anthropicVersion   = "2023-06-01"
	defaultAPIEndpoint = "https://api.anthropic.com"
)

// AnthropicClient speaks the Messages API, either directly with an API key
// or against Bedrock with SigV4 signing swapped in.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	signer     *BedrockSigner
}

// New creates a model client from config. For the bedrock provider the
// ambient AWS credential chain must resolve; for anthropic an API key is
// required.
func New(ctx context.Context, cfg config.ModelConfig) (*AnthropicClient, error) {
	c := &AnthropicClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.D(),
		},
	}
	if c.baseURL == "" {
		c.baseURL = defaultAPIEndpoint
	}

	switch cfg.Provider {
	case "anthropic", "":
		if c.apiKey == "" {
			return nil, fmt.Errorf("model provider %q requires an API key", cfg.Provider)
		}
	case "bedrock":
		signer, err := NewBedrockSigner(ctx, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("init bedrock signing: %w", err)
		}
		c.signer = signer
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	return c, nil
}

type wireRequest struct {
	Model     string             `json:"model,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []Message          `json:"messages"`
	Tools     []tools.Definition `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
	Thinking  *Thinking          `json:"thinking,omitempty"`
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	wire := wireRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
		Stream:    true,
		Thinking:  req.Thinking,
	}

	body, err := utils.MarshalNoEscape(wire)
	if err != nil {
		return nil, fmt.Errorf("encode model request: %w", err)
	}
	if c.signer != nil {
		if body, err = bedrockBody(body); err != nil {
			return nil, err
		}
	}

	httpReq, err := c.buildRequest(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model returned status %d: %s",
			resp.StatusCode, utils.Truncate(string(errBody), 200))
	}

	parser := newStreamParser(config.DefaultBufferSize, onDelta)
	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read model stream: %w", readErr)
		}
	}
	return parser.Finalize()
}

// bedrockBody rewrites a direct-API payload for Bedrock: the model moves
// to the URL, the stream flag is implied by the endpoint, and the API
// version rides in the body.
func bedrockBody(body []byte) ([]byte, error) {
	body, err := sjson.DeleteBytes(body, "model")
	if err == nil {
		body, err = sjson.DeleteBytes(body, "stream")
	}
	if err == nil {
		body, err = sjson.SetBytes(body, "anthropic_version", "bedrock-"+anthropicVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("rewrite request for bedrock: %w", err)
	}
	return body, nil
}

func (c *AnthropicClient) buildRequest(ctx context.Context, model string, body []byte) (*http.Request, error) {
	targetURL := c.baseURL + "/v1/messages"
	if c.signer != nil && c.signer.IsConfigured() {
		targetURL = c.signer.BuildTargetURL(model, true)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	if c.signer != nil && c.signer.IsConfigured() {
		if err := c.signer.SignRequest(ctx, httpReq, body); err != nil {
			return nil, fmt.Errorf("sign model request: %w", err)
		}
		return httpReq, nil
	}

	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}
