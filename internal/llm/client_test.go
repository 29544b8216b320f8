package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/driveline/concierge/internal/config"
)

func streamBody(events ...string) string {
	var out string
	for _, e := range events {
		out += e + "\n\n"
	}
	return out
}

func newDirectClient(t *testing.T, baseURL string) *AnthropicClient {
	t.Helper()
	c, err := New(context.Background(), config.ModelConfig{
		Provider: "anthropic",
		APIKey:   "sk-test",
		BaseURL:  baseURL,
	})
	require.NoError(t, err)
	return c
}

func TestStream_EndToEnd(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, streamBody(
			`event: message_start`+"\n"+`data: {"type":"message_start","message":{"usage":{"input_tokens":42}}}`,
			`event: content_block_start`+"\n"+`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`event: content_block_delta`+"\n"+`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Sounds good."}}`,
			`event: message_delta`+"\n"+`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`,
		))
	}))
	defer srv.Close()

	c := newDirectClient(t, srv.URL)
	var deltas []string
	resp, err := c.Stream(context.Background(), Request{
		Model:     "claude-sonnet-4-5",
		System:    "be brief",
		MaxTokens: 256,
		Messages: []Message{{
			Role:    RoleUser,
			Content: []ContentBlock{{Type: "text", Text: "hello"}},
		}},
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, KindText, resp.Kind)
	assert.Equal(t, "Sounds good.", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int64(42), resp.Usage.InputTokens)
	assert.Equal(t, int64(7), resp.Usage.OutputTokens)
	assert.Equal(t, []string{"Sounds good."}, deltas)

	assert.Equal(t, "sk-test", gotHeader.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, gotHeader.Get("anthropic-version"))
	assert.Equal(t, "text/event-stream", gotHeader.Get("Accept"))

	assert.Equal(t, "claude-sonnet-4-5", gjson.GetBytes(gotBody, "model").String())
	assert.True(t, gjson.GetBytes(gotBody, "stream").Bool())
	assert.Equal(t, "be brief", gjson.GetBytes(gotBody, "system").String())
	assert.False(t, gjson.GetBytes(gotBody, "thinking").Exists())
}

func TestStream_ThinkingOnWire(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, streamBody(
			`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}`,
		))
	}))
	defer srv.Close()

	c := newDirectClient(t, srv.URL)
	_, err := c.Stream(context.Background(), Request{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 256,
		Thinking:  &Thinking{Type: "enabled", BudgetTokens: 4096},
	}, func(string) {})
	require.NoError(t, err)

	assert.Equal(t, "enabled", gjson.GetBytes(gotBody, "thinking.type").String())
	assert.Equal(t, int64(4096), gjson.GetBytes(gotBody, "thinking.budget_tokens").Int())
}

func TestStream_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newDirectClient(t, srv.URL)
	_, err := c.Stream(context.Background(), Request{Model: "m", MaxTokens: 1}, func(string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "overloaded")
}

func TestBedrockBody_Rewrite(t *testing.T) {
	in := []byte(`{"model":"claude-sonnet-4-5","max_tokens":256,"stream":true,"messages":[]}`)
	out, err := bedrockBody(in)
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(out, "model").Exists())
	assert.False(t, gjson.GetBytes(out, "stream").Exists())
	assert.Equal(t, "bedrock-"+anthropicVersion, gjson.GetBytes(out, "anthropic_version").String())
	assert.Equal(t, int64(256), gjson.GetBytes(out, "max_tokens").Int())
}

func TestNew_RequiresAPIKeyForDirectProvider(t *testing.T) {
	_, err := New(context.Background(), config.ModelConfig{Provider: "anthropic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.ModelConfig{Provider: "azure"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model provider")
}
