package llm

// ============================================================================
// Incremental SSE stream parsing
// ============================================================================
//
// The parser is fed raw chunks as they arrive off the wire and splits them
// into SSE events on blank-line boundaries, so text deltas surface the moment
// they are complete while tool-call input JSON accumulates per content block
// and is only parsed once the block closes.

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/driveline/concierge/internal/session"
)

type ssePayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message struct {
		Usage sseUsage `json:"usage"`
	} `json:"message"`

	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage sseUsage `json:"usage"`

	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type sseUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

type blockState struct {
	kind      string
	toolID    string
	toolName  string
	inputJSON []byte
}

// streamParser assembles a Response from an Anthropic-style event stream.
type streamParser struct {
	buffer     []byte
	blocks     map[int]*blockState
	order      []int
	text       bytes.Buffer
	reasoning  bytes.Buffer
	usage      Usage
	stopReason string
	streamErr  error
	onDelta    func(string)
}

func newStreamParser(bufferSize int, onDelta func(string)) *streamParser {
	return &streamParser{
		buffer:  make([]byte, 0, bufferSize),
		blocks:  make(map[int]*blockState),
		onDelta: onDelta,
	}
}

// Feed consumes one chunk off the wire and processes every complete event
// it closes.
func (p *streamParser) Feed(chunk []byte) {
	p.buffer = append(p.buffer, chunk...)
	for {
		event, rest, ok := nextSSEEvent(p.buffer, false)
		if !ok {
			return
		}
		p.buffer = rest
		p.parseEvent(event)
	}
}

func nextSSEEvent(buf []byte, flush bool) ([]byte, []byte, bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

func (p *streamParser) parseEvent(event []byte) {
	var dataLines [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		dataLines = append(dataLines, payload)
	}
	if len(dataLines) == 0 {
		return
	}

	var payload ssePayload
	if err := json.Unmarshal(bytes.Join(dataLines, []byte("\n")), &payload); err != nil {
		return
	}

	switch payload.Type {
	case "message_start":
		p.applyUsage(payload.Message.Usage)

	case "content_block_start":
		p.blocks[payload.Index] = &blockState{
			kind:     payload.ContentBlock.Type,
			toolID:   payload.ContentBlock.ID,
			toolName: payload.ContentBlock.Name,
		}
		p.order = append(p.order, payload.Index)

	case "content_block_delta":
		block, ok := p.blocks[payload.Index]
		if !ok {
			return
		}
		switch payload.Delta.Type {
		case "text_delta":
			p.text.WriteString(payload.Delta.Text)
			if p.onDelta != nil && payload.Delta.Text != "" {
				p.onDelta(payload.Delta.Text)
			}
		case "input_json_delta":
			block.inputJSON = append(block.inputJSON, payload.Delta.PartialJSON...)
		case "thinking_delta":
			p.reasoning.WriteString(payload.Delta.Thinking)
		}

	case "message_delta":
		if payload.Delta.StopReason != "" {
			p.stopReason = payload.Delta.StopReason
		}
		p.applyUsage(payload.Usage)

	case "error":
		p.streamErr = fmt.Errorf("stream error (%s): %s",
			payload.Error.Type, payload.Error.Message)
	}
}

func (p *streamParser) applyUsage(u sseUsage) {
	if u.InputTokens > 0 {
		p.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > p.usage.OutputTokens {
		p.usage.OutputTokens = u.OutputTokens
	}
	if u.CacheCreationInputTokens > 0 {
		p.usage.CacheWriteTokens = u.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens > 0 {
		p.usage.CacheReadTokens = u.CacheReadInputTokens
	}
}

// Finalize flushes any buffered tail and assembles the response union.
func (p *streamParser) Finalize() (*Response, error) {
	for {
		event, rest, ok := nextSSEEvent(p.buffer, true)
		if !ok {
			break
		}
		p.buffer = rest
		p.parseEvent(event)
	}
	if p.streamErr != nil {
		return nil, p.streamErr
	}

	resp := &Response{
		StopReason: p.stopReason,
		Usage:      p.usage,
	}
	resp.Usage.ReasoningTokens = estimateReasoningTokens(p.reasoning.Len())

	var calls []session.ToolCall
	for _, idx := range p.order {
		block := p.blocks[idx]
		if block.kind != "tool_use" {
			continue
		}
		input := block.inputJSON
		if len(input) == 0 {
			input = []byte("{}")
		}
		if !json.Valid(input) {
			return nil, fmt.Errorf("tool call %s (%s): incomplete input JSON", block.toolID, block.toolName)
		}
		calls = append(calls, session.ToolCall{
			ID:   block.toolID,
			Name: block.toolName,
			Args: json.RawMessage(input),
		})
	}

	if len(calls) > 0 {
		resp.Kind = KindToolUse
		resp.ToolCalls = calls
		resp.Text = p.text.String()
		return resp, nil
	}

	resp.Kind = KindText
	resp.Text = p.text.String()
	return resp, nil
}

// estimateReasoningTokens approximates reasoning tokens from streamed
// thinking text; the API does not report them separately.
func estimateReasoningTokens(chars int) int64 {
	if chars == 0 {
		return 0
	}
	return int64(chars / 4)
}
