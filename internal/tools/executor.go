package tools

// ============================================================================
// Concurrent tool execution
// ============================================================================
//
// Calls requested in one assistant turn run concurrently on a bounded worker
// pool. Results come back indexed by their position in the request list, so
// call-identifier order is preserved no matter which tool finishes first. A
// failing tool yields an error result in its slot; it never aborts siblings.
//
// Workers share a single read-only session snapshot. The live session is
// only written after the pool drains, by applying each call's StateChange
// sequentially in call order, so concurrent siblings never race on it.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

// Executor runs tool calls against a registry.
type Executor struct {
	registry *Registry
	workers  int
	timeout  time.Duration
}

// NewExecutor creates an executor. workers < 1 is clamped to 1.
func NewExecutor(registry *Registry, workers int, timeout time.Duration) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{registry: registry, workers: workers, timeout: timeout}
}

type indexedResult struct {
	index  int
	result session.ToolResult
	change *StateChange
}

// Execute runs all calls and returns results in call order.
// The returned slice always has one entry per call. State changes from
// successful calls are applied to sess before Execute returns.
func (e *Executor) Execute(ctx context.Context, calls []session.ToolCall, sess *session.Session) []session.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	snapshot := sess.Clone()
	jobs := make(chan int)
	out := make(chan indexedResult, len(calls))

	workers := e.workers
	if workers > len(calls) {
		workers = len(calls)
	}
	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				result, change := e.runOne(ctx, calls[i], snapshot)
				out <- indexedResult{index: i, result: result, change: change}
			}
		}()
	}

	go func() {
		for i := range calls {
			jobs <- i
		}
		close(jobs)
	}()

	results := make([]session.ToolResult, len(calls))
	changes := make([]*StateChange, len(calls))
	for range calls {
		r := <-out
		results[r.index] = r.result
		changes[r.index] = r.change
	}
	for _, change := range changes {
		change.Apply(sess)
	}
	return results
}

func (e *Executor) runOne(ctx context.Context, call session.ToolCall, snapshot *session.Session) (session.ToolResult, *StateChange) {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		log.Warn().Str("tool", call.Name).Msg("executor: unknown tool requested")
		return errorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name)), nil
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	started := time.Now()
	content, change, err := tool.Invoke(callCtx, call.Args, snapshot)
	elapsed := time.Since(started)

	if err != nil {
		log.Warn().
			Str("tool", call.Name).
			Str("call_id", call.ID).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("executor: tool failed")
		return errorResult(call.ID, err.Error()), nil
	}

	log.Debug().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Dur("elapsed", elapsed).
		Msg("executor: tool completed")
	return session.ToolResult{CallID: call.ID, Content: json.RawMessage(content)}, change
}

// errorResult packages a failure as an in-band result the model can react to.
func errorResult(callID, message string) session.ToolResult {
	payload, _ := utils.MarshalNoEscape(map[string]string{"error": message})
	return session.ToolResult{CallID: callID, Content: json.RawMessage(payload), IsError: true}
}

// decodeArgs unmarshals tool arguments, tolerating an empty payload.
func decodeArgs(args json.RawMessage, dst any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}
	return nil
}
