package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/budget"
	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/intent"
	"github.com/driveline/concierge/internal/llm"
	"github.com/driveline/concierge/internal/security"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/tools"
)

// Orchestrator owns the live turn loop.
type Orchestrator struct {
	cfg        *config.Provider
	store      session.Store
	inflight   *session.Inflight
	gate       *security.Gate
	accountant *budget.Accountant
	model      llm.Client
	registry   *tools.Registry
	executor   *tools.Executor

	now func() time.Time
}

// New wires the orchestrator.
func New(
	cfg *config.Provider,
	store session.Store,
	gate *security.Gate,
	accountant *budget.Accountant,
	model llm.Client,
	registry *tools.Registry,
	executor *tools.Executor,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		inflight:   session.NewInflight(),
		gate:       gate,
		accountant: accountant,
		model:      model,
		registry:   registry,
		executor:   executor,
		now:        time.Now,
	}
}

// TurnInput is one inbound user message.
type TurnInput struct {
	// SessionID may be empty; a new session is created and its ID is
	// carried on every emitted event.
	SessionID string
	// Identity is the caller identity used for rate limiting and budget
	// ceilings, typically the client IP or an account ID.
	Identity string
	Text     string
	Meta     security.RequestMeta
}

// RunTurn executes one turn and streams its events. The channel is closed
// after the final event. Cancelling ctx stops model and tool dispatch but
// the partial turn accumulated so far is still persisted.
func (o *Orchestrator) RunTurn(ctx context.Context, in TurnInput) <-chan TurnEvent {
	events := make(chan TurnEvent, 16)
	go func() {
		defer close(events)
		o.runTurn(ctx, in, events)
	}()
	return events
}

func (o *Orchestrator) runTurn(ctx context.Context, in TurnInput, events chan<- TurnEvent) {
	decision := o.gate.Admit(in.Identity, in.Text, in.Meta)
	if !decision.Allowed {
		o.emit(ctx, events, TurnEvent{
			Type:      EventError,
			SessionID: in.SessionID,
			ErrKind:   ErrSecurityBlocked,
			Message:   decision.Refusal,
		})
		return
	}

	sess, err := o.loadOrCreate(ctx, in.SessionID)
	if err != nil {
		o.emit(ctx, events, TurnEvent{
			Type:      EventError,
			SessionID: in.SessionID,
			ErrKind:   ErrValidation,
			Message:   "session could not be loaded",
		})
		return
	}

	if sess.State.Terminal() {
		o.emit(ctx, events, TurnEvent{
			Type:      EventError,
			SessionID: sess.ID,
			ErrKind:   ErrSessionClosed,
			Message:   "this conversation is closed",
		})
		return
	}

	if err := o.inflight.Acquire(sess.ID); err != nil {
		o.emit(ctx, events, TurnEvent{
			Type:      EventError,
			SessionID: sess.ID,
			ErrKind:   ErrTurnInFlight,
			Message:   "another message for this conversation is still being processed",
		})
		return
	}
	defer o.inflight.Release(sess.ID)

	// Deterministic extraction before any model call. Slots and selection
	// are merged over what the session already knows.
	sess.Slots = intent.Extract(in.Text, sess.Slots, o.now())
	if id := intent.ExtractSelection(in.Text, sess.Candidates); id != "" {
		sess.SelectedVehicleID = id
	}

	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: in.Text})
	sess.Advance()

	o.loop(ctx, sess, in, events)
}

// loop is the model/tool cycle of one turn.
func (o *Orchestrator) loop(ctx context.Context, sess *session.Session, in TurnInput, events chan<- TurnEvent) {
	snap := o.cfg.Snapshot()
	seenCallIDs := collectCallIDs(sess)

	var streamed strings.Builder
	escalate := needsExtendedReasoning(in.Text, snap.Model.Reasoning)

	for iteration := 0; iteration <= snap.Loop.MaxToolLoops; iteration++ {
		check := o.accountant.Check(sess.ID, in.Identity)
		if !check.Allowed {
			o.finishWithError(ctx, sess, events, streamed.String(),
				ErrBudgetExceeded, "the spending limit for this conversation has been reached")
			return
		}

		req := llm.Request{
			Model:     snap.Model.Name,
			System:    buildSystemPrompt(sess),
			Messages:  buildMessages(sess),
			Tools:     o.registry.Definitions(),
			MaxTokens: snap.Model.MaxTokens,
		}
		if iteration == 0 && escalate {
			req.Thinking = &llm.Thinking{
				Type:         "enabled",
				BudgetTokens: snap.Model.Reasoning.BudgetTokens,
			}
			log.Debug().Str("session_id", sess.ID).Msg("turn: extended reasoning enabled")
		}

		attemptStart := streamed.Len()
		resp, err := o.callModel(ctx, snap.Model, req, func(delta string) {
			streamed.WriteString(delta)
			o.emit(ctx, events, TurnEvent{
				Type:      EventTextDelta,
				SessionID: sess.ID,
				Text:      delta,
			})
		}, func() bool { return streamed.Len() == attemptStart })
		if err != nil {
			o.finishWithError(ctx, sess, events, streamed.String(),
				classifyModelError(err), "the assistant could not respond, please try again")
			log.Error().Err(err).Str("session_id", sess.ID).Msg("turn: model call failed")
			return
		}

		counts := usageToCounts(resp.Usage)
		sess.Tokens.Add(counts)
		sess.Cost += o.accountant.RecordUsage(sess.ID, in.Identity, snap.Model.Name, counts)

		if resp.Kind == llm.KindText {
			sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: resp.Text})
			sess.Advance()
			o.persist(ctx, sess)
			o.emit(ctx, events, TurnEvent{
				Type:      EventTurnComplete,
				SessionID: sess.ID,
				Session:   sess.Clone(),
			})
			return
		}

		calls, err := uniqueCallIDs(resp.ToolCalls, seenCallIDs)
		if err != nil {
			o.finishWithError(ctx, sess, events, streamed.String(),
				ErrValidation, "the assistant produced an invalid tool request")
			return
		}

		sess.AppendTurn(session.Turn{
			Role:      session.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: calls,
		})
		// Text streamed so far now lives on a persisted turn. Reset the
		// buffer so a later failure does not persist it a second time.
		streamed.Reset()
		for i := range calls {
			o.emit(ctx, events, TurnEvent{
				Type:      EventToolCall,
				SessionID: sess.ID,
				Call:      &calls[i],
			})
		}

		results := o.executor.Execute(ctx, calls, sess)
		if ctx.Err() != nil {
			o.persist(context.WithoutCancel(ctx), sess)
			return
		}
		for i := range results {
			o.emit(ctx, events, TurnEvent{
				Type:      EventToolResult,
				SessionID: sess.ID,
				Result:    &results[i],
			})
		}
		sess.AppendTurn(session.Turn{Role: session.RoleTool, ToolResults: results})

		o.applyToolStateChanges(sess, calls, results)
	}

	log.Warn().
		Str("session_id", sess.ID).
		Int("max_loops", snap.Loop.MaxToolLoops).
		Msg("turn: tool loop limit reached")
	o.finishWithError(ctx, sess, events, streamed.String(),
		ErrUpstream, "the assistant could not finish this request")
}

// applyToolStateChanges advances the state machine from tool outcomes.
// Slot and candidate changes were already folded into the session by the
// executor; the transitions derived from them happen here so they stay in
// one place.
func (o *Orchestrator) applyToolStateChanges(sess *session.Session, calls []session.ToolCall, results []session.ToolResult) {
	for i, call := range calls {
		if call.Name != tools.ToolVehicleSearch || results[i].IsError {
			continue
		}
		sess.Advance() // Gathering → Searching once minimum slots landed
		if len(sess.Candidates) == 0 {
			sess.SearchExhausted()
		} else {
			sess.Advance() // Searching → Presenting
		}
	}
	sess.Advance()
}

// callModel invokes the model with a single retry on transient failure.
// A retry only happens when the failed attempt streamed nothing, so the
// caller never sees duplicated text.
func (o *Orchestrator) callModel(
	ctx context.Context,
	cfg config.ModelConfig,
	req llm.Request,
	onDelta func(string),
	cleanAttempt func() bool,
) (*llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.Backoff.D()):
			}
			log.Warn().Err(lastErr).Int("attempt", attempt).Msg("turn: retrying model call")
		}
		resp, err := o.model.Stream(ctx, req, onDelta)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !cleanAttempt() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// finishWithError persists any partial output and emits the final error
// event. The session keeps its pre-turn state plus the partial text.
func (o *Orchestrator) finishWithError(ctx context.Context, sess *session.Session, events chan<- TurnEvent, partial string, kind ErrorKind, message string) {
	if partial != "" {
		sess.AppendTurn(session.Turn{
			Role:    session.RoleAssistant,
			Content: partial,
			Partial: true,
		})
	}
	o.persist(context.WithoutCancel(ctx), sess)
	o.emit(ctx, events, TurnEvent{
		Type:      EventError,
		SessionID: sess.ID,
		ErrKind:   kind,
		Message:   message,
	})
}

func (o *Orchestrator) persist(ctx context.Context, sess *session.Session) {
	if err := o.store.Save(ctx, sess); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("turn: session save failed")
	}
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		sess := session.New(uuid.NewString())
		if err := o.store.Create(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}
	sess, err := o.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		sess = session.New(id)
		if createErr := o.store.Create(ctx, sess); createErr != nil {
			return nil, createErr
		}
		return sess, nil
	}
	return sess, err
}

// ConfirmBooking marks an awaiting-payment session booked. Driven by the
// external payment workflow through the booking endpoint.
func (o *Orchestrator) ConfirmBooking(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := o.inflight.Acquire(sessionID); err != nil {
		return nil, err
	}
	defer o.inflight.Release(sessionID)

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.RequiresReview {
		return nil, fmt.Errorf("booking %s requires manual review", sessionID)
	}
	if !sess.MarkBooked() {
		return nil, fmt.Errorf("session %s is not awaiting payment (state %s)", sessionID, sess.State)
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	log.Info().Str("session_id", sessionID).Msg("booking confirmed")
	return sess, nil
}

// emit delivers an event unless the client is gone.
func (o *Orchestrator) emit(ctx context.Context, events chan<- TurnEvent, ev TurnEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func usageToCounts(u llm.Usage) session.TokenCounts {
	return session.TokenCounts{
		Input:      u.InputTokens,
		Output:     u.OutputTokens,
		CacheRead:  u.CacheReadTokens,
		CacheWrite: u.CacheWriteTokens,
		Reasoning:  u.ReasoningTokens,
	}
}

func collectCallIDs(sess *session.Session) map[string]struct{} {
	seen := make(map[string]struct{})
	for _, turn := range sess.Turns {
		for _, call := range turn.ToolCalls {
			seen[call.ID] = struct{}{}
		}
	}
	return seen
}

// uniqueCallIDs fills in missing call IDs and rejects reuse. A call ID is
// never reused across the session.
func uniqueCallIDs(calls []session.ToolCall, seen map[string]struct{}) ([]session.ToolCall, error) {
	out := make([]session.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		if _, dup := seen[call.ID]; dup {
			return nil, fmt.Errorf("tool call ID %s reused", call.ID)
		}
		seen[call.ID] = struct{}{}
		out[i] = call
	}
	return out, nil
}

func classifyModelError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrModelTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrModelTimeout
	}
	return ErrUpstream
}
