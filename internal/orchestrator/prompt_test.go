package orchestrator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/llm"
	"github.com/driveline/concierge/internal/session"
)

func TestBuildSystemPrompt_ReflectsSessionContext(t *testing.T) {
	loc := "Denver"
	cat := "suv"
	budget := 80.0
	noDeposit := false

	sess := session.New("p1")
	sess.State = session.StatePresenting
	sess.Slots = session.Slots{
		Location:     &loc,
		Dates:        &session.DateRange{Start: "2026-09-04", End: "2026-09-07"},
		Category:     &cat,
		BudgetPerDay: &budget,
		Deposit:      &noDeposit,
	}
	sess.ReplaceCandidates([]session.VehicleCandidate{
		{ID: "v-9", Make: "Subaru", Model: "Outback", Category: "suv", PricePerDay: 72, DepositAmount: 250},
	}, 1)
	sess.SelectedVehicleID = "v-9"
	sess.RequiresReview = true

	got := buildSystemPrompt(sess)
	assert.Contains(t, got, "Conversation stage: presenting")
	assert.Contains(t, got, "location: Denver")
	assert.Contains(t, got, "dates: 2026-09-04 to 2026-09-07")
	assert.Contains(t, got, "budget: $80/day")
	assert.Contains(t, got, "deposit: wants deposit-free")
	assert.Contains(t, got, "relax level 1")
	assert.Contains(t, got, "1. [v-9] Subaru Outback")
	assert.Contains(t, got, "Selected vehicle: v-9")
	assert.Contains(t, got, "manual review")
}

func TestBuildSystemPrompt_EmptySession(t *testing.T) {
	got := buildSystemPrompt(session.New("p2"))
	assert.Contains(t, got, "none yet")
	assert.NotContains(t, got, "Current candidates")
	assert.NotContains(t, got, "Selected vehicle")
}

func TestBuildMessages_ToolConversationShape(t *testing.T) {
	sess := session.New("m1")
	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: "find me a van"})
	sess.AppendTurn(session.Turn{
		Role:      session.RoleAssistant,
		ToolCalls: []session.ToolCall{{ID: "c1", Name: "vehicle_search", Args: json.RawMessage(`{"location":"Austin"}`)}},
	})
	sess.AppendTurn(session.Turn{
		Role:        session.RoleTool,
		ToolResults: []session.ToolResult{{CallID: "c1", Content: json.RawMessage(`{"candidates":[]}`)}},
	})
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: "Nothing in Austin, sorry."})

	msgs := buildMessages(sess)
	require.Len(t, msgs, 4)

	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "find me a van", msgs[0].Content[0].Text)

	require.Len(t, msgs[1].Content, 1)
	assert.Equal(t, "tool_use", msgs[1].Content[0].Type)
	assert.Equal(t, "c1", msgs[1].Content[0].ID)

	// Tool results ride back as user messages, per the wire convention.
	assert.Equal(t, llm.RoleUser, msgs[2].Role)
	assert.Equal(t, "tool_result", msgs[2].Content[0].Type)
	assert.Equal(t, "c1", msgs[2].Content[0].ToolUseID)

	assert.Equal(t, llm.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "Nothing in Austin, sorry.", msgs[3].Content[0].Text)
}

func TestBuildMessages_SkipsEmptyAssistantTurns(t *testing.T) {
	sess := session.New("m2")
	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: "hi"})
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: ""})
	msgs := buildMessages(sess)
	assert.Len(t, msgs, 1)
}

func TestNeedsExtendedReasoning(t *testing.T) {
	cfg := config.ReasoningConfig{Enabled: true, TokenThreshold: 100, BudgetTokens: 4096}

	assert.False(t, needsExtendedReasoning("need a car in Denver this weekend", cfg))

	long := strings.Repeat("tell me about every vehicle category you support ", 20)
	assert.True(t, needsExtendedReasoning(long, cfg), "length alone crosses the threshold")

	ambiguous := "I'm not sure about dates, maybe next week, whichever is cheapest works"
	assert.True(t, needsExtendedReasoning(ambiguous, cfg), "dense ambiguity escalates short inputs")

	constrained := "automatic, awd, seats 7, no deposit, under $90 with unlimited miles"
	assert.True(t, needsExtendedReasoning(constrained, cfg), "stacked hard constraints escalate")

	disabled := config.ReasoningConfig{Enabled: false, TokenThreshold: 1}
	assert.False(t, needsExtendedReasoning(long, disabled))
}
