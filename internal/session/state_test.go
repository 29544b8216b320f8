package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string      { return &s }
func f64Ptr(f float64) *float64    { return &f }
func dates(s, e string) *DateRange { return &DateRange{Start: s, End: e} }

func TestAdvance_FullBookingFlow(t *testing.T) {
	s := New("s1")
	require.Equal(t, StateInit, s.State)

	s.AppendTurn(Turn{Role: RoleUser, Content: "hi"})
	assert.Equal(t, StateGathering, s.Advance())

	// No minimum slots yet: stays in gathering.
	assert.Equal(t, StateGathering, s.Advance())

	s.Slots.Location = strPtr("Denver")
	s.Slots.Dates = dates("2026-09-04", "2026-09-07")
	assert.Equal(t, StateSearching, s.Advance())

	s.ReplaceCandidates([]VehicleCandidate{{ID: "v1"}}, 0)
	assert.Equal(t, StatePresenting, s.Advance())

	s.SelectedVehicleID = "v1"
	assert.Equal(t, StateConfirming, s.Advance())

	// Not yet verified: a verification pass is required first.
	assert.Equal(t, StateVerifying, s.Advance())
	s.Verified = true
	assert.Equal(t, StateAwaitingPayment, s.Advance())

	require.True(t, s.MarkBooked())
	assert.Equal(t, StateBooked, s.State)
	assert.True(t, s.State.Terminal())
}

func TestAdvance_VerifiedSkipsVerifying(t *testing.T) {
	s := New("s1")
	s.State = StateConfirming
	s.Verified = true
	assert.Equal(t, StateAwaitingPayment, s.Advance())
}

func TestSearchExhausted_LoopsBackToGathering(t *testing.T) {
	s := New("s1")
	s.State = StateSearching
	s.SearchExhausted()
	assert.Equal(t, StateGathering, s.State)

	// Only legal from Searching.
	s.State = StatePresenting
	s.SearchExhausted()
	assert.Equal(t, StatePresenting, s.State)
}

func TestMarkAbandoned(t *testing.T) {
	s := New("s1")
	s.State = StateConfirming
	require.True(t, s.MarkAbandoned())
	assert.Equal(t, StateAbandoned, s.State)

	booked := New("s2")
	booked.State = StateBooked
	assert.False(t, booked.MarkAbandoned(), "terminal states stay terminal")
	assert.Equal(t, StateBooked, booked.State)
}

func TestMarkBooked_OnlyFromAwaitingPayment(t *testing.T) {
	s := New("s1")
	s.State = StatePresenting
	assert.False(t, s.MarkBooked())
	assert.Equal(t, StatePresenting, s.State)
}

func TestCanTransition_RejectsSkips(t *testing.T) {
	assert.False(t, CanTransition(StateGathering, StatePresenting))
	assert.False(t, CanTransition(StateInit, StateBooked))
	assert.False(t, CanTransition(StateBooked, StateAbandoned))
	assert.True(t, CanTransition(StateSearching, StateGathering))
	assert.True(t, CanTransition(StateConfirming, StateAwaitingPayment))
}

func TestTokenCounts_Monotonic(t *testing.T) {
	var c TokenCounts
	c.Add(TokenCounts{Input: 100, Output: 50, Reasoning: 10})
	c.Add(TokenCounts{Input: -5, Output: 20, CacheRead: 30})

	assert.Equal(t, int64(100), c.Input, "negative deltas are dropped")
	assert.Equal(t, int64(70), c.Output)
	assert.Equal(t, int64(30), c.CacheRead)
	assert.Equal(t, int64(10), c.Reasoning)
}

func TestClone_IsDeep(t *testing.T) {
	s := New("s1")
	s.Slots.Location = strPtr("Denver")
	s.Slots.BudgetPerDay = f64Ptr(40)
	s.AppendTurn(Turn{Role: RoleUser, Content: "hi"})
	s.ReplaceCandidates([]VehicleCandidate{{ID: "v1"}}, 1)

	cp := s.Clone()
	*cp.Slots.Location = "Boise"
	cp.Turns[0].Content = "changed"
	cp.Candidates[0].ID = "v2"

	assert.Equal(t, "Denver", *s.Slots.Location)
	assert.Equal(t, "hi", s.Turns[0].Content)
	assert.Equal(t, "v1", s.Candidates[0].ID)
}
