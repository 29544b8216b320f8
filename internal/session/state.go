// Session state machine.
//
// DESIGN: Transitions are driven by slot completeness and tool results,
// not explicit user commands. The graph is monotonic except for the
// Searching→Gathering loop taken when the fallback ladder exhausts with
// zero results. Terminal states accept no further turns.
//
//	Init → Gathering → Searching → Presenting → Confirming
//	                 ↖←←←←←←←←↙ (ladder exhausted)
//	Confirming → Verifying → AwaitingPayment → Booked
//	Confirming → AwaitingPayment (already verified)
//	any → Abandoned (inactivity hook)
package session

// State is a session's position in the booking flow.
type State string

const (
	StateInit            State = "init"
	StateGathering       State = "gathering"
	StateSearching       State = "searching"
	StatePresenting      State = "presenting"
	StateConfirming      State = "confirming"
	StateVerifying       State = "verifying"
	StateAwaitingPayment State = "awaiting_payment"
	StateBooked          State = "booked"
	StateAbandoned       State = "abandoned"
)

// Terminal reports whether a state accepts no further turns.
func (s State) Terminal() bool {
	return s == StateBooked || s == StateAbandoned
}

// validTransitions is the allowed edge set. Abandoned is reachable from
// everywhere and handled separately in CanTransition.
var validTransitions = map[State][]State{
	StateInit:            {StateGathering},
	StateGathering:       {StateSearching},
	StateSearching:       {StatePresenting, StateGathering},
	StatePresenting:      {StateConfirming},
	StateConfirming:      {StateVerifying, StateAwaitingPayment},
	StateVerifying:       {StateAwaitingPayment},
	StateAwaitingPayment: {StateBooked},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	if to == StateAbandoned {
		return !from.Terminal()
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance derives the session's next state from its current slots,
// candidates, and selection. Called by the orchestrator after each turn's
// tool results have been applied. It advances at most one step at a time so
// every intermediate state is observable in the turn record.
func (s *Session) Advance() State {
	switch s.State {
	case StateInit:
		if len(s.Turns) > 0 {
			s.transition(StateGathering)
		}
	case StateGathering:
		if s.Slots.HasMinimum() {
			s.transition(StateSearching)
		}
	case StateSearching:
		if len(s.Candidates) > 0 {
			s.transition(StatePresenting)
		}
		// Ladder exhaustion loops back via SearchExhausted, not here:
		// an unfinished search keeps the session in Searching.
	case StatePresenting:
		if s.SelectedVehicleID != "" {
			s.transition(StateConfirming)
		}
	case StateConfirming:
		if s.Verified {
			s.transition(StateAwaitingPayment)
		} else {
			s.transition(StateVerifying)
		}
	case StateVerifying:
		if s.Verified {
			s.transition(StateAwaitingPayment)
		}
	}
	return s.State
}

// SearchExhausted loops Searching back to Gathering after the fallback
// ladder ran out with zero results, prompting for relaxed criteria.
func (s *Session) SearchExhausted() {
	if s.State == StateSearching {
		s.transition(StateGathering)
	}
}

// MarkBooked moves AwaitingPayment to Booked. Driven by the external
// payment workflow, exposed here as the single entry point.
func (s *Session) MarkBooked() bool {
	if s.State != StateAwaitingPayment {
		return false
	}
	s.transition(StateBooked)
	return true
}

// MarkAbandoned is the inactivity hook. The timeout policy lives outside
// this engine; callers invoke this when it fires.
func (s *Session) MarkAbandoned() bool {
	if s.State.Terminal() {
		return false
	}
	s.transition(StateAbandoned)
	return true
}

func (s *Session) transition(to State) {
	if CanTransition(s.State, to) {
		s.State = to
	}
}
