// internal/domain/approval/state.go
package approval

import "fmt"

// State is the review state of an approval. Values are persisted as-is.
type State string

const (
	StatePendingApproval      State = "PendingApproval"
	StateAwaitingUserResponse State = "AwaitingUserResponse"
	StateApproved             State = "Approved"
	StateNeedsImprovement     State = "NeedsImprovement"
	StateFailed               State = "Failed"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StatePendingApproval,
	StateAwaitingUserResponse,
	StateApproved,
	StateNeedsImprovement,
	StateFailed,
}

var transitions = map[State][]State{
	StatePendingApproval:      {StateAwaitingUserResponse, StateFailed},
	StateAwaitingUserResponse: {StateApproved, StateNeedsImprovement, StateFailed},
	StateNeedsImprovement:     {StatePendingApproval, StateFailed},
}

// ParseState validates a persisted or user-supplied state name.
func ParseState(s string) (State, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown approval state %q", s)
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateFailed
}

// CanTransitionTo reports whether s -> next is a legal move.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
