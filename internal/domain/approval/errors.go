// internal/domain/approval/errors.go
package approval

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("approval not found")
	ErrInvalidTransition = errors.New("invalid approval state transition")
	ErrTriggerNotFound   = errors.New("workflow trigger not found")
	ErrTriggerClaimed    = errors.New("workflow trigger already claimed")
)

// InvalidTransitionError is returned when an operation is attempted on a record that is not in
// the state the operation requires. The record is left untouched.
type InvalidTransitionError struct {
	ID   ApprovalID
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("approval %s is %s, cannot move to %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrStalePrompt marks a decision made on an approval prompt that no longer shows the current
// iteration.
var ErrStalePrompt = errors.New("approval prompt is no longer current")

// StalePromptError is returned when a decision arrives from a prompt other than the one posted
// for the current iteration. It also matches ErrInvalidTransition.
type StalePromptError struct {
	ID        ApprovalID
	MessageID int
	Iteration int
}

func (e *StalePromptError) Error() string {
	return fmt.Sprintf("approval %s: prompt message %d does not show iteration %d", e.ID, e.MessageID, e.Iteration)
}

func (e *StalePromptError) Is(target error) bool {
	return target == ErrStalePrompt || target == ErrInvalidTransition
}
