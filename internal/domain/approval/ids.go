// internal/domain/approval/ids.go
package approval

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ApprovalID identifies one letter under review.
type ApprovalID uuid.UUID

// NewApprovalID returns a random ApprovalID.
func NewApprovalID() ApprovalID {
	return ApprovalID(uuid.New())
}

// ParseApprovalID parses the canonical UUID form.
func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ApprovalID{}, fmt.Errorf("invalid approval id %q: %w", s, err)
	}
	return ApprovalID(u), nil
}

func (id ApprovalID) String() string { return uuid.UUID(id).String() }

func (id ApprovalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ApprovalID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// TriggerID identifies one batch request.
type TriggerID uuid.UUID

func NewTriggerID() TriggerID {
	return TriggerID(uuid.New())
}

func ParseTriggerID(s string) (TriggerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TriggerID{}, fmt.Errorf("invalid trigger id %q: %w", s, err)
	}
	return TriggerID(u), nil
}

func (id TriggerID) String() string { return uuid.UUID(id).String() }

func (id TriggerID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *TriggerID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// UserID identifies the human who requested or reviewed a letter (a Telegram user id).
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }
