// internal/app/ports.go
package app

import (
	"context"

	"letter_outreach_bot/internal/domain/approval"
)

// ApprovalQueue is the durable approval state machine as used by the application layer.
type ApprovalQueue interface {
	Create(ctx context.Context, p approval.NewParams) (approval.ApprovalID, error)
	Get(id approval.ApprovalID, hint *approval.State) (*approval.ApprovalData, error)
	MarkAwaitingResponse(ctx context.Context, id approval.ApprovalID) error
	HandleApproval(ctx context.Context, id approval.ApprovalID, checks ...approval.Check) (*approval.ApprovalData, error)
	HandleFeedback(ctx context.Context, id approval.ApprovalID, text string, user approval.UserID, checks ...approval.Check) (*approval.ApprovalData, error)
	MarkFailed(ctx context.Context, id approval.ApprovalID) (bool, error)
	SetMessageReference(id approval.ApprovalID, chatID int64, messageID int) error
	ListByState(state approval.State) ([]*approval.ApprovalData, error)
	CountsByState() (map[approval.State]int, error)
	HealthCheck() (approval.HealthReport, error)
}

// TriggerStore persists batch requests until the monitor picks them up.
type TriggerStore interface {
	CreateTrigger(ctx context.Context, requestedBy approval.UserID, maxTasks int, dryRun bool) (approval.TriggerID, error)
	ListPendingTriggers() ([]*approval.WorkflowTrigger, error)
	GetTrigger(id approval.TriggerID) (*approval.WorkflowTrigger, error)
	ClaimTrigger(id approval.TriggerID) (*approval.WorkflowTrigger, error)
	MarkTriggerProcessed(id approval.TriggerID, result string) error
	MarkTriggerFailed(id approval.TriggerID, reason string) error
}

// WorkflowRunner runs one batch.
type WorkflowRunner interface {
	ProcessWorkflow(ctx context.Context, trigger *approval.WorkflowTrigger) (*approval.WorkflowTrigger, error)
}

var _ WorkflowRunner = (*Orchestrator)(nil)
