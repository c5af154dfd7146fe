// internal/domain/approval/trigger.go
package approval

import "time"

// WorkflowTrigger is one batch request. Tasks are selected when it runs, not when it is created.
type WorkflowTrigger struct {
	TriggerID   TriggerID  `json:"trigger_id"`
	RequestedBy UserID     `json:"requested_by"`
	RequestedAt time.Time  `json:"requested_at"`
	MaxTasks    int        `json:"max_tasks"`
	DryRun      bool       `json:"dry_run"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Result      *string    `json:"result,omitempty"`
}

// MarkProcessed records the batch outcome.
func (t *WorkflowTrigger) MarkProcessed(result string, now time.Time) {
	t.Processed = true
	t.ProcessedAt = &now
	t.Result = &result
}
