// internal/infra/filequeue/layout.go
package filequeue

import (
	"fmt"
	"path/filepath"
	"strings"

	"letter_outreach_bot/internal/domain/approval"
)

// Directory layout under the queue base directory. Each approval state has exactly one
// partition directory; a record lives in the directory of its current state.
const (
	dirPendingApproval   = "pending_approval"
	dirAwaitingResponse  = "awaiting_response"
	dirApproved          = "approved"
	dirNeedsImprovement  = "needs_improvement"
	dirFailed            = "failed"
	dirProcessed         = "processed"
	dirTriggers          = "triggers"
	dirTriggersProcessed = "triggers/processed"
	dirTriggersFailed    = "triggers/failed"
)

const (
	recordPrefix    = "approval_"
	triggerPrefix   = "trigger_"
	jsonSuffix      = ".json"
	claimSuffix     = ".processing"
	tmpSuffix       = ".tmp"
	timestampLayout = "20060102_150405"
)

var partitionDirs = map[approval.State]string{
	approval.StatePendingApproval:      dirPendingApproval,
	approval.StateAwaitingUserResponse: dirAwaitingResponse,
	approval.StateApproved:             dirApproved,
	approval.StateNeedsImprovement:     dirNeedsImprovement,
	approval.StateFailed:               dirFailed,
}

func allDirs() []string {
	return []string{
		dirPendingApproval, dirAwaitingResponse, dirApproved, dirNeedsImprovement, dirFailed,
		dirProcessed, dirTriggers, dirTriggersProcessed, dirTriggersFailed,
	}
}

func (q *Queue) partitionPath(state approval.State) (string, error) {
	dir, ok := partitionDirs[state]
	if !ok {
		return "", fmt.Errorf("no partition for approval state %q", state)
	}
	return filepath.Join(q.baseDir, dir), nil
}

func (q *Queue) recordPath(state approval.State, id approval.ApprovalID) (string, error) {
	dir, err := q.partitionPath(state)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, recordFileName(id)), nil
}

func recordFileName(id approval.ApprovalID) string {
	return recordPrefix + id.String() + jsonSuffix
}

func triggerFileName(id approval.TriggerID) string {
	return triggerPrefix + id.String() + jsonSuffix
}

// parseRecordFileName returns the id of a live record file name ("approval_<uuid>.json").
// Archive names and claims do not parse.
func parseRecordFileName(name string) (approval.ApprovalID, bool) {
	if !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, jsonSuffix) {
		return approval.ApprovalID{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, recordPrefix), jsonSuffix)
	id, err := approval.ParseApprovalID(raw)
	if err != nil {
		return approval.ApprovalID{}, false
	}
	return id, true
}

func parseTriggerFileName(name string) (approval.TriggerID, bool) {
	if !strings.HasPrefix(name, triggerPrefix) || !strings.HasSuffix(name, jsonSuffix) {
		return approval.TriggerID{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, triggerPrefix), jsonSuffix)
	id, err := approval.ParseTriggerID(raw)
	if err != nil {
		return approval.TriggerID{}, false
	}
	return id, true
}
