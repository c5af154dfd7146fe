// internal/infra/filequeue/triggers.go
package filequeue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"letter_outreach_bot/internal/domain/approval"

	"github.com/sirupsen/logrus"
)

// CreateTrigger stores a pending batch request.
func (q *Queue) CreateTrigger(ctx context.Context, requestedBy approval.UserID, maxTasks int, dryRun bool) (approval.TriggerID, error) {
	if maxTasks <= 0 {
		return approval.TriggerID{}, fmt.Errorf("max tasks must be positive, got %d", maxTasks)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	trigger := approval.WorkflowTrigger{
		TriggerID:   approval.NewTriggerID(),
		RequestedBy: requestedBy,
		RequestedAt: q.now(),
		MaxTasks:    maxTasks,
		DryRun:      dryRun,
	}
	path := filepath.Join(q.baseDir, dirTriggers, triggerFileName(trigger.TriggerID))
	if err := writeJSON(path, trigger); err != nil {
		return approval.TriggerID{}, err
	}
	q.logger.WithFields(logrus.Fields{
		"trigger_id": trigger.TriggerID.String(),
		"max_tasks":  maxTasks,
		"dry_run":    dryRun,
	}).Info("Workflow trigger created")
	return trigger.TriggerID, nil
}

// ListPendingTriggers returns unprocessed triggers, oldest first. Unreadable trigger files are
// moved to triggers/failed.
func (q *Queue) ListPendingTriggers() ([]*approval.WorkflowTrigger, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dir := filepath.Join(q.baseDir, dirTriggers)
	names, err := listNames(dir, func(name string) bool {
		_, ok := parseTriggerFileName(name)
		return ok
	})
	if err != nil {
		return nil, err
	}

	triggers := make([]*approval.WorkflowTrigger, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		trigger, err := readTrigger(path)
		if err != nil {
			q.logger.WithError(err).WithField("file", name).Warn("Moving unreadable trigger to failed")
			_ = os.Rename(path, filepath.Join(q.baseDir, dirTriggersFailed, name))
			continue
		}
		if trigger.Processed {
			continue
		}
		triggers = append(triggers, trigger)
	}
	sort.SliceStable(triggers, func(i, j int) bool {
		return triggers[i].RequestedAt.Before(triggers[j].RequestedAt)
	})
	return triggers, nil
}

// ClaimTrigger takes a pending trigger for this process by renaming it to its ".processing"
// name. Only the claimer may mark it processed or failed.
func (q *Queue) ClaimTrigger(id approval.TriggerID) (*approval.WorkflowTrigger, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	src := filepath.Join(q.baseDir, dirTriggers, triggerFileName(id))
	dst := q.owner.claimPath(src)
	if err := os.Rename(src, dst); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to claim trigger %s: %w", id, err)
		}
		if claimed, _ := q.triggerClaims(id); len(claimed) > 0 {
			return nil, fmt.Errorf("%w: %s", approval.ErrTriggerClaimed, id)
		}
		return nil, fmt.Errorf("%w: %s", approval.ErrTriggerNotFound, id)
	}
	trigger, err := readTrigger(dst)
	if err != nil {
		_ = os.Rename(dst, src)
		return nil, err
	}
	return trigger, nil
}

// GetTrigger looks a trigger up in the pending, claimed, processed and failed locations.
func (q *Queue) GetTrigger(id approval.TriggerID) (*approval.WorkflowTrigger, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, dir := range []string{dirTriggers, dirTriggersProcessed, dirTriggersFailed} {
		trigger, err := readTrigger(filepath.Join(q.baseDir, dir, triggerFileName(id)))
		if err == nil {
			return trigger, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	claimed, err := q.triggerClaims(id)
	if err != nil {
		return nil, err
	}
	for _, path := range claimed {
		if trigger, err := readTrigger(path); err == nil {
			return trigger, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", approval.ErrTriggerNotFound, id)
}

// triggerClaims lists the claim files of one trigger. Callers hold q.mu.
func (q *Queue) triggerClaims(id approval.TriggerID) ([]string, error) {
	return filepath.Glob(filepath.Join(q.baseDir, dirTriggers, triggerFileName(id)+".*"+claimSuffix))
}

// MarkTriggerProcessed records the batch result and moves the trigger to triggers/processed.
func (q *Queue) MarkTriggerProcessed(id approval.TriggerID, result string) error {
	return q.finishTrigger(id, result, dirTriggersProcessed)
}

// MarkTriggerFailed records why a batch could not run and moves the trigger to triggers/failed.
func (q *Queue) MarkTriggerFailed(id approval.TriggerID, reason string) error {
	return q.finishTrigger(id, "Failed: "+reason, dirTriggersFailed)
}

func (q *Queue) finishTrigger(id approval.TriggerID, result, destDir string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Triggers claimed by this queue are finished from their claim; unclaimed ones directly.
	src := q.owner.claimPath(filepath.Join(q.baseDir, dirTriggers, triggerFileName(id)))
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		src = filepath.Join(q.baseDir, dirTriggers, triggerFileName(id))
	}
	trigger, err := readTrigger(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", approval.ErrTriggerNotFound, id)
		}
		return err
	}
	trigger.MarkProcessed(result, q.now())
	if err := writeJSON(filepath.Join(q.baseDir, destDir, triggerFileName(id)), trigger); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove processed trigger %s: %w", src, err)
	}
	return nil
}
