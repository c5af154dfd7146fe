// internal/app/trigger_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
)

// TriggerService accepts batch requests and runs them in arrival order.
type TriggerService struct {
	store  TriggerStore
	runner WorkflowRunner
	logger *logrus.Entry

	running sync.Mutex
}

func NewTriggerService(store TriggerStore, runner WorkflowRunner) *TriggerService {
	return &TriggerService{
		store:  store,
		runner: runner,
		logger: logger.Log.WithField("component", "trigger_service"),
	}
}

// Submit queues a batch of up to maxTasks tasks.
func (s *TriggerService) Submit(ctx context.Context, requestedBy approval.UserID, maxTasks int, dryRun bool) (approval.TriggerID, error) {
	if maxTasks <= 0 {
		return approval.TriggerID{}, apperror.Validation("max_tasks must be positive, got %d", maxTasks)
	}
	id, err := s.store.CreateTrigger(ctx, requestedBy, maxTasks, dryRun)
	if err != nil {
		return approval.TriggerID{}, fmt.Errorf("error creating trigger: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"trigger_id": id.String(), "max_tasks": maxTasks, "dry_run": dryRun}).Info("Trigger submitted")
	return id, nil
}

// Get returns one trigger, processed or not.
func (s *TriggerService) Get(id approval.TriggerID) (*approval.WorkflowTrigger, error) {
	return s.store.GetTrigger(id)
}

// ProcessPendingTriggers runs every pending trigger, oldest first, and returns how many were
// handled. A call that overlaps a running one returns immediately with zero. Triggers another
// process claimed first are skipped.
func (s *TriggerService) ProcessPendingTriggers(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		s.logger.Debug("Trigger processing already in progress, skipping")
		return 0, nil
	}
	defer s.running.Unlock()

	triggers, err := s.store.ListPendingTriggers()
	if err != nil {
		return 0, fmt.Errorf("error listing pending triggers: %w", err)
	}

	handled := 0
	for _, t := range triggers {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		claimed, err := s.store.ClaimTrigger(t.TriggerID)
		if err != nil {
			if errors.Is(err, approval.ErrTriggerClaimed) || errors.Is(err, approval.ErrTriggerNotFound) {
				s.logger.WithField("trigger_id", t.TriggerID.String()).Debug("Trigger taken by another process, skipping")
				continue
			}
			return handled, fmt.Errorf("error claiming trigger %s: %w", t.TriggerID, err)
		}
		if s.run(ctx, claimed) {
			handled++
		}
	}
	return handled, nil
}

// ProcessTrigger claims and runs one trigger and returns it with its result.
func (s *TriggerService) ProcessTrigger(ctx context.Context, id approval.TriggerID) (*approval.WorkflowTrigger, error) {
	claimed, err := s.store.ClaimTrigger(id)
	if err != nil {
		return nil, fmt.Errorf("error claiming trigger %s: %w", id, err)
	}
	s.run(ctx, claimed)
	return s.store.GetTrigger(id)
}

// run executes a claimed trigger and records its outcome. It reports whether the outcome was
// stored.
func (s *TriggerService) run(ctx context.Context, t *approval.WorkflowTrigger) bool {
	log := s.logger.WithField("trigger_id", t.TriggerID.String())

	result, err := s.runner.ProcessWorkflow(ctx, t)
	if err != nil {
		log.WithError(err).Error("Workflow trigger failed")
		if markErr := s.store.MarkTriggerFailed(t.TriggerID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to mark trigger as failed")
		}
		return true
	}

	summary := ""
	if result.Result != nil {
		summary = *result.Result
	}
	if err := s.store.MarkTriggerProcessed(t.TriggerID, summary); err != nil {
		log.WithError(err).Error("Failed to mark trigger as processed")
		return false
	}
	log.Info("Workflow trigger processed")
	return true
}
