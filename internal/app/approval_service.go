// internal/app/approval_service.go
package app

import (
	"context"
	"strings"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Decision is a reviewer's verdict on a letter.
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
)

// DecisionRequest is one verdict as submitted through Telegram or the HTTP API.
type DecisionRequest struct {
	ApprovalID approval.ApprovalID `validate:"required"`
	Decision   Decision            `validate:"required,oneof=approve reject request_changes"`
	Feedback   string              `validate:"required_if=Decision request_changes"`
	UserID     approval.UserID

	// PromptMessageID is the Telegram message the decision was clicked on. Zero for decisions
	// that do not come from a prompt.
	PromptMessageID int
}

// ApprovalService applies reviewer decisions to the approval queue. The watchers pick up the
// resulting records.
type ApprovalService struct {
	queue    ApprovalQueue
	validate *validator.Validate
	logger   *logrus.Entry
}

func NewApprovalService(queue ApprovalQueue) *ApprovalService {
	return &ApprovalService{
		queue:    queue,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Log.WithField("component", "approval_service"),
	}
}

// Decide validates and applies a decision. Approve and request_changes are only accepted while
// the record awaits a response; reject fails any non-terminal record.
func (s *ApprovalService) Decide(ctx context.Context, req DecisionRequest) (*approval.ApprovalData, error) {
	req.Feedback = strings.TrimSpace(req.Feedback)
	if err := s.validate.Struct(req); err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "invalid decision for approval %s", req.ApprovalID)
	}

	log := s.logger.WithFields(logrus.Fields{
		"approval_id": req.ApprovalID.String(),
		"decision":    req.Decision,
		"user_id":     req.UserID,
		"prompt_id":   req.PromptMessageID,
	})

	var (
		data *approval.ApprovalData
		err  error
	)
	switch req.Decision {
	case DecisionApprove:
		data, err = s.queue.HandleApproval(ctx, req.ApprovalID, approval.FromPrompt(req.PromptMessageID))
	case DecisionRequestChanges:
		data, err = s.queue.HandleFeedback(ctx, req.ApprovalID, req.Feedback, req.UserID, approval.FromPrompt(req.PromptMessageID))
	case DecisionReject:
		if _, err = s.queue.MarkFailed(ctx, req.ApprovalID); err == nil {
			failed := approval.StateFailed
			data, err = s.queue.Get(req.ApprovalID, &failed)
		}
	}
	if err != nil {
		log.WithError(err).Warn("Decision rejected")
		return nil, err
	}
	log.Info("Decision applied")
	return data, nil
}

// Get returns one approval record.
func (s *ApprovalService) Get(id approval.ApprovalID) (*approval.ApprovalData, error) {
	return s.queue.Get(id, nil)
}

// List returns the records in one state.
func (s *ApprovalService) List(state approval.State) ([]*approval.ApprovalData, error) {
	return s.queue.ListByState(state)
}

// Health reports queue health.
func (s *ApprovalService) Health() (approval.HealthReport, error) {
	return s.queue.HealthCheck()
}
