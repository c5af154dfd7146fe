// internal/app/orchestrator.go
package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
)

const (
	unknownCompany = "Unknown Company"
	unknownContact = "Unknown Contact"

	awaitingResponseMessage = "Awaiting user response via Telegram"
	noTasksMessage          = "No tasks available for processing"
	noSuccessMessage        = "No tasks were successfully processed"
)

// Orchestrator drives tasks through the outreach pipeline. It owns no state of its own; every
// side effect goes through WorkflowSteps.
type Orchestrator struct {
	steps  WorkflowSteps
	now    func() time.Time
	logger *logrus.Entry
}

func NewOrchestrator(steps WorkflowSteps) *Orchestrator {
	return &Orchestrator{
		steps:  steps,
		now:    time.Now,
		logger: logger.Log.WithField("component", "orchestrator"),
	}
}

// ProcessWorkflow runs one batch. Per-task failures are reported in the result and do not stop
// the batch; only a failure to load the task list is returned as an error.
func (o *Orchestrator) ProcessWorkflow(ctx context.Context, trigger *approval.WorkflowTrigger) (*approval.WorkflowTrigger, error) {
	log := o.logger.WithFields(logrus.Fields{"trigger_id": trigger.TriggerID.String(), "max_tasks": trigger.MaxTasks})
	log.Info("Processing workflow trigger")

	tasks, err := o.steps.LoadAvailableTasks(ctx, trigger.MaxTasks)
	if err != nil {
		return nil, fmt.Errorf("error loading available tasks: %w", err)
	}

	out := *trigger
	if len(tasks) == 0 {
		log.Info("No available tasks found")
		out.MarkProcessed(noTasksMessage, o.now())
		return &out, nil
	}
	if trigger.MaxTasks > 0 && len(tasks) > trigger.MaxTasks {
		tasks = tasks[:trigger.MaxTasks]
	}

	if trigger.DryRun {
		lines := make([]string, 0, len(tasks))
		for _, task := range tasks {
			lines = append(lines, fmt.Sprintf("🔎 Task %s: dry run, not processed", task.ID))
		}
		out.MarkProcessed(fmt.Sprintf("Dry run: %d tasks would be processed:\n%s", len(tasks), strings.Join(lines, "\n")), o.now())
		return &out, nil
	}

	processed := 0
	lines := make([]string, 0, len(tasks))
	for i := range tasks {
		task := &tasks[i]
		msg, err := o.ProcessSingleTask(ctx, task)
		if err != nil {
			log.WithError(err).WithField("task_id", task.ID).Error("Task failed")
			lines = append(lines, fmt.Sprintf("❌ Task %s: %v", task.ID, err))
			continue
		}
		processed++
		lines = append(lines, fmt.Sprintf("✅ Task %s: %s", task.ID, msg))
	}

	result := noSuccessMessage
	if processed > 0 {
		result = fmt.Sprintf("Processed %d tasks:\n%s", processed, strings.Join(lines, "\n"))
	}
	out.MarkProcessed(result, o.now())
	log.WithField("processed", processed).Info("Workflow trigger finished")
	return &out, nil
}

// ProcessSingleTask drafts a letter for one task and submits it for review. Any failure after the
// task was picked up is reported once: the operator is notified and the CRM task is flagged.
func (o *Orchestrator) ProcessSingleTask(ctx context.Context, task *outreach.Task) (string, error) {
	log := o.logger.WithField("task_id", task.ID)

	contactName := unknownContact
	if task.Contact != nil && task.Contact.Name != "" {
		contactName = task.Contact.Name
	}
	companyName := unknownCompany
	fail := func(err error) (string, error) {
		o.handleTaskError(ctx, task.ID, contactName, companyName, err)
		return "", err
	}

	if err := o.steps.MarkTaskInProgress(ctx, task.ID); err != nil {
		return fail(stepError("Step 0 (mark in progress)", err))
	}

	contact, err := o.steps.LoadContact(ctx, task)
	if err != nil {
		return fail(stepError("Step 1 (load contact)", err))
	}
	contactName = contact.FullName
	log.WithField("contact", contact.FullName).Info("Step 1: loaded contact")

	profile, err := o.steps.LoadProfile(ctx, contact)
	if err != nil {
		return fail(stepError("Step 2 (load profile)", err))
	}

	dossier, err := o.steps.GenerateDossiers(ctx, profile, contact.ID)
	if err != nil {
		return fail(stepError("Step 3 (generate dossiers)", err))
	}
	if dossier.CompanyName != "" {
		companyName = dossier.CompanyName
	}
	log.WithField("company", companyName).Info("Step 3: generated dossiers")

	if err := o.ensureMailingAddress(ctx, contact, dossier); err != nil {
		return fail(stepError("Step 3.5 (mailing address)", err))
	}

	letter, err := o.steps.GenerateLetter(ctx, contact, profile, dossier)
	if err != nil {
		return fail(stepError("Step 4 (generate letter)", err))
	}

	id, err := o.steps.ApprovalStart(ctx, task.ID, contact, letter, dossier)
	if err != nil {
		return fail(stepError("Step 5a (approval start)", err))
	}
	log = log.WithField("approval_id", id.String())

	state, err := o.steps.RequestApproval(ctx, id, letter, contact)
	if err != nil {
		// The record would otherwise sit in PendingApproval without a prompt anyone can answer.
		if abandonErr := o.steps.AbandonApproval(ctx, id); abandonErr != nil {
			log.WithError(abandonErr).Error("Failed to mark approval as failed")
		}
		return fail(stepError("Step 5b (request approval)", err))
	}
	log.WithField("state", state).Info("Step 5b: approval requested")

	return awaitingResponseMessage, nil
}

// ensureMailingAddress makes sure the contact has a complete address, falling back to the one
// found in the company dossier and writing it back to the CRM.
func (o *Orchestrator) ensureMailingAddress(ctx context.Context, contact *outreach.Contact, dossier *outreach.DossierResult) error {
	if contact.MailingAddress != nil {
		if err := contact.MailingAddress.Validate(); err != nil {
			return apperror.Wrap(apperror.KindWorkflow, err, "contact %s has an invalid mailing address, cannot proceed", contact.FullName)
		}
		return nil
	}
	if dossier.MailingAddress == nil {
		return apperror.Workflow("failed to extract mailing address for %s, cannot proceed without recipient address", contact.FullName)
	}
	if err := dossier.MailingAddress.Validate(); err != nil {
		return apperror.Wrap(apperror.KindWorkflow, err, "extracted address for %s is invalid, cannot proceed without valid recipient address", contact.FullName)
	}

	address := *dossier.MailingAddress
	if err := o.steps.UpdateContactAddress(ctx, contact.ID, address); err != nil {
		return fmt.Errorf("error updating contact address: %w", err)
	}
	contact.MailingAddress = &address
	o.logger.WithField("contact", contact.FullName).Info("Step 3.5: stored extracted mailing address")
	return nil
}

// ContinueAfterApproval mails the approved document. The stored PDF is sent as is and never
// re-rendered. CRM bookkeeping after dispatch is best-effort.
func (o *Orchestrator) ContinueAfterApproval(ctx context.Context, data *approval.ApprovalData) (string, error) {
	log := o.logger.WithFields(logrus.Fields{"approval_id": data.ApprovalID.String(), "task_id": data.TaskID})

	if data.MailingAddress == nil {
		return "", apperror.Workflow("approval %s is missing a mailing address", data.ApprovalID)
	}
	if err := data.MailingAddress.Validate(); err != nil {
		return "", apperror.Wrap(apperror.KindWorkflow, err, "approval %s has an invalid mailing address", data.ApprovalID)
	}
	if data.PDFBase64 == nil || *data.PDFBase64 == "" {
		return "", apperror.Workflow("approval %s is missing the rendered document", data.ApprovalID)
	}
	document, err := base64.StdEncoding.DecodeString(*data.PDFBase64)
	if err != nil {
		return "", apperror.Wrap(apperror.KindWorkflow, err, "failed to decode document of approval %s", data.ApprovalID)
	}

	trackingID, err := o.steps.SendApprovedDocument(ctx, document, *data.MailingAddress)
	if err != nil {
		return "", stepError("Step 6 (send approved PDF)", err)
	}
	log = log.WithField("tracking_id", trackingID)
	log.Info("Step 6: letter sent")

	filename := fmt.Sprintf("Brief_%s.pdf", data.ContactID)
	if err := o.steps.AttachFileToTask(ctx, data.TaskID, document, filename); err != nil {
		log.WithError(err).Error("Failed to attach letter to task")
	}
	if err := o.steps.UpdateTaskCompletedStatus(ctx, data.TaskID, fmt.Sprintf("Brief erfolgreich versendet. Tracking: %s", trackingID)); err != nil {
		log.WithError(err).Error("Failed to mark task as completed")
	}
	if followUp, err := o.steps.CreateFollowUpTask(ctx, data.ContactID, data.TaskID); err != nil {
		log.WithError(err).Error("Failed to create follow-up task")
	} else {
		log.WithField("follow_up_task_id", followUp).Info("Created follow-up task")
	}

	return fmt.Sprintf("Letter sent successfully after approval, tracking: %s", trackingID), nil
}

// ProcessImprovementRequest drafts a new iteration from reviewer feedback, renders it with the
// stored address and resends the prompt. The input record is left untouched; the returned record
// is AwaitingUserResponse.
func (o *Orchestrator) ProcessImprovementRequest(ctx context.Context, data *approval.ApprovalData, feedback string) (*approval.ApprovalData, error) {
	log := o.logger.WithFields(logrus.Fields{"approval_id": data.ApprovalID.String(), "iteration": data.CurrentIteration()})
	log.Info("Processing improvement request")

	if data.MailingAddress == nil {
		return nil, apperror.Workflow("approval %s is missing a mailing address", data.ApprovalID)
	}

	letter, err := o.steps.GenerateImprovedLetter(ctx, data, feedback)
	if err != nil {
		return nil, fmt.Errorf("error generating improved letter: %w", err)
	}

	improved := *data
	improved.LetterHistory = append([]approval.LetterHistoryEntry(nil), data.LetterHistory...)
	if err := improved.RequeueWithLetter(letter, o.now()); err != nil {
		return nil, err
	}

	document, err := o.steps.RenderDocument(ctx, letter, *improved.MailingAddress)
	if err != nil {
		return nil, fmt.Errorf("error rendering improved letter: %w", err)
	}
	improved.SetDocument(base64.StdEncoding.EncodeToString(document), o.now())

	ref, err := o.steps.SendImprovedApproval(ctx, &improved)
	if err != nil {
		return nil, fmt.Errorf("error sending improved letter for review: %w", err)
	}
	if err := improved.TransitionTo(approval.StateAwaitingUserResponse, o.now()); err != nil {
		return nil, err
	}
	improved.SetMessageReference(ref.ChatID, ref.MessageID, o.now())

	log.WithField("iteration", improved.CurrentIteration()).Info("Improved letter sent for review")
	return &improved, nil
}

// handleTaskError notifies the operator and flags the CRM task. Both are best-effort.
func (o *Orchestrator) handleTaskError(ctx context.Context, taskID outreach.TaskID, contactName, companyName string, taskErr error) {
	log := o.logger.WithField("task_id", taskID)
	msg := taskErr.Error()
	if err := o.steps.SendErrorNotification(ctx, taskID, contactName, companyName, msg); err != nil {
		log.WithError(err).Error("Failed to send error notification")
	}
	if err := o.steps.UpdateTaskErrorStatus(ctx, taskID, msg); err != nil {
		log.WithError(err).Error("Failed to update task error status")
	}
}

func stepError(step string, err error) error {
	return apperror.Wrap(apperror.KindWorkflow, err, "%s failed", step)
}
