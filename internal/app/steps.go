// internal/app/steps.go
package app

import (
	"context"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"
)

// WorkflowSteps is every side effect the Orchestrator performs. Each step takes exactly the data
// it needs so tests can replace the whole pipeline with a fake.
type WorkflowSteps interface {
	// LoadAvailableTasks returns at most maxCount open outreach tasks, oldest first.
	LoadAvailableTasks(ctx context.Context, maxCount int) ([]outreach.Task, error)
	LoadTask(ctx context.Context, id outreach.TaskID) (*outreach.Task, error)
	MarkTaskInProgress(ctx context.Context, id outreach.TaskID) error

	LoadContact(ctx context.Context, task *outreach.Task) (*outreach.Contact, error)
	LoadProfile(ctx context.Context, contact *outreach.Contact) (*outreach.Profile, error)
	GenerateDossiers(ctx context.Context, profile *outreach.Profile, contactID outreach.ContactID) (*outreach.DossierResult, error)
	UpdateContactAddress(ctx context.Context, contactID outreach.ContactID, address outreach.MailingAddress) error
	GenerateLetter(ctx context.Context, contact *outreach.Contact, profile *outreach.Profile, dossier *outreach.DossierResult) (outreach.LetterContent, error)

	// ApprovalStart renders the letter and persists a new approval record.
	ApprovalStart(ctx context.Context, taskID outreach.TaskID, contact *outreach.Contact, letter outreach.LetterContent, dossier *outreach.DossierResult) (approval.ApprovalID, error)
	// RequestApproval posts the prompt for an existing record and marks it as awaiting a response.
	RequestApproval(ctx context.Context, id approval.ApprovalID, letter outreach.LetterContent, contact *outreach.Contact) (approval.State, error)
	// AbandonApproval moves a record whose prompt could not be posted to Failed.
	AbandonApproval(ctx context.Context, id approval.ApprovalID) error

	// SendApprovedDocument mails the exact document the reviewer approved.
	SendApprovedDocument(ctx context.Context, document []byte, address outreach.MailingAddress) (string, error)

	SendErrorNotification(ctx context.Context, taskID outreach.TaskID, contactName, companyName, message string) error
	UpdateTaskErrorStatus(ctx context.Context, taskID outreach.TaskID, message string) error
	UpdateTaskCompletedStatus(ctx context.Context, taskID outreach.TaskID, message string) error
	AttachFileToTask(ctx context.Context, taskID outreach.TaskID, data []byte, filename string) error
	CreateFollowUpTask(ctx context.Context, contactID outreach.ContactID, taskID outreach.TaskID) (outreach.TaskID, error)

	GenerateImprovedLetter(ctx context.Context, data *approval.ApprovalData, feedback string) (outreach.LetterContent, error)
	RenderDocument(ctx context.Context, letter outreach.LetterContent, address outreach.MailingAddress) ([]byte, error)
	SendImprovedApproval(ctx context.Context, data *approval.ApprovalData) (outreach.MessageRef, error)
}
