// internal/app/workflow_processor.go
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
)

// DefaultPageLimitRetries is how many times a letter is shortened before rendering gives up.
const DefaultPageLimitRetries = 5

// Collaborators are the external systems the WorkflowProcessor talks to.
type Collaborators struct {
	CRM      outreach.CRM
	Profiles outreach.ProfileStore
	Dossiers outreach.DossierGenerator
	Letters  outreach.LetterGenerator
	Renderer outreach.DocumentRenderer
	Mail     outreach.MailDispatcher
	Notifier outreach.Notifier
	Queue    ApprovalQueue
}

// ProcessorConfig holds the static inputs of the pipeline.
type ProcessorConfig struct {
	OwnerID          string // optional CRM owner filter for task selection
	SenderAddress    outreach.MailingAddress
	PrintOptions     outreach.PrintOptions
	RequestedBy      approval.UserID
	PageLimitRetries int
}

// WorkflowProcessor implements WorkflowSteps on top of the real collaborators.
type WorkflowProcessor struct {
	c      Collaborators
	cfg    ProcessorConfig
	now    func() time.Time
	logger *logrus.Entry
}

var _ WorkflowSteps = (*WorkflowProcessor)(nil)

func NewWorkflowProcessor(c Collaborators, cfg ProcessorConfig) *WorkflowProcessor {
	if cfg.PageLimitRetries < 0 {
		cfg.PageLimitRetries = 0
	}
	return &WorkflowProcessor{
		c:      c,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Log.WithField("component", "workflow_processor"),
	}
}

func (p *WorkflowProcessor) LoadAvailableTasks(ctx context.Context, maxCount int) ([]outreach.Task, error) {
	filters := []outreach.TaskFilter{
		{Field: "Subject", Value: outreach.TaskSubjectFilter},
		{Field: "Status", Value: outreach.TaskStatusFilter},
	}
	if p.cfg.OwnerID != "" {
		filters = append(filters, outreach.TaskFilter{Field: "Owner", Value: p.cfg.OwnerID})
	}

	tasks, err := p.c.CRM.SearchTasks(ctx, filters)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedTime < tasks[j].CreatedTime })
	if maxCount >= 0 && len(tasks) > maxCount {
		tasks = tasks[:maxCount]
	}

	for _, t := range tasks {
		entry := p.logger.WithFields(logrus.Fields{"task_id": t.ID, "subject": t.Subject})
		if t.Contact != nil {
			entry = entry.WithField("contact_id", t.Contact.ID)
		}
		entry.Debug("Selected task")
	}
	return tasks, nil
}

func (p *WorkflowProcessor) LoadTask(ctx context.Context, id outreach.TaskID) (*outreach.Task, error) {
	task, err := p.c.CRM.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperror.NotFound("task %s not found", id)
	}
	return task, nil
}

func (p *WorkflowProcessor) MarkTaskInProgress(ctx context.Context, id outreach.TaskID) error {
	return p.c.CRM.UpdateTaskStatus(ctx, id, outreach.TaskStatusInProgress, "")
}

func (p *WorkflowProcessor) LoadContact(ctx context.Context, task *outreach.Task) (*outreach.Contact, error) {
	if task.Contact == nil || task.Contact.ID == "" {
		return nil, apperror.Workflow("task %s has no associated contact", task.ID)
	}
	contact, err := p.c.CRM.GetContact(ctx, task.Contact.ID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, apperror.NotFound("contact %s not found", task.Contact.ID)
	}
	return contact, nil
}

func (p *WorkflowProcessor) LoadProfile(ctx context.Context, contact *outreach.Contact) (*outreach.Profile, error) {
	if contact.LinkedInID == "" {
		return nil, apperror.Workflow("contact %s has no LinkedIn ID", contact.ID)
	}
	profile, err := p.c.Profiles.GetProfile(ctx, contact.LinkedInID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperror.NotFound("LinkedIn profile %s not found", contact.LinkedInID)
	}
	return profile, nil
}

func (p *WorkflowProcessor) GenerateDossiers(ctx context.Context, profile *outreach.Profile, contactID outreach.ContactID) (*outreach.DossierResult, error) {
	return p.c.Dossiers.GenerateDossiers(ctx, profile, contactID)
}

func (p *WorkflowProcessor) UpdateContactAddress(ctx context.Context, contactID outreach.ContactID, address outreach.MailingAddress) error {
	return p.c.CRM.UpdateContactAddress(ctx, contactID, address)
}

func (p *WorkflowProcessor) GenerateLetter(ctx context.Context, contact *outreach.Contact, profile *outreach.Profile, dossier *outreach.DossierResult) (outreach.LetterContent, error) {
	letter, err := p.c.Letters.GenerateLetter(ctx, outreach.LetterRequest{Contact: *contact, Profile: *profile, Dossier: *dossier})
	if err != nil {
		return outreach.LetterContent{}, err
	}
	letter.RecipientName = contact.FullName
	letter.CompanyName = dossier.CompanyName
	return letter, nil
}

func (p *WorkflowProcessor) ApprovalStart(ctx context.Context, taskID outreach.TaskID, contact *outreach.Contact, letter outreach.LetterContent, dossier *outreach.DossierResult) (approval.ApprovalID, error) {
	if contact.MailingAddress == nil {
		return approval.ApprovalID{}, apperror.Workflow("contact %s has no mailing address", contact.FullName)
	}
	address := *contact.MailingAddress

	meta := ExtractDossierMetadata(dossier.PersonDossier, dossier.CompanyDossier)
	regen := outreach.RegenerationRequest{
		RecipientName:  contact.FullName,
		RecipientEmail: contact.Email,
		CompanyName:    dossier.CompanyName,
		PersonDossier:  dossier.PersonDossier,
		CompanyDossier: dossier.CompanyDossier,
		Address:        address,
	}
	letter, document, err := p.renderWithinPageLimit(ctx, letter, regen)
	if err != nil {
		return approval.ApprovalID{}, err
	}

	email := meta.Email
	if email == nil && contact.Email != "" {
		e := contact.Email
		email = &e
	}
	pdf := base64.StdEncoding.EncodeToString(document)
	person, company := dossier.PersonDossier, dossier.CompanyDossier

	return p.c.Queue.Create(ctx, approval.NewParams{
		TaskID:         taskID,
		ContactID:      contact.ID,
		RecipientName:  contact.FullName,
		RecipientEmail: email,
		RecipientTitle: meta.Headline,
		CompanyName:    dossier.CompanyName,
		Letter:         letter,
		RequestedBy:    p.cfg.RequestedBy,
		MailingAddress: &address,
		PDFBase64:      &pdf,
		PersonDossier:  &person,
		CompanyDossier: &company,
		Industry:       meta.Industry,
		Website:        meta.Website,
	})
}

// renderWithinPageLimit renders the letter, asking for a shorter draft each time the renderer
// reports more than one page.
func (p *WorkflowProcessor) renderWithinPageLimit(ctx context.Context, letter outreach.LetterContent, regen outreach.RegenerationRequest) (outreach.LetterContent, []byte, error) {
	for attempt := 0; ; attempt++ {
		document, err := p.RenderDocument(ctx, letter, regen.Address)
		if err == nil {
			return letter, document, nil
		}
		var pageErr *outreach.PageLimitError
		if !errors.As(err, &pageErr) || attempt >= p.cfg.PageLimitRetries {
			return letter, nil, fmt.Errorf("error rendering letter: %w", err)
		}

		p.logger.WithFields(logrus.Fields{"pages": pageErr.Pages, "attempt": attempt + 1}).Warn("Letter exceeds one page, requesting a shorter draft")
		regen.Current = letter
		regen.History = []outreach.Revision{{Iteration: 1, Content: letter}}
		regen.Feedback = fmt.Sprintf("Der Brief ist %d Seiten lang. Bitte kürze ihn so, dass er auf eine Seite passt.", pageErr.Pages)
		shorter, err := p.c.Letters.RegenerateLetter(ctx, regen)
		if err != nil {
			return letter, nil, fmt.Errorf("error shortening letter: %w", err)
		}
		shorter.RecipientName = letter.RecipientName
		shorter.CompanyName = letter.CompanyName
		letter = shorter
	}
}

func (p *WorkflowProcessor) RequestApproval(ctx context.Context, id approval.ApprovalID, letter outreach.LetterContent, contact *outreach.Contact) (approval.State, error) {
	pending := approval.StatePendingApproval
	data, err := p.c.Queue.Get(id, &pending)
	if err != nil {
		return "", err
	}
	document, err := decodeDocument(data)
	if err != nil {
		return "", err
	}

	ref, err := p.c.Notifier.SendApprovalPrompt(ctx, outreach.ApprovalPrompt{
		ApprovalID:    id.String(),
		RecipientName: contact.FullName,
		CompanyName:   data.CompanyName,
		Subject:       data.CurrentLetter.Subject,
		Iteration:     data.CurrentIteration(),
		Document:      document,
	})
	if err != nil {
		return "", err
	}
	// Decisions are only accepted from the stored prompt, so the reference is in place before the
	// record becomes decidable.
	if err := p.c.Queue.SetMessageReference(id, ref.ChatID, ref.MessageID); err != nil {
		return "", fmt.Errorf("failed to store prompt reference: %w", err)
	}
	if err := p.c.Queue.MarkAwaitingResponse(ctx, id); err != nil {
		return "", err
	}
	return approval.StateAwaitingUserResponse, nil
}

func (p *WorkflowProcessor) AbandonApproval(ctx context.Context, id approval.ApprovalID) error {
	_, err := p.c.Queue.MarkFailed(ctx, id)
	return err
}

func (p *WorkflowProcessor) SendApprovedDocument(ctx context.Context, document []byte, address outreach.MailingAddress) (string, error) {
	return p.c.Mail.Send(ctx, outreach.MailRequest{
		Document:         document,
		RecipientAddress: address,
		SenderAddress:    p.cfg.SenderAddress,
		Options:          p.cfg.PrintOptions,
	})
}

func (p *WorkflowProcessor) SendErrorNotification(ctx context.Context, taskID outreach.TaskID, contactName, companyName, message string) error {
	return p.c.Notifier.SendErrorNotice(ctx, outreach.ErrorNotice{
		TaskID:      taskID,
		ContactName: contactName,
		CompanyName: companyName,
		Message:     message,
		At:          p.now(),
	})
}

func (p *WorkflowProcessor) UpdateTaskErrorStatus(ctx context.Context, taskID outreach.TaskID, message string) error {
	return p.c.CRM.UpdateTaskStatus(ctx, taskID, outreach.TaskStatusWaiting, "Workflow failed: "+message)
}

func (p *WorkflowProcessor) UpdateTaskCompletedStatus(ctx context.Context, taskID outreach.TaskID, message string) error {
	return p.c.CRM.UpdateTaskStatus(ctx, taskID, outreach.TaskStatusCompleted, message)
}

func (p *WorkflowProcessor) AttachFileToTask(ctx context.Context, taskID outreach.TaskID, data []byte, filename string) error {
	return p.c.CRM.AttachFile(ctx, taskID, data, filename)
}

func (p *WorkflowProcessor) CreateFollowUpTask(ctx context.Context, contactID outreach.ContactID, taskID outreach.TaskID) (outreach.TaskID, error) {
	return p.c.CRM.CreateFollowUpTask(ctx, contactID, taskID)
}

func (p *WorkflowProcessor) GenerateImprovedLetter(ctx context.Context, data *approval.ApprovalData, feedback string) (outreach.LetterContent, error) {
	if data.MailingAddress == nil {
		return outreach.LetterContent{}, apperror.Workflow("missing mailing address for approval %s", data.ApprovalID)
	}

	history := make([]outreach.Revision, 0, len(data.LetterHistory))
	for _, entry := range data.LetterHistory {
		rev := outreach.Revision{Iteration: entry.Iteration, Content: entry.Content}
		if entry.Feedback != nil {
			rev.Feedback = entry.Feedback.Text
		}
		history = append(history, rev)
	}

	letter, err := p.c.Letters.RegenerateLetter(ctx, outreach.RegenerationRequest{
		RecipientName:  data.RecipientName,
		RecipientEmail: deref(data.RecipientEmail),
		RecipientTitle: deref(data.RecipientTitle),
		CompanyName:    data.CompanyName,
		Current:        data.CurrentLetter,
		History:        history,
		Feedback:       feedback,
		PersonDossier:  deref(data.PersonDossier),
		CompanyDossier: deref(data.CompanyDossier),
		Address:        *data.MailingAddress,
	})
	if err != nil {
		return outreach.LetterContent{}, err
	}
	letter.RecipientName = data.RecipientName
	letter.CompanyName = data.CompanyName
	return letter, nil
}

func (p *WorkflowProcessor) RenderDocument(ctx context.Context, letter outreach.LetterContent, address outreach.MailingAddress) ([]byte, error) {
	return p.c.Renderer.Render(ctx, outreach.LetterTemplate, outreach.NewLetterTemplateData(letter, address))
}

func (p *WorkflowProcessor) SendImprovedApproval(ctx context.Context, data *approval.ApprovalData) (outreach.MessageRef, error) {
	document, err := decodeDocument(data)
	if err != nil {
		return outreach.MessageRef{}, err
	}
	return p.c.Notifier.SendApprovalPrompt(ctx, outreach.ApprovalPrompt{
		ApprovalID:    data.ApprovalID.String(),
		RecipientName: data.RecipientName,
		CompanyName:   data.CompanyName,
		Subject:       data.CurrentLetter.Subject,
		Iteration:     data.CurrentIteration(),
		Document:      document,
	})
}

func decodeDocument(data *approval.ApprovalData) ([]byte, error) {
	if data.PDFBase64 == nil {
		return nil, apperror.Workflow("approval %s has no rendered document", data.ApprovalID)
	}
	document, err := base64.StdEncoding.DecodeString(*data.PDFBase64)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindWorkflow, err, "failed to decode document of approval %s", data.ApprovalID)
	}
	return document, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
