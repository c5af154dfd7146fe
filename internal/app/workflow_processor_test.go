package app

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/filequeue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusUpdate struct {
	status      string
	description string
}

type fakeCRM struct {
	tasks    []outreach.Task
	filters  []outreach.TaskFilter
	contacts map[outreach.ContactID]*outreach.Contact
	statuses map[outreach.TaskID][]statusUpdate
}

func (f *fakeCRM) GetTask(_ context.Context, id outreach.TaskID) (*outreach.Task, error) {
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			return &f.tasks[i], nil
		}
	}
	return nil, nil
}

func (f *fakeCRM) SearchTasks(_ context.Context, filters []outreach.TaskFilter) ([]outreach.Task, error) {
	f.filters = filters
	return append([]outreach.Task(nil), f.tasks...), nil
}

func (f *fakeCRM) GetContact(_ context.Context, id outreach.ContactID) (*outreach.Contact, error) {
	return f.contacts[id], nil
}

func (f *fakeCRM) UpdateContactAddress(context.Context, outreach.ContactID, outreach.MailingAddress) error {
	return nil
}

func (f *fakeCRM) UpdateTaskStatus(_ context.Context, id outreach.TaskID, status, description string) error {
	if f.statuses == nil {
		f.statuses = map[outreach.TaskID][]statusUpdate{}
	}
	f.statuses[id] = append(f.statuses[id], statusUpdate{status: status, description: description})
	return nil
}

func (f *fakeCRM) AttachFile(context.Context, outreach.TaskID, []byte, string) error { return nil }

func (f *fakeCRM) CreateFollowUpTask(context.Context, outreach.ContactID, outreach.TaskID) (outreach.TaskID, error) {
	return "f1", nil
}

type fakeLetters struct {
	regenerations []outreach.RegenerationRequest
}

func (f *fakeLetters) GenerateLetter(_ context.Context, req outreach.LetterRequest) (outreach.LetterContent, error) {
	return outreach.LetterContent{Subject: "Hallo " + req.Contact.FullName, Body: "lang"}, nil
}

func (f *fakeLetters) RegenerateLetter(_ context.Context, req outreach.RegenerationRequest) (outreach.LetterContent, error) {
	f.regenerations = append(f.regenerations, req)
	return outreach.LetterContent{Subject: req.Current.Subject, Body: "kurz"}, nil
}

type fakeRenderer struct {
	oversized int
	calls     []outreach.LetterTemplateData
}

func (f *fakeRenderer) Render(_ context.Context, template string, data outreach.LetterTemplateData) ([]byte, error) {
	if template != outreach.LetterTemplate {
		return nil, errors.New("unexpected template " + template)
	}
	f.calls = append(f.calls, data)
	if len(f.calls) <= f.oversized {
		return nil, apperror.Wrap(apperror.KindValidation, &outreach.PageLimitError{Pages: 2}, "pdf rejected")
	}
	return []byte("%PDF-" + data.Body), nil
}

type fakeNotifier struct {
	prompts []outreach.ApprovalPrompt
	notices []outreach.ErrorNotice
}

func (f *fakeNotifier) SendApprovalPrompt(_ context.Context, p outreach.ApprovalPrompt) (outreach.MessageRef, error) {
	f.prompts = append(f.prompts, p)
	return outreach.MessageRef{ChatID: 100, MessageID: len(f.prompts)}, nil
}

func (f *fakeNotifier) SendErrorNotice(_ context.Context, n outreach.ErrorNotice) error {
	f.notices = append(f.notices, n)
	return nil
}

type fakeMail struct {
	requests []outreach.MailRequest
}

func (f *fakeMail) Send(_ context.Context, req outreach.MailRequest) (string, error) {
	f.requests = append(f.requests, req)
	return "job-1", nil
}

type processorFixture struct {
	crm      *fakeCRM
	letters  *fakeLetters
	renderer *fakeRenderer
	notifier *fakeNotifier
	mail     *fakeMail
	queue    *filequeue.Queue
	proc     *WorkflowProcessor
}

func newProcessorFixture(t *testing.T, cfg ProcessorConfig) *processorFixture {
	t.Helper()
	q, err := filequeue.New(t.TempDir())
	require.NoError(t, err)
	f := &processorFixture{
		crm:      &fakeCRM{contacts: map[outreach.ContactID]*outreach.Contact{}},
		letters:  &fakeLetters{},
		renderer: &fakeRenderer{},
		notifier: &fakeNotifier{},
		mail:     &fakeMail{},
		queue:    q,
	}
	f.proc = NewWorkflowProcessor(Collaborators{
		CRM:      f.crm,
		Letters:  f.letters,
		Renderer: f.renderer,
		Mail:     f.mail,
		Notifier: f.notifier,
		Queue:    q,
	}, cfg)
	return f
}

func testContact() *outreach.Contact {
	addr := validAddress()
	return &outreach.Contact{ID: "c1", FullName: "Jane Smith", Email: "crm@acme.example", LinkedInID: "jane", MailingAddress: &addr}
}

func testDossier() *outreach.DossierResult {
	return &outreach.DossierResult{
		PersonDossier:  "# Jane\n**Email**: jane@acme.example\n**Headline**: CTO at Acme",
		CompanyDossier: "# Acme\n- **Industry**: Software\n- **Website**: [acme.example](https://acme.example)",
		CompanyName:    "Acme GmbH",
	}
}

func TestLoadAvailableTasksFiltersSortsAndTruncates(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{OwnerID: "owner-1"})
	f.crm.tasks = []outreach.Task{
		{ID: "t3", CreatedTime: "2026-05-03T10:00:00+02:00"},
		{ID: "t1", CreatedTime: "2026-05-01T10:00:00+02:00"},
		{ID: "t2", CreatedTime: "2026-05-02T10:00:00+02:00"},
	}

	tasks, err := f.proc.LoadAvailableTasks(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, outreach.TaskID("t1"), tasks[0].ID)
	assert.Equal(t, outreach.TaskID("t2"), tasks[1].ID)
	assert.Equal(t, []outreach.TaskFilter{
		{Field: "Subject", Value: "Connect on LinkedIn"},
		{Field: "Status", Value: "Nicht gestartet"},
		{Field: "Owner", Value: "owner-1"},
	}, f.crm.filters)
}

func TestLoadContactRequiresAssociatedContact(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.proc.LoadContact(context.Background(), &outreach.Task{ID: "t1"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindWorkflow))

	_, err = f.proc.LoadContact(context.Background(), &outreach.Task{ID: "t1", Contact: &outreach.ContactRef{ID: "missing"}})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestApprovalStartAndRequestApproval(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{RequestedBy: 5})
	ctx := context.Background()
	contact := testContact()
	letter := outreach.LetterContent{Subject: "Hallo", Body: "Brief", RecipientName: contact.FullName}

	id, err := f.proc.ApprovalStart(ctx, "t1", contact, letter, testDossier())
	require.NoError(t, err)

	pending := approval.StatePendingApproval
	data, err := f.queue.Get(id, &pending)
	require.NoError(t, err)
	require.NotNil(t, data.RecipientEmail)
	assert.Equal(t, "jane@acme.example", *data.RecipientEmail)
	require.NotNil(t, data.RecipientTitle)
	assert.Equal(t, "CTO at Acme", *data.RecipientTitle)
	require.NotNil(t, data.Website)
	assert.Equal(t, "acme.example", *data.Website)
	require.NotNil(t, data.Industry)
	assert.Equal(t, "Software", *data.Industry)
	assert.Equal(t, approval.UserID(5), data.RequestedBy)
	require.NotNil(t, data.PDFBase64)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-Brief")), *data.PDFBase64)

	state, err := f.proc.RequestApproval(ctx, id, letter, contact)
	require.NoError(t, err)
	assert.Equal(t, approval.StateAwaitingUserResponse, state)

	require.Len(t, f.notifier.prompts, 1)
	prompt := f.notifier.prompts[0]
	assert.Equal(t, id.String(), prompt.ApprovalID)
	assert.Equal(t, "Acme GmbH", prompt.CompanyName)
	assert.Equal(t, []byte("%PDF-Brief"), prompt.Document)

	awaiting := approval.StateAwaitingUserResponse
	data, err = f.queue.Get(id, &awaiting)
	require.NoError(t, err)
	require.NotNil(t, data.TelegramChatID)
	assert.Equal(t, int64(100), *data.TelegramChatID)
}

func TestAbandonApprovalMovesRecordToFailed(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	ctx := context.Background()
	contact := testContact()
	letter := outreach.LetterContent{Subject: "Hallo", Body: "Brief", RecipientName: contact.FullName}

	id, err := f.proc.ApprovalStart(ctx, "t1", contact, letter, testDossier())
	require.NoError(t, err)
	require.NoError(t, f.proc.AbandonApproval(ctx, id))

	failed := approval.StateFailed
	data, err := f.queue.Get(id, &failed)
	require.NoError(t, err)
	assert.Equal(t, approval.StateFailed, data.State)
	pending, err := f.queue.ListByState(approval.StatePendingApproval)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovalStartShortensOversizedLetter(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{PageLimitRetries: DefaultPageLimitRetries})
	f.renderer.oversized = 2
	contact := testContact()

	id, err := f.proc.ApprovalStart(context.Background(), "t1", contact, outreach.LetterContent{Subject: "Hallo", Body: "lang"}, testDossier())
	require.NoError(t, err)

	assert.Len(t, f.letters.regenerations, 2)
	assert.Contains(t, f.letters.regenerations[0].Feedback, "2 Seiten")
	data, err := f.queue.Get(id, nil)
	require.NoError(t, err)
	assert.Equal(t, "kurz", data.CurrentLetter.Body)
	assert.Equal(t, data.CurrentLetter, data.LetterHistory[0].Content)
}

func TestApprovalStartGivesUpAfterRetries(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{PageLimitRetries: 1})
	f.renderer.oversized = 10

	_, err := f.proc.ApprovalStart(context.Background(), "t1", testContact(), outreach.LetterContent{Body: "lang"}, testDossier())
	require.Error(t, err)
	var pageErr *outreach.PageLimitError
	require.True(t, errors.As(err, &pageErr))
	assert.Equal(t, 2, pageErr.Pages)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Len(t, f.letters.regenerations, 1)

	records, err := f.queue.ListByState(approval.StatePendingApproval)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTaskStatusUpdates(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	ctx := context.Background()

	require.NoError(t, f.proc.MarkTaskInProgress(ctx, "t1"))
	require.NoError(t, f.proc.UpdateTaskErrorStatus(ctx, "t1", "boom"))
	require.NoError(t, f.proc.UpdateTaskCompletedStatus(ctx, "t1", "Brief erfolgreich versendet. Tracking: X"))

	assert.Equal(t, []statusUpdate{
		{status: "In Bearbeitung"},
		{status: "Warten auf Andere", description: "Workflow failed: boom"},
		{status: "Abgeschlossen", description: "Brief erfolgreich versendet. Tracking: X"},
	}, f.crm.statuses["t1"])
}

func TestSendApprovedDocumentUsesConfiguredSender(t *testing.T) {
	sender := outreach.MailingAddress{Street: "Absenderweg 2", City: "Hamburg", PostalCode: "20095", Country: "Germany"}
	f := newProcessorFixture(t, ProcessorConfig{SenderAddress: sender, PrintOptions: outreach.DefaultPrintOptions()})

	tracking, err := f.proc.SendApprovedDocument(context.Background(), []byte("%PDF"), validAddress())
	require.NoError(t, err)
	assert.Equal(t, "job-1", tracking)
	require.Len(t, f.mail.requests, 1)
	assert.Equal(t, sender, f.mail.requests[0].SenderAddress)
	assert.Equal(t, outreach.PrintModeDuplex, f.mail.requests[0].Options.Mode)
}

func TestGenerateImprovedLetterPassesHistory(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	addr := validAddress()
	person := "person dossier"
	data := approval.New(approval.NewApprovalID(), approval.NewParams{
		TaskID:         "t1",
		RecipientName:  "Jane Smith",
		CompanyName:    "Acme GmbH",
		Letter:         outreach.LetterContent{Subject: "Hallo", Body: "v1"},
		MailingAddress: &addr,
		PersonDossier:  &person,
	}, now)
	require.NoError(t, data.TransitionTo(approval.StateAwaitingUserResponse, now))
	require.NoError(t, data.RecordFeedback(approval.Feedback{Text: "persönlicher"}, now))

	letter, err := f.proc.GenerateImprovedLetter(context.Background(), data, "persönlicher")
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", letter.RecipientName)
	assert.Equal(t, "Acme GmbH", letter.CompanyName)

	require.Len(t, f.letters.regenerations, 1)
	req := f.letters.regenerations[0]
	assert.Equal(t, "persönlicher", req.Feedback)
	assert.Equal(t, "person dossier", req.PersonDossier)
	require.Len(t, req.History, 1)
	assert.Equal(t, "persönlicher", req.History[0].Feedback)
	assert.Equal(t, addr, req.Address)
}
