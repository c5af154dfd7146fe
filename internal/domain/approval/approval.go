// internal/domain/approval/approval.go
package approval

import (
	"time"

	"letter_outreach_bot/internal/domain/outreach"
)

// Feedback is a reviewer's change request for the letter it is attached to.
type Feedback struct {
	Text       string    `json:"text"`
	ProvidedBy UserID    `json:"provided_by"`
	ProvidedAt time.Time `json:"provided_at"`
}

// LetterHistoryEntry is one drafted iteration. Entries are append-only; only the last one may
// receive feedback.
type LetterHistoryEntry struct {
	Iteration int                    `json:"iteration"`
	Content   outreach.LetterContent `json:"content"`
	Feedback  *Feedback              `json:"feedback,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ApprovalData is one letter under review together with its full revision history.
//
// CurrentLetter always equals the content of the last LetterHistory entry, and iterations are
// numbered contiguously from 1. State changes only through the transition methods below.
type ApprovalData struct {
	ApprovalID     ApprovalID             `json:"approval_id"`
	TaskID         outreach.TaskID        `json:"task_id"`
	ContactID      outreach.ContactID     `json:"contact_id"`
	State          State                  `json:"state"`
	RecipientName  string                 `json:"recipient_name"`
	RecipientEmail *string                `json:"recipient_email,omitempty"`
	RecipientTitle *string                `json:"recipient_title,omitempty"`
	CompanyName    string                 `json:"company_name"`
	CurrentLetter  outreach.LetterContent `json:"current_letter"`
	LetterHistory  []LetterHistoryEntry   `json:"letter_history"`
	RequestedAt    time.Time              `json:"requested_at"`
	RequestedBy    UserID                 `json:"requested_by"`
	UpdatedAt      time.Time              `json:"updated_at"`

	TelegramMessageID *int   `json:"telegram_message_id,omitempty"`
	TelegramChatID    *int64 `json:"telegram_chat_id,omitempty"`

	MailingAddress *outreach.MailingAddress `json:"mailing_address,omitempty"`
	PDFBase64      *string                  `json:"pdf_base64,omitempty"`
	PersonDossier  *string                  `json:"person_dossier,omitempty"`
	CompanyDossier *string                  `json:"company_dossier,omitempty"`
	Industry       *string                  `json:"industry,omitempty"`
	Website        *string                  `json:"website,omitempty"`

	// Set once the approved letter has been handed to the mail service.
	DispatchResult *string    `json:"dispatch_result,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
}

// NewParams holds everything known about a letter when it is first submitted for review.
type NewParams struct {
	TaskID         outreach.TaskID
	ContactID      outreach.ContactID
	RecipientName  string
	RecipientEmail *string
	RecipientTitle *string
	CompanyName    string
	Letter         outreach.LetterContent
	RequestedBy    UserID
	MailingAddress *outreach.MailingAddress
	PDFBase64      *string
	PersonDossier  *string
	CompanyDossier *string
	Industry       *string
	Website        *string
}

// New builds a PendingApproval record with a single history entry.
func New(id ApprovalID, p NewParams, now time.Time) *ApprovalData {
	return &ApprovalData{
		ApprovalID:     id,
		TaskID:         p.TaskID,
		ContactID:      p.ContactID,
		State:          StatePendingApproval,
		RecipientName:  p.RecipientName,
		RecipientEmail: p.RecipientEmail,
		RecipientTitle: p.RecipientTitle,
		CompanyName:    p.CompanyName,
		CurrentLetter:  p.Letter,
		LetterHistory: []LetterHistoryEntry{{
			Iteration: 1,
			Content:   p.Letter,
			CreatedAt: now,
		}},
		RequestedAt:    now,
		RequestedBy:    p.RequestedBy,
		UpdatedAt:      now,
		MailingAddress: p.MailingAddress,
		PDFBase64:      p.PDFBase64,
		PersonDossier:  p.PersonDossier,
		CompanyDossier: p.CompanyDossier,
		Industry:       p.Industry,
		Website:        p.Website,
	}
}

// CurrentIteration is the number of drafted iterations so far.
func (a *ApprovalData) CurrentIteration() int {
	return len(a.LetterHistory)
}

// LatestFeedback returns the feedback on the newest iteration, if any.
func (a *ApprovalData) LatestFeedback() *Feedback {
	if len(a.LetterHistory) == 0 {
		return nil
	}
	return a.LetterHistory[len(a.LetterHistory)-1].Feedback
}

// TransitionTo moves the record to next if the state machine allows it.
func (a *ApprovalData) TransitionTo(next State, now time.Time) error {
	if !a.State.CanTransitionTo(next) {
		return &InvalidTransitionError{ID: a.ApprovalID, From: a.State, To: next}
	}
	a.State = next
	a.UpdatedAt = now
	return nil
}

// RecordFeedback attaches feedback to the newest iteration and moves the record to
// NeedsImprovement.
func (a *ApprovalData) RecordFeedback(fb Feedback, now time.Time) error {
	if err := a.TransitionTo(StateNeedsImprovement, now); err != nil {
		return err
	}
	if len(a.LetterHistory) > 0 {
		a.LetterHistory[len(a.LetterHistory)-1].Feedback = &fb
	}
	return nil
}

// RequeueWithLetter appends an improved iteration and moves the record back to PendingApproval.
// The stored Telegram message belongs to the previous iteration and is cleared.
func (a *ApprovalData) RequeueWithLetter(letter outreach.LetterContent, now time.Time) error {
	if err := a.TransitionTo(StatePendingApproval, now); err != nil {
		return err
	}
	a.LetterHistory = append(a.LetterHistory, LetterHistoryEntry{
		Iteration: len(a.LetterHistory) + 1,
		Content:   letter,
		CreatedAt: now,
	})
	a.CurrentLetter = letter
	a.TelegramMessageID = nil
	a.TelegramChatID = nil
	return nil
}

// Check is a precondition evaluated on the stored record before a decision is applied.
type Check func(a *ApprovalData) error

// FromPrompt requires the decision to come from the prompt posted for the current iteration.
// A zero messageID means the decision did not come from a prompt and is always accepted.
func FromPrompt(messageID int) Check {
	return func(a *ApprovalData) error {
		if messageID == 0 {
			return nil
		}
		if a.TelegramMessageID == nil || *a.TelegramMessageID != messageID {
			return &StalePromptError{ID: a.ApprovalID, MessageID: messageID, Iteration: a.CurrentIteration()}
		}
		return nil
	}
}

// SetMessageReference remembers where the approval prompt was posted.
func (a *ApprovalData) SetMessageReference(chatID int64, messageID int, now time.Time) {
	a.TelegramChatID = &chatID
	a.TelegramMessageID = &messageID
	a.UpdatedAt = now
}

// MarkDispatched records that the approved letter was sent.
func (a *ApprovalData) MarkDispatched(result string, now time.Time) {
	a.DispatchResult = &result
	a.DispatchedAt = &now
	a.UpdatedAt = now
}

// Dispatched reports whether the letter was already sent.
func (a *ApprovalData) Dispatched() bool {
	return a.DispatchedAt != nil
}

// SetDocument replaces the rendered document that will be mailed on approval.
func (a *ApprovalData) SetDocument(pdfBase64 string, now time.Time) {
	a.PDFBase64 = &pdfBase64
	a.UpdatedAt = now
}
