// internal/domain/outreach/ports.go
package outreach

import (
	"context"
	"fmt"
	"time"
)

// CRM is the contact and task system of record. Lookups return (nil, nil) when the entity does
// not exist.
type CRM interface {
	GetTask(ctx context.Context, id TaskID) (*Task, error)
	SearchTasks(ctx context.Context, filters []TaskFilter) ([]Task, error)
	GetContact(ctx context.Context, id ContactID) (*Contact, error)
	UpdateContactAddress(ctx context.Context, id ContactID, address MailingAddress) error
	UpdateTaskStatus(ctx context.Context, id TaskID, status, description string) error
	AttachFile(ctx context.Context, id TaskID, data []byte, filename string) error
	CreateFollowUpTask(ctx context.Context, contactID ContactID, relatedTask TaskID) (TaskID, error)
}

// ProfileStore looks up exported LinkedIn profiles. A missing profile is (nil, nil).
type ProfileStore interface {
	GetProfile(ctx context.Context, linkedInID string) (*Profile, error)
}

// DossierGenerator researches a person and their company.
type DossierGenerator interface {
	GenerateDossiers(ctx context.Context, profile *Profile, contactID ContactID) (*DossierResult, error)
}

// LetterRequest is the input for a first draft.
type LetterRequest struct {
	Contact Contact
	Profile Profile
	Dossier DossierResult
}

// Revision is one earlier draft and the feedback it received.
type Revision struct {
	Iteration int
	Content   LetterContent
	Feedback  string
}

// RegenerationRequest is the input for an improved draft.
type RegenerationRequest struct {
	RecipientName  string
	RecipientEmail string
	RecipientTitle string
	CompanyName    string
	Current        LetterContent
	History        []Revision
	Feedback       string
	PersonDossier  string
	CompanyDossier string
	Address        MailingAddress
}

// LetterGenerator drafts letters.
type LetterGenerator interface {
	GenerateLetter(ctx context.Context, req LetterRequest) (LetterContent, error)
	RegenerateLetter(ctx context.Context, req RegenerationRequest) (LetterContent, error)
}

// DocumentRenderer fills a document template and returns the rendered PDF.
type DocumentRenderer interface {
	Render(ctx context.Context, template string, data LetterTemplateData) ([]byte, error)
}

// PageLimitError is returned by a DocumentRenderer when the letter does not fit on one page.
type PageLimitError struct {
	Pages int
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("letter exceeds one page limit (generated %d pages)", e.Pages)
}

// MailDispatcher submits a physical letter and returns the carrier's tracking id.
type MailDispatcher interface {
	Send(ctx context.Context, req MailRequest) (string, error)
}

// ApprovalPrompt is what a reviewer sees when asked to approve a letter.
type ApprovalPrompt struct {
	ApprovalID    string
	RecipientName string
	CompanyName   string
	Subject       string
	Iteration     int
	Document      []byte
}

// MessageRef identifies a posted prompt so it can be found again.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ErrorNotice tells the operator that a task could not be processed.
type ErrorNotice struct {
	TaskID      TaskID
	ContactName string
	CompanyName string
	Message     string
	At          time.Time
}

// Notifier delivers approval prompts and error notices to the reviewer.
type Notifier interface {
	SendApprovalPrompt(ctx context.Context, prompt ApprovalPrompt) (MessageRef, error)
	SendErrorNotice(ctx context.Context, notice ErrorNotice) error
}
