// internal/domain/outreach/contact.go
package outreach

// TaskID is a CRM task identifier.
type TaskID string

// ContactID is a CRM contact identifier.
type ContactID string

func (id TaskID) String() string    { return string(id) }
func (id ContactID) String() string { return string(id) }

// Contact is a CRM contact. LinkedInID links it to a profile in the profile store.
type Contact struct {
	ID             ContactID       `json:"id"`
	FullName       string          `json:"full_name"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Company        string          `json:"company,omitempty"`
	LinkedInID     string          `json:"linkedin_id,omitempty"`
	MailingAddress *MailingAddress `json:"mailing_address,omitempty"`
}

// Profile is a LinkedIn profile as exported to the profile store.
type Profile struct {
	ProfileID  string         `json:"profile_id"`
	ProfileURL string         `json:"profile_url"`
	FullName   string         `json:"full_name"`
	Headline   string         `json:"headline,omitempty"`
	Location   string         `json:"location,omitempty"`
	Company    string         `json:"company,omitempty"`
	RawData    map[string]any `json:"raw_data,omitempty"`
}

// ContactRef is the contact a task is associated with ("Who_Id" in the CRM).
type ContactRef struct {
	ID   ContactID `json:"id"`
	Name string    `json:"name,omitempty"`
}

// Task is a CRM task that asks for an outreach letter to one contact.
type Task struct {
	ID          TaskID      `json:"id"`
	Subject     string      `json:"subject"`
	Status      string      `json:"status,omitempty"`
	OwnerID     string      `json:"owner_id,omitempty"`
	CreatedTime string      `json:"created_time,omitempty"`
	Contact     *ContactRef `json:"contact,omitempty"`
}

// DossierResult is what the dossier generator extracts for one contact.
type DossierResult struct {
	PersonDossier  string          `json:"person_dossier"`
	CompanyDossier string          `json:"company_dossier"`
	CompanyName    string          `json:"company_name"`
	MailingAddress *MailingAddress `json:"mailing_address,omitempty"`
}

// CRM task statuses. The CRM instance is configured in German.
const (
	TaskStatusNotStarted = "Nicht gestartet"
	TaskStatusInProgress = "In Bearbeitung"
	TaskStatusWaiting    = "Warten auf Andere"
	TaskStatusCompleted  = "Abgeschlossen"
)

// Task search filters used to pick up outreach work.
const (
	TaskSubjectFilter = "Connect on LinkedIn"
	TaskStatusFilter  = TaskStatusNotStarted
)

// TaskFilter is one equality criterion of a CRM task search.
type TaskFilter struct {
	Field string
	Value string
}
