// internal/domain/outreach/letter.go
package outreach

// LetterContent is an immutable snapshot of one drafted letter.
type LetterContent struct {
	Subject       string `json:"subject"`
	Greeting      string `json:"greeting"`
	Body          string `json:"body"`
	SenderName    string `json:"sender_name"`
	RecipientName string `json:"recipient_name"`
	CompanyName   string `json:"company_name"`
}

// LetterTemplate is the document template every letter is rendered with.
const LetterTemplate = "letter_template.odt"

// LetterTemplateData is the bookmark data for LetterTemplate. The JSON names are the bookmark
// names inside the template.
type LetterTemplateData struct {
	Subject    string  `json:"Betreff"`
	Greeting   string  `json:"Anrede"`
	Body       string  `json:"Brieftext"`
	SenderName string  `json:"Sender-Name"`
	Company    string  `json:"Company"`
	Recipient  string  `json:"Recipient"`
	Street     string  `json:"Street 1"`
	Street2    *string `json:"Street-2"`
	City       string  `json:"City"`
	ZipCode    string  `json:"ZipCode"`
	Country    string  `json:"Country"`
}

// NewLetterTemplateData combines a letter with the address it will be mailed to.
func NewLetterTemplateData(letter LetterContent, address MailingAddress) LetterTemplateData {
	return LetterTemplateData{
		Subject:    letter.Subject,
		Greeting:   letter.Greeting,
		Body:       letter.Body,
		SenderName: letter.SenderName,
		Company:    letter.CompanyName,
		Recipient:  letter.RecipientName,
		Street:     address.Street,
		Street2:    address.State,
		City:       address.City,
		ZipCode:    address.PostalCode,
		Country:    address.Country,
	}
}
