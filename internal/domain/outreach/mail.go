// internal/domain/outreach/mail.go
package outreach

type PrintColor string

const (
	PrintColorColor      PrintColor = "color"
	PrintColorBlackWhite PrintColor = "black_white"
)

type PrintMode string

const (
	PrintModeSimplex PrintMode = "simplex"
	PrintModeDuplex  PrintMode = "duplex"
)

type ShippingType string

const (
	ShippingStandard   ShippingType = "standard"
	ShippingExpress    ShippingType = "express"
	ShippingRegistered ShippingType = "registered"
)

// PrintOptions controls how the mail service prints and ships a letter.
type PrintOptions struct {
	Color    PrintColor
	Mode     PrintMode
	Shipping ShippingType
}

// DefaultPrintOptions prints in color, duplex, shipped standard.
func DefaultPrintOptions() PrintOptions {
	return PrintOptions{Color: PrintColorColor, Mode: PrintModeDuplex, Shipping: ShippingStandard}
}

// MailRequest is one physical letter submission.
type MailRequest struct {
	Document         []byte
	RecipientAddress MailingAddress
	SenderAddress    MailingAddress
	Options          PrintOptions
}
