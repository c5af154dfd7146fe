// internal/domain/outreach/address.go
package outreach

import (
	"errors"
	"strings"

	"letter_outreach_bot/internal/domain/apperror"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// MailingAddress is a postal destination. State is optional; the other fields are required
// for a letter to be dispatched.
type MailingAddress struct {
	Street     string  `json:"street" validate:"required"`
	City       string  `json:"city" validate:"required"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country" validate:"required"`
}

// StateOrEmpty returns the state/region line or "".
func (a MailingAddress) StateOrEmpty() string {
	if a.State == nil {
		return ""
	}
	return *a.State
}

// Validate reports a Validation error naming every required field that is blank.
func (a MailingAddress) Validate() error {
	trimmed := MailingAddress{
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
	err := validate.Struct(trimmed)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.Wrap(apperror.KindValidation, err, "invalid mailing address")
	}
	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, addressFieldNames[fe.Field()])
	}
	return apperror.Validation("invalid mailing address, missing: %s", strings.Join(missing, ", "))
}

var addressFieldNames = map[string]string{
	"Street":     "street",
	"City":       "city",
	"PostalCode": "postal_code",
	"Country":    "country",
}
