// internal/domain/apperror/apperror.go
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry, notify or give up.
type Kind string

const (
	KindConfig             Kind = "config"
	KindAuth               Kind = "auth"
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindServiceUnavailable Kind = "service_unavailable"
	KindWorkflow           Kind = "workflow"
	KindSerialization      Kind = "serialization"
	KindDeserialization    Kind = "deserialization"
)

// Error carries a Kind together with a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	label := kindLabels[e.Kind]
	if label == "" {
		label = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", label, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", label, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var kindLabels = map[Kind]string{
	KindConfig:             "Configuration error",
	KindAuth:               "Authentication error",
	KindValidation:         "Validation error",
	KindNotFound:           "Not found",
	KindServiceUnavailable: "Service unavailable",
	KindWorkflow:           "Workflow error",
	KindSerialization:      "Serialization error",
	KindDeserialization:    "Deserialization error",
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of the outermost *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether any *Error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

func Config(format string, args ...any) *Error     { return New(KindConfig, format, args...) }
func Auth(format string, args ...any) *Error       { return New(KindAuth, format, args...) }
func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }
func Workflow(format string, args ...any) *Error   { return New(KindWorkflow, format, args...) }

func ServiceUnavailable(format string, args ...any) *Error {
	return New(KindServiceUnavailable, format, args...)
}
