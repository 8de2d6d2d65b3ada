// Package apperr defines the error kinds shared by the identity and caregiver
// link core. Every error returned to a caller carries exactly one Kind so the
// transport layer can tailor its response without string matching.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a recoverable failure.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindCodeExpired       Kind = "CodeExpired"
	KindCodeMismatch      Kind = "CodeMismatch"
	KindNoPendingCode     Kind = "NoPendingCode"
	KindSessionNotFound   Kind = "SessionNotFound"
	KindSessionExpired    Kind = "SessionExpired"
	KindRoleMismatch      Kind = "RoleMismatch"
	KindDuplicateLink     Kind = "DuplicateLink"
	KindInvalidTransition Kind = "InvalidTransition"
	KindForbidden         Kind = "Forbidden"
	KindDeliveryFailed    Kind = "DeliveryFailed"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindInternal          Kind = "Internal"
)

// Error is a kinded error. Sentinels are declared with New and compared with
// errors.Is; wrapping with fmt.Errorf("%w") keeps the kind reachable.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New declares a kinded sentinel.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Violation is a single failed field constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every violated constraint of one input at once.
type ValidationError struct {
	Violations []Violation
}

// Add records a violation.
func (v *ValidationError) Add(field, message string) {
	v.Violations = append(v.Violations, Violation{Field: field, Message: message})
}

// OrNil returns v as an error when it holds violations.
func (v *ValidationError) OrNil() error {
	if v == nil || len(v.Violations) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Violations))
	for _, violation := range v.Violations {
		parts = append(parts, violation.Field+": "+violation.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a single-violation ValidationError.
func Invalid(field, message string) error {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

// KindOf reports the kind of err, defaulting to KindInternal for errors that
// carry none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ViolationsOf returns the field violations carried by err, if any.
func ViolationsOf(err error) []Violation {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Violations
	}
	return nil
}
