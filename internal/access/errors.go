package access

import (
	"errors"
	"fmt"
)

// Kind classifies orchestrator failures
type Kind string

// Error kinds
const (
	KindAlreadyActive        Kind = "already_active"
	KindNoActiveAccess       Kind = "no_active_access"
	KindNotFound             Kind = "not_found"
	KindInvalidCode          Kind = "invalid_code"
	KindIssuerGatewayError   Kind = "issuer_gateway_error"
	KindIssuerGatewayTimeout Kind = "issuer_gateway_timeout"
	KindTemplateError        Kind = "template_error"
	KindPersistenceError     Kind = "persistence_error"
	KindForbidden            Kind = "forbidden"
	KindInvalidInput         Kind = "invalid_input"
	KindInternal             Kind = "internal_error"
)

// Error is a classified orchestrator failure. Message is safe to show to
// callers; the wrapped error may carry diagnostics that are not.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of an orchestrator error, or KindInternal for any
// other non-nil error
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an orchestrator error of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
