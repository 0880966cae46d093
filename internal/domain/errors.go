package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the controller's stable taxonomy.
// Handlers and loop tick records key their messages off these values.
type Kind string

const (
	KindPolicyReject   Kind = "POLICY_REJECT"
	KindStateConflict  Kind = "STATE_CONFLICT"
	KindNotFound       Kind = "NOT_FOUND"
	KindNoSignal       Kind = "NO_SIGNAL"
	KindQuoteFailed    Kind = "QUOTE_FAILED"
	KindBundlerSend    Kind = "BUNDLER_SEND_FAIL"
	KindReceiptTimeout Kind = "RECEIPT_TIMEOUT"
	KindUserOpReverted Kind = "USEROP_REVERTED"
	KindKeyMismatch    Kind = "KEY_MISMATCH"
	KindConfigInvalid  Kind = "CONFIG_INVALID"
)

// Error is a classified error. The Kind is stable API; the message is
// free-form context for operators.
type Error struct {
	Kind    Kind
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// NewError creates a classified error.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an existing error without losing the cause chain.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors
// report an empty Kind.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
