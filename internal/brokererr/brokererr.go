// Package brokererr defines the error taxonomy shared by the escrow,
// negotiation, webhook, and tipping engines.
package brokererr

import "errors"

// Kind is a closed set of error categories. Engines never return bare
// errors for caller-visible failures; they wrap one of these kinds.
type Kind int

const (
	// InvalidInput is a syntactic failure: malformed URL, bad repo
	// reference, non-positive amount, unsupported token.
	InvalidInput Kind = iota
	// Unauthorized means the caller identifier does not match the
	// required role for the operation.
	Unauthorized
	// PreconditionViolated means the current state rejects the
	// operation (wrong state, missing proof, expired quote, duplicate
	// approver). Carries the current state for diagnostics via Error.State
	// (set with WithState).
	PreconditionViolated
	// NotFound means the referenced id is absent.
	NotFound
	// InvalidEventType means the event tag is not in the closed set.
	InvalidEventType
	// NoValidEventTypes means a subscription attempt's event filter was
	// empty after intersecting with the closed set.
	NoValidEventTypes
	// TransientDeliveryFailure is a network/HTTP non-2xx outcome,
	// handled internally by the webhook retry policy.
	TransientDeliveryFailure
	// PermanentDeliveryFailure means delivery attempts were exhausted.
	PermanentDeliveryFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Unauthorized:
		return "unauthorized"
	case PreconditionViolated:
		return "precondition_violated"
	case NotFound:
		return "not_found"
	case InvalidEventType:
		return "invalid_event_type"
	case NoValidEventTypes:
		return "no_valid_event_types"
	case TransientDeliveryFailure:
		return "transient_delivery_failure"
	case PermanentDeliveryFailure:
		return "permanent_delivery_failure"
	default:
		return "unknown"
	}
}

// Error is the concrete error type engines return for caller-visible
// failures. State, when set, carries the entity's current state at the
// time of a PreconditionViolated failure.
type Error struct {
	Kind    Kind
	Message string
	State   string
	cause   error
}

func (e *Error) Error() string {
	if e.State != "" {
		return e.Message + " (state=" + e.State + ")"
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithState attaches the entity's current state for diagnostics.
func (e *Error) WithState(state string) *Error {
	e.State = state
	return e
}

// Is reports whether err is a brokererr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
