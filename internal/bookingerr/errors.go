// Package bookingerr defines the typed error taxonomy the booking engine
// classifies faults into. RetryEngine, CircuitBreaker and the
// BookingStateMachine all match on Kind rather than on error strings.
package bookingerr

import "fmt"

// Kind identifies a class of failure with a fixed propagation policy.
type Kind string

const (
	KindInvalidConfig  Kind = "invalid_config"
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindRateLimited    Kind = "rate_limited"
	KindServerError    Kind = "server_error"
	KindElementNotFound Kind = "element_not_found"
	KindCircuitOpen    Kind = "circuit_open"
	KindNoEligiblePair Kind = "no_eligible_pair"
	KindCancelled      Kind = "cancelled"
	KindValidation     Kind = "validation"
	KindUnknown        Kind = "unknown"
)

// Error wraps an underlying cause with a Kind and an optional component tag
// used for log correlation.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a typed Error.
func New(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindUnknown when err is
// not one of ours.
func KindOf(err error) Kind {
	var be *Error
	if err == nil {
		return ""
	}
	if ok := As(err, &be); ok {
		return be.Kind
	}
	return KindUnknown
}

// As is a small local equivalent of errors.As for *Error: it walks the
// single-error Unwrap chain and stores the first *Error it finds in target.
func As(err error, target **Error) bool {
	for err != nil {
		if be, ok := err.(*Error); ok {
			*target = be
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether errors of this Kind are retryable in principle;
// the RetryEngine's policy may further restrict this per attempt context.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited, KindServerError, KindElementNotFound:
		return true
	default:
		return false
	}
}
