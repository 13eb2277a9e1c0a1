// Package errors defines the engine's error taxonomy: the eight error
// kinds spec §7 names, each carrying a severity and a retry
// classification, adapted from the teacher's TradSysError (which carried
// a much larger code set spanning auth, risk, and HTTP concerns no
// longer in scope here).
package errors

import (
	"fmt"
)

// Code identifies one of the engine's error kinds.
type Code string

const (
	// InvalidOrder is a shape violation: limit without price,
	// market-buy without exactly one of amount/quote_amount, or a
	// non-positive amount. Rejected synchronously; no state change.
	InvalidOrder Code = "INVALID_ORDER"

	// InsufficientAvailable means a lock or debit would drive available
	// below zero. Rejects submit synchronously; the order becomes
	// rejected.
	InsufficientAvailable Code = "INSUFFICIENT_AVAILABLE"

	// InsufficientLocked means a transfer during execution found less
	// than required locked: an invariant breach. Fatal; halts the pair
	// loop.
	InsufficientLocked Code = "INSUFFICIENT_LOCKED"

	// NotFound means the cancel target is absent.
	NotFound Code = "NOT_FOUND"

	// Forbidden means a cancel was attempted by a non-owner.
	Forbidden Code = "FORBIDDEN"

	// Overloaded means the bounded command queue was full past the
	// backpressure deadline.
	Overloaded Code = "OVERLOADED"

	// DivisionByZero means a zero price was used in quote-mode
	// conversion; surfaced to the caller as InvalidOrder.
	DivisionByZero Code = "DIVISION_BY_ZERO"

	// DeliveryFailure means a consumer write failed; retried with
	// exponential backoff, then dead-lettered.
	DeliveryFailure Code = "DELIVERY_FAILURE"
)

// Severity classifies how urgently an error needs operator attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EngineError is a structured error carrying a Code and an optional
// wrapped Cause; its severity is the Code's default (Code.Severity).
type EngineError struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *EngineError) Unwrap() error { return e.Cause }

// New creates an EngineError with no cause.
func New(code Code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// Newf creates an EngineError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *EngineError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an EngineError around an existing error.
func Wrap(err error, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{Code: code, Message: message, Cause: err}
}

// Severity returns the default severity for a Code.
func (c Code) Severity() Severity {
	switch c {
	case InsufficientLocked, DeliveryFailure:
		return SeverityCritical
	case Overloaded:
		return SeverityHigh
	case InvalidOrder, InsufficientAvailable, NotFound, Forbidden, DivisionByZero:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsFatal reports whether code is InsufficientLocked, the only class
// that must halt the pair loop rather than simply reject or retry.
func (c Code) IsFatal() bool {
	return c == InsufficientLocked
}

// IsRetryable reports whether code should be retried by the caller
// (only DeliveryFailure, per spec §7's local-recovery table) or by the
// HTTP front-end's own timeout/retry policy (Overloaded).
func (c Code) IsRetryable() bool {
	return c == DeliveryFailure || c == Overloaded
}

// CodeOf extracts the Code from err if it (transitively) is an
// *EngineError, or "" otherwise.
func CodeOf(err error) Code {
	for err != nil {
		if ee, ok := err.(*EngineError); ok {
			return ee.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
