// Package chatmerr defines the typed error taxonomy shared across the chat
// service: every error a component returns across a package boundary is,
// or wraps, an *Error with a Kind the caller can branch on via errors.Is.
package chatmerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error for caller-side branching (retry, surface to the
// user, log and drop, ...). New kinds should be appended, never reordered,
// since callers may persist them.
type Kind int

const (
	// KindUnknown is the zero value; never returned intentionally.
	KindUnknown Kind = iota
	// KindTransient marks an error worth retrying (rate limit, timeout, a
	// dropped upstream connection).
	KindTransient
	// KindPermanent marks an error retrying will not fix (invalid request,
	// unsupported model, malformed configuration).
	KindPermanent
	// KindSchemaViolation marks a model response that would not validate
	// against the requested output schema after every retry attempt.
	KindSchemaViolation
	// KindIterationLimitExceeded marks a workflow superstep scheduler that
	// hit its max-iterations bound without converging.
	KindIterationLimitExceeded
	// KindToolLoopExhausted marks an agent that hit its tool-call budget
	// without producing a final response.
	KindToolLoopExhausted
	// KindBusClosed marks an attempt to publish to a closed event bus.
	KindBusClosed
	// KindTimeout marks a deadline exceeded on a bounded operation.
	KindTimeout
	// KindNotFound marks a lookup (conversation, memory record, tool) that
	// found nothing.
	KindNotFound
)

// String renders the Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindSchemaViolation:
		return "schema_violation"
	case KindIterationLimitExceeded:
		return "iteration_limit_exceeded"
	case KindToolLoopExhausted:
		return "tool_loop_exhausted"
	case KindBusClosed:
		return "bus_closed"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
// Component holds the emitting subsystem's name (e.g. "agent", "convstore")
// for log correlation; it is not part of equality checks.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can do errors.Is(err, chatmerr.KindTransient)
// style checks by comparing against a sentinel built with New(kind, "", "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap constructs an *Error carrying an underlying cause.
func Wrap(kind Kind, component, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) a *chatmerr.Error,
// returning KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is(kind) sentinels for the common errors.Is(err, chatmerr.Transient) idiom.
var (
	Transient              = New(KindTransient, "", "")
	Permanent              = New(KindPermanent, "", "")
	SchemaViolation        = New(KindSchemaViolation, "", "")
	IterationLimitExceeded = New(KindIterationLimitExceeded, "", "")
	ToolLoopExhausted      = New(KindToolLoopExhausted, "", "")
	BusClosed              = New(KindBusClosed, "", "")
	Timeout                = New(KindTimeout, "", "")
	NotFound               = New(KindNotFound, "", "")
)
