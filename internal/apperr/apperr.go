package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that map errors onto transport
// responses or recovery behavior.
type Kind int

const (
	// KindValidation marks malformed or missing input, rejected before any write.
	KindValidation Kind = iota + 1
	// KindNotFound marks a lookup for an unknown room or participant.
	KindNotFound
	// KindConflict marks an action that is invalid for the current state.
	KindConflict
	// KindProvider marks an unreachable or malformed generative-provider response.
	KindProvider
	// KindPersistence marks a storage failure surfaced generically.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindProvider:
		return "provider"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a kind, the originating operation and a
// caller-facing message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and operation context to a cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf extracts the kind from an error chain, defaulting to persistence
// for unclassified failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
