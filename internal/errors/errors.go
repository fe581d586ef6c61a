// Package errors provides the error taxonomy shared across the bofit run loop.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the stage of the run that produced it.
type Kind int

const (
	// KindUnknown is the zero value and carries no classification.
	KindUnknown Kind = iota
	// KindConfig marks malformed or missing configuration. Always fatal and
	// surfaced before the first iteration runs.
	KindConfig
	// KindSolver marks an external solver process failure or unparsable
	// solver output. Fatal for the run; prior iterations stay resumable.
	KindSolver
	// KindScore marks a curve misalignment between computed and target data.
	KindScore
	// KindRestart marks inconsistent prior run history. Recoverable: the
	// caller downgrades to a fresh run instead of failing.
	KindRestart
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindSolver:
		return "solver"
	case KindScore:
		return "score"
	case KindRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Error is an error with a kind, the operation that produced it, and an
// optional wrapped cause.
type Error struct {
	// Kind classifies the error for propagation policy decisions.
	Kind Kind
	// Op is the operation that was being performed.
	Op string
	// Message describes what went wrong.
	Message string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	prefix := e.Kind.String()
	if e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", prefix, e.Op)
	}
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOp adds operation context to the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// New creates a new error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new error with the given kind and formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind and message. Returns nil when err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf wraps err with a kind and formatted message. Returns nil when err is nil.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, walking the wrap chain until a classified
// error is found. Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if errors.As(err, &e) {
			if e.Kind != KindUnknown {
				return e.Kind
			}
			err = e.Err
			continue
		}
		return KindUnknown
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
