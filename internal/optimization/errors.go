package optimization

import (
	"errors"
	"fmt"
)

// Kind classifies optimization errors
type Kind string

const (
	// KindInvalidConfig covers bad bounds, too-small populations and
	// inconsistent curves. Detected before any search begins.
	KindInvalidConfig Kind = "invalid_config"
	// KindEmptyInput means no captured curve was supplied.
	KindEmptyInput Kind = "empty_input"
	// KindNumericFailure marks a non-finite fitness. The search layer never
	// returns it; it is counted and the candidate is rejected.
	KindNumericFailure Kind = "numeric_failure"
	// KindInternal is anything else that prevented a run from completing.
	KindInternal Kind = "internal"
)

// Sentinel errors for errors.Is matching on kind.
var (
	ErrInvalidConfig  = &Error{Kind: KindInvalidConfig}
	ErrEmptyInput     = &Error{Kind: KindEmptyInput}
	ErrNumericFailure = &Error{Kind: KindNumericFailure}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the error.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind != "" && t.Kind == e.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewInvalidConfig creates an InvalidConfig error.
func NewInvalidConfig(message string) *Error {
	return &Error{Kind: KindInvalidConfig, Message: message}
}

// NewInvalidConfigf creates an InvalidConfig error with a formatted message.
func NewInvalidConfigf(format string, args ...interface{}) *Error {
	return NewInvalidConfig(fmt.Sprintf(format, args...))
}

// NewEmptyInput creates an EmptyInput error.
func NewEmptyInput(message string) *Error {
	return &Error{Kind: KindEmptyInput, Message: message}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil. An *Error keeps its kind,
// anything else becomes KindInternal.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	kind := KindInternal
	var oe *Error
	if errors.As(err, &oe) {
		kind = oe.Kind
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	return WrapError(err, fmt.Sprintf(format, args...))
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
