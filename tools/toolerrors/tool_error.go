// Package toolerrors provides the structured error type tool invocations
// return, closed over the kind taxonomy SPEC_FULL.md §6 names for the tool
// interface: NotFound, PermissionDenied, InvalidArgs, Timeout, Cancelled,
// Upstream. It preserves error chains and supports errors.Is/As, adapted
// from the teacher's runtime/agent/toolerrors package.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of tool failure categories.
type Kind string

const (
	NotFound         Kind = "not_found"
	PermissionDenied Kind = "permission_denied"
	InvalidArgs      Kind = "invalid_args"
	Timeout          Kind = "timeout"
	Cancelled        Kind = "cancelled"
	Upstream         Kind = "upstream"
)

// ToolError represents a structured tool failure that preserves message,
// kind, and causal context while still implementing the standard error
// interface. Tool errors may be nested via Cause to retain rich diagnostics
// across retries and agent-as-tool hops.
type ToolError struct {
	// Kind classifies the failure into the closed taxonomy above.
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error, enabling error chains with
	// errors.Is/As.
	Cause *ToolError
}

// New constructs a ToolError of the given kind with the provided message.
func New(kind Kind, message string) *ToolError {
	if message == "" {
		message = string(kind)
	}
	return &ToolError{Kind: kind, Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error. The
// cause is converted into a ToolError chain so error metadata survives
// serialization while still supporting errors.Is/As through Unwrap.
func NewWithCause(kind Kind, message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain, classifying
// unrecognized errors as Upstream.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Kind: Upstream, Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns the string as
// an Upstream ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(Upstream, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target has the same Kind, so callers can write
// errors.Is(err, &ToolError{Kind: toolerrors.Timeout}) without matching the
// message text.
func (e *ToolError) Is(target error) bool {
	t, ok := target.(*ToolError)
	if !ok || t == nil {
		return false
	}
	return e.Kind == t.Kind
}
