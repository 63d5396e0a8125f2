package kernel

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a KernelError without leaking more than the
// taxonomy (§4.4, §7).
type ErrorKind string

const (
	ErrUnauthorized     ErrorKind = "unauthorized"
	ErrIllegalTransition ErrorKind = "illegal_transition"
	ErrInputTooLarge     ErrorKind = "input_too_large"
	ErrMalformed         ErrorKind = "malformed"
	ErrClockSkew         ErrorKind = "clock_skew"
	ErrOverflow          ErrorKind = "overflow"
)

// KernelError is returned by Reduce instead of mutating WorldState. Kernel
// errors are returned to the runtime verbatim and never mutate state (§7
// propagation policy); the kernel never panics on a valid-shape input.
type KernelError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("kernel: %s: %s", e.Kind, e.Message)
}

// Is supports errors.Is comparisons against a KernelError of the same Kind
// constructed with no message, e.g. errors.Is(err, &KernelError{Kind: ErrUnauthorized}).
func (e *KernelError) Is(target error) bool {
	var t *KernelError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func unauthorized(msg string) *KernelError      { return &KernelError{Kind: ErrUnauthorized, Message: msg} }
func illegalTransition(msg string) *KernelError { return &KernelError{Kind: ErrIllegalTransition, Message: msg} }
func inputTooLarge(msg string) *KernelError     { return &KernelError{Kind: ErrInputTooLarge, Message: msg} }
func malformed(msg string) *KernelError         { return &KernelError{Kind: ErrMalformed, Message: msg} }
func clockSkew(msg string) *KernelError         { return &KernelError{Kind: ErrClockSkew, Message: msg} }
