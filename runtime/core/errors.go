package tokaruntime

import (
	"errors"
	"fmt"

	"github.com/toka-systems/toka/kernel"
)

// ErrorKind classifies a RuntimeError per SPEC_FULL.md §4.5's closed
// taxonomy: Unauthorized | Kernel | Persistence | Timeout | Shutdown |
// Backpressure.
type ErrorKind string

const (
	ErrUnauthorized ErrorKind = "unauthorized"
	ErrKernel       ErrorKind = "kernel"
	ErrPersistence  ErrorKind = "persistence"
	ErrTimeout      ErrorKind = "timeout"
	ErrShutdown     ErrorKind = "shutdown"
	ErrBackpressure ErrorKind = "backpressure"
)

// RuntimeError is returned by Submit instead of a KernelEvent. Unauthorized
// covers capability-validation failures (bad signature, expired, replayed);
// a kernel-level authorization failure (e.g. missing permission bit) instead
// surfaces as Kernel wrapping a *kernel.KernelError of kind Unauthorized —
// the two are distinct failure layers even though both reject the caller.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Kernel  *kernel.KernelError
	Cause   error
}

func (e *RuntimeError) Error() string {
	switch {
	case e.Kernel != nil:
		return fmt.Sprintf("runtime: %s: %s", e.Kind, e.Kernel.Error())
	case e.Message != "":
		return fmt.Sprintf("runtime: %s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("runtime: %s", e.Kind)
	}
}

func (e *RuntimeError) Unwrap() error {
	if e.Kernel != nil {
		return e.Kernel
	}
	return e.Cause
}

// Is supports errors.Is comparisons against a RuntimeError of the same Kind,
// e.g. errors.Is(err, &RuntimeError{Kind: ErrShutdown}).
func (e *RuntimeError) Is(target error) bool {
	var t *RuntimeError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func unauthorizedErr(msg string) *RuntimeError {
	return &RuntimeError{Kind: ErrUnauthorized, Message: msg}
}

func kernelErr(kerr *kernel.KernelError) *RuntimeError {
	return &RuntimeError{Kind: ErrKernel, Kernel: kerr}
}

func persistenceErr(cause error) *RuntimeError {
	return &RuntimeError{Kind: ErrPersistence, Cause: cause}
}

func timeoutErr() *RuntimeError { return &RuntimeError{Kind: ErrTimeout} }

func shutdownErr() *RuntimeError { return &RuntimeError{Kind: ErrShutdown} }
