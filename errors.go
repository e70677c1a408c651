package strix

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCallbackKind is returned when a callback kind name is not one of the seven lifecycle points.
	ErrUnsupportedCallbackKind = errors.New("unsupported callback kind")
	// ErrNotTasker is returned when a job without a tasker is submitted.
	ErrNotTasker = errors.New("job has no tasker")
	// ErrNotHandler is returned when a handler without a body is invoked.
	ErrNotHandler = errors.New("handler has no body")
	// ErrHandlerSpent is returned when a handler that already ran is invoked again without being reusable.
	ErrHandlerSpent = errors.New("handler already ran and is not reusable")
	// ErrNotInvoked is returned when waiting on a handler that was never invoked.
	ErrNotInvoked = errors.New("handler was never invoked")
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrAttributeNotSet is returned when reading an identity, parent or scheduler that was never assigned.
	ErrAttributeNotSet = errors.New("attribute not set")
	// ErrSchedulerMismatch is returned when a node bound to one scheduler is submitted to another.
	ErrSchedulerMismatch = errors.New("node is bound to a different scheduler")
)

// NodeError records the failure of a node body or of one of its callbacks.
type NodeError struct {
	NodeID ID
	// Kind is the lifecycle point whose callback failed, empty when the body itself failed.
	Kind Kind
	Err  error
}

func (e *NodeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("node %s: %s callback: %v", e.NodeID, e.Kind, e.Err)
	}
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// panicError wraps a recovered panic value.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func recoverErr(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return panicError{value: r}
}
