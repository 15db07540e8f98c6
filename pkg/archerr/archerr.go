// Package archerr defines archflow's error taxonomy,
// following pkg/errors idiom: typed structs carrying
// structured context, plain Wrap/Wrapf helpers, and passthroughs to
// the standard errors package for Is/As/Unwrap.
package archerr

import (
	"errors"
	"fmt"
)

// Wrap annotates err with a message, or returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is, As and Unwrap re-export the standard library for callers that
// import only this package.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func Unwrap(err error) error { return errors.Unwrap(err) }

// InvalidWorkflowError is raised by the flow engine when a workflow
// definition fails load-time validation.
type InvalidWorkflowError struct {
	Reason string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", e.Reason)
}

// BrokenGraphError is raised at scheduling time when a connection
// references a non-existent target step.
type BrokenGraphError struct {
	StepID, Target string
}

func (e *BrokenGraphError) Error() string {
	return fmt.Sprintf("broken graph: step %q references non-existent target %q", e.StepID, e.Target)
}

// CyclicStepError is raised when a step would re-enter itself with an
// identical context projection.
type CyclicStepError struct {
	StepID string
}

func (e *CyclicStepError) Error() string {
	return fmt.Sprintf("cyclic step detected: %q would re-enter with identical context", e.StepID)
}

// ToolNotFoundError is raised by the invoker when a tool name isn't
// registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ParentNotFoundError is raised by the tracker when startChild names an
// unknown parent id.
type ParentNotFoundError struct {
	ParentID string
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("parent execution not found: %s", e.ParentID)
}

// InterceptorHaltError is raised by an interceptor to short-circuit the
// chain.
type InterceptorHaltError struct {
	Interceptor string
	Reason string
}

func (e *InterceptorHaltError) Error() string {
	return fmt.Sprintf("interceptor %q halted the chain: %s", e.Interceptor, e.Reason)
}

// ValidationFailureError is raised by the schema validator when output
// fails validation and failOnValidationError is set.
type ValidationFailureError struct {
	Reason string
}

func (e *ValidationFailureError) Error() string {
	return fmt.Sprintf("output validation failed: %s", e.Reason)
}

// Attempt records one retry attempt for RetryExhaustedError.
type Attempt struct {
	Number int
	Err string
	Duration string
}

// RetryExhaustedError is raised when all retry attempts are consumed.
type RetryExhaustedError struct {
	Attempts []Attempt
}

func (e *RetryExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "retry exhausted: no attempts recorded"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("retry exhausted after %d attempts: %s", len(e.Attempts), last.Err)
}

// StepTimeoutError is raised when a step's deadline expires.
type StepTimeoutError struct {
	StepID string
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out", e.StepID)
}

// CancelledError is raised when a step is cancelled due to a stopped run.
type CancelledError struct {
	StepID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("step %q cancelled", e.StepID)
}

// TransportError is raised by the MCP broker when its transport fails.
type TransportError struct {
	Transport string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp transport %q error: %v", e.Transport, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// OverflowError is raised (to the dropped subscriber only) when its
// queue is full.
type OverflowError struct {
	ExecutionID string
	SubscriberID string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("subscriber %q to execution %q dropped: queue overflow", e.SubscriberID, e.ExecutionID)
}

// StoppedError marks a run that was explicitly stopped.
type StoppedError struct {
	RunID string
}

func (e *StoppedError) Error() string {
	return fmt.Sprintf("run %q stopped", e.RunID)
}
