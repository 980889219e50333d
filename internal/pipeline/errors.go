package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotNew is returned when a pipeline is modified or started after Execute.
	ErrNotNew = errors.New("pipeline: already executed")
	// ErrMissingHandler is returned by Execute without both handlers.
	ErrMissingHandler = errors.New("pipeline: success and error handlers are required")
	// ErrEventConsumed is returned by a second Task.ConsumeEvent.
	ErrEventConsumed = errors.New("task: event already consumed")
)

// CancelledError is delivered to the error handler when the pipeline was
// cancelled while executing.
type CancelledError struct {
	Pipeline string
	Step     string
}

func (e *CancelledError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("pipeline %s cancelled", e.Pipeline)
	}
	return fmt.Sprintf("pipeline %s cancelled during step %s", e.Pipeline, e.Step)
}

// IsCancelled returns true if the error is a pipeline cancellation.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// PanicError wraps a panic recovered from a step.
type PanicError struct {
	Step  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step %s panicked: %v", e.Step, e.Value)
}

// StepError attributes a failure to the step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
