package engine

import (
	"context"
	"errors"
)

var (
	// ErrEngineSignalFailure is returned when the engine rejects a signal. The execution it was meant for is gone
	// or no longer waiting, retrying the signal cannot succeed.
	ErrEngineSignalFailure = errors.New("engine rejected signal")

	ErrExecutionNotFound   = errors.New("execution not found")
	ErrExecutionNotWaiting = errors.New("execution is not waiting")
	ErrUnknownProcess      = errors.New("unknown process")
)

//go:generate mockery --name=Engine --inpackage

// Engine owns process instance state. The correlation core only starts instances and advances executions parked
// at a wait point.
type Engine interface {
	// StartInstance creates a new instance of the process registered under processKey and runs it until it
	// completes or reaches its first wait point. Returns the id of the instance's current execution.
	StartInstance(ctx context.Context, processKey string) (string, error)

	// Signal advances the execution past its wait point. Errors returned for executions that are not waiting
	// wrap ErrEngineSignalFailure.
	Signal(ctx context.Context, executionID string) error

	// Abandon tells the engine the wait of the execution has been cancelled and no resume will follow.
	Abandon(ctx context.Context, executionID, reason string) error
}

// SignalFailure wraps err as a rejected signal
func SignalFailure(executionID string, err error) error {
	return &signalError{executionID: executionID, err: err}
}

type signalError struct {
	executionID string
	err         error
}

func (e *signalError) Error() string {
	return "signaling execution " + e.executionID + ": " + e.err.Error()
}

func (e *signalError) Unwrap() []error {
	return []error{ErrEngineSignalFailure, e.err}
}
