// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyFinished indicates a terminal update was applied to a finished execution.
	ErrExecutionAlreadyFinished = errors.New("execution already finished")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrDeadLetterNotFound indicates no dead letter exists for the given execution.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Finish")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// DeadLetterError wraps dead letter errors with additional context.
type DeadLetterError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *DeadLetterError) Error() string {
	return fmt.Sprintf("%s operation failed for dead letter %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *DeadLetterError) Unwrap() error {
	return e.Err
}

func (e *DeadLetterError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewDeadLetterError(op, executionID string, err error) *DeadLetterError {
	return &DeadLetterError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionAlreadyFinished checks if an error indicates a second terminal update.
func IsExecutionAlreadyFinished(err error) bool {
	return errors.Is(err, ErrExecutionAlreadyFinished)
}

// IsDeadLetterNotFound checks if an error indicates a dead letter was not found.
func IsDeadLetterNotFound(err error) bool {
	return errors.Is(err, ErrDeadLetterNotFound)
}
