package orchestrator

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is returned when a graph fails its structural checks.
	ErrValidation = errors.New("invalid workflow graph")

	// ErrExecutionNotRunning is returned by control commands for unknown or
	// finished runs, and for runs of another process when no relay is set.
	ErrExecutionNotRunning = errors.New("execution is not running")

	// ErrNotDebugging is returned by breakpoint commands for a run started
	// without debug.
	ErrNotDebugging = errors.New("execution is not a debug run")

	// ErrExecutionNotPaused is returned by Step when the run is not at a breakpoint.
	ErrExecutionNotPaused = errors.New("execution is not paused")
)

// ValidationError lists every structural problem found in a graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow graph: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsValidationError reports whether err comes from graph validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
