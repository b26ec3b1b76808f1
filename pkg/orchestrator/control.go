package orchestrator

import (
	"context"
	"fmt"

	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/ratelimit"
)

// Control applies cmd to its run. A run of this process is handled at once.
// A run owned by another process is reached through the control relay; a
// cancel also frees its slot in the shared store, so the owner stops before
// its next hop even if the command is lost. It reports whether cmd was relayed.
func (o *Orchestrator) Control(ctx context.Context, cmd control.Command) (bool, error) {
	if handled, err := o.apply(ctx, cmd); handled {
		return false, err
	}

	execution, err := o.remoteRun(ctx, cmd.ExecutionID)
	if err != nil {
		return false, err
	}

	if cmd.Action == control.ActionCancel {
		slot := ratelimit.Slot{UserID: execution.UserID, WorkspaceID: execution.WorkspaceID, ExecutionID: execution.ID}
		if err := o.limiter.Release(ctx, slot); err != nil {
			return false, fmt.Errorf("failed to release slot of %s: %w", execution.ID, err)
		}
	}

	if err := o.control.Publish(ctx, cmd); err != nil {
		return false, err
	}

	o.logger.InfoContext(ctx, "Control command relayed", "execution_id", cmd.ExecutionID, "action", cmd.Action)

	return true, nil
}

// HandleControl applies a command relayed by another process. Commands for
// runs that are not here are ignored.
func (o *Orchestrator) HandleControl(ctx context.Context, cmd control.Command) {
	handled, err := o.apply(ctx, cmd)
	if handled && err != nil {
		o.logger.WarnContext(ctx, "Relayed control command failed",
			"execution_id", cmd.ExecutionID, "action", cmd.Action, "error", err)
	}
}

// Cancel stops executionID: its slot is released and the hop loop refuses
// further hops.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	_, err := o.Control(ctx, control.Command{ExecutionID: executionID, Action: control.ActionCancel})

	return err
}

// Running reports whether executionID is being run by this process.
func (o *Orchestrator) Running(executionID string) bool {
	_, ok := o.runs.Load(executionID)

	return ok
}

// apply runs cmd against a run of this process. It reports false when the
// run is not here.
func (o *Orchestrator) apply(ctx context.Context, cmd control.Command) (bool, error) {
	id := cmd.ExecutionID

	value, ok := o.runs.Load(id)
	if !ok {
		return false, nil
	}

	switch cmd.Action {
	case control.ActionCancel:
		o.cancelLocal(ctx, id, value.(*activeRun))
	case control.ActionSetBreakpoints:
		if !o.debug.SetBreakpoints(id, cmd.NodeIDs) {
			return true, fmt.Errorf("%s: %w", id, ErrNotDebugging)
		}
	case control.ActionClearBreakpoint:
		for _, nodeID := range cmd.NodeIDs {
			if !o.debug.ClearBreakpoint(id, nodeID) {
				return true, fmt.Errorf("%s: %w", id, ErrNotDebugging)
			}
		}
	case control.ActionClearAll:
		if !o.debug.ClearAll(id) {
			return true, fmt.Errorf("%s: %w", id, ErrNotDebugging)
		}
	case control.ActionStep:
		if !o.debug.Step(id) {
			return true, fmt.Errorf("%s: %w", id, ErrExecutionNotPaused)
		}
	default:
		return true, fmt.Errorf("unknown control action %q", cmd.Action)
	}

	return true, nil
}

func (o *Orchestrator) cancelLocal(ctx context.Context, executionID string, active *activeRun) {
	active.cancelled.Store(true)
	active.cancel()

	if _, err := o.limiter.ClearExecution(ctx, executionID); err != nil {
		o.logger.WarnContext(ctx, "Failed to clear execution lease", "execution_id", executionID, "error", err)
	}

	o.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)
}

// remoteRun returns the record of a run that may be active in another
// process. Without a relay no other process is reachable.
func (o *Orchestrator) remoteRun(ctx context.Context, executionID string) (*models.Execution, error) {
	if o.control == nil {
		return nil, fmt.Errorf("%s: %w", executionID, ErrExecutionNotRunning)
	}

	execution, err := o.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, fmt.Errorf("%s: %w", executionID, ErrExecutionNotRunning)
		}

		return nil, err
	}

	if execution.Status != models.ExecutionStatusRunning {
		return nil, fmt.Errorf("%s: %w", executionID, ErrExecutionNotRunning)
	}

	return execution, nil
}
