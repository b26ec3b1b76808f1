package file

import (
	"context"
	"sort"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository stores one JSON file per execution.
type ExecutionRepository struct {
	p *Persistence
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	if err := validateID("execution", execution.ID); err != nil {
		return err
	}

	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	var existing models.Execution

	found, err := er.p.readJSON(executionsDir, execution.ID+".json", &existing)
	if err != nil {
		return err
	}

	if found {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return er.p.writeJSON(executionsDir, execution.ID+".json", execution)
}

// Finish applies the terminal update under the persistence lock, so two
// concurrent calls cannot both succeed.
func (er *ExecutionRepository) Finish(_ context.Context, executionID string, outcome models.ExecutionOutcome) error {
	if err := validateID("execution", executionID); err != nil {
		return err
	}

	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	var execution models.Execution

	found, err := er.p.readJSON(executionsDir, executionID+".json", &execution)
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewExecutionError("Finish", executionID, persistence.ErrExecutionNotFound)
	}

	if execution.Status != models.ExecutionStatusRunning {
		return persistence.NewExecutionError("Finish", executionID, persistence.ErrExecutionAlreadyFinished)
	}

	finishedAt := outcome.FinishedAt
	execution.Status = outcome.Status
	execution.Output = outcome.Output
	execution.Error = outcome.Error
	execution.Duration = outcome.Duration
	execution.FinishedAt = &finishedAt

	return er.p.writeJSON(executionsDir, executionID+".json", &execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.Execution, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, err
	}

	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	var execution models.Execution

	found, err := er.p.readJSON(executionsDir, executionID+".json", &execution)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", executionID, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	files, err := er.p.listJSON(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, file := range files {
		var execution models.Execution

		if _, err := er.p.readJSON(executionsDir, file, &execution); err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, &execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if limit = persistence.NormalizeLimit(limit); len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}
