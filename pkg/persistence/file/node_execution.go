package file

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
)

const nodeExecutionsDir = "node_executions"

// NodeExecutionRepository keeps the hops of a run in one file per execution.
type NodeExecutionRepository struct {
	p *Persistence
}

func (nr *NodeExecutionRepository) Append(_ context.Context, nodeExecution *models.NodeExecution) error {
	if err := validateID("execution", nodeExecution.ExecutionID); err != nil {
		return err
	}

	nr.p.mu.Lock()
	defer nr.p.mu.Unlock()

	var hops []*models.NodeExecution

	if _, err := nr.p.readJSON(nodeExecutionsDir, nodeExecution.ExecutionID+".json", &hops); err != nil {
		return err
	}

	hops = append(hops, nodeExecution)

	return nr.p.writeJSON(nodeExecutionsDir, nodeExecution.ExecutionID+".json", hops)
}

func (nr *NodeExecutionRepository) ListByExecution(_ context.Context, executionID string) ([]*models.NodeExecution, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, err
	}

	nr.p.mu.Lock()
	defer nr.p.mu.Unlock()

	hops := make([]*models.NodeExecution, 0)

	if _, err := nr.p.readJSON(nodeExecutionsDir, executionID+".json", &hops); err != nil {
		return nil, err
	}

	return hops, nil
}
