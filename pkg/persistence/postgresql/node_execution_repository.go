package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

// NodeExecutionRepository handles per-hop records.
type NodeExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewNodeExecutionRepository(db *sql.DB, logger *slog.Logger) *NodeExecutionRepository {
	return &NodeExecutionRepository{db: db, logger: logger}
}

// Append inserts a hop record. Records are never updated.
func (nr *NodeExecutionRepository) Append(ctx context.Context, nodeExecution *models.NodeExecution) error {
	inputJSON, err := json.Marshal(nodeExecution.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	outputJSON, err := json.Marshal(nodeExecution.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	logs := nodeExecution.Logs
	if logs == nil {
		logs = []string{}
	}

	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	query := `
		INSERT INTO node_executions (
			id, execution_id, node_id, node_type, input, output, status,
			error, execution_time_ms, logs, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = nr.db.ExecContext(ctx, query,
		nodeExecution.ID,
		nodeExecution.ExecutionID,
		nodeExecution.NodeID,
		nodeExecution.NodeType,
		inputJSON,
		outputJSON,
		nodeExecution.Status,
		nodeExecution.Error,
		nodeExecution.ExecutionTime.Milliseconds(),
		logsJSON,
		nodeExecution.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append node execution: %w", err)
	}

	return nil
}

// ListByExecution returns the hops of a run in the order they were appended.
func (nr *NodeExecutionRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, input, output, status,
			   error, execution_time_ms, logs, created_at
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY seq ASC
	`

	rows, err := nr.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}

	defer closeRows(ctx, nr.logger, rows)

	var nodeExecutions []*models.NodeExecution

	for rows.Next() {
		var (
			nodeExecution                   models.NodeExecution
			inputJSON, outputJSON, logsJSON []byte
			executionTimeMs                 int64
		)

		err := rows.Scan(
			&nodeExecution.ID,
			&nodeExecution.ExecutionID,
			&nodeExecution.NodeID,
			&nodeExecution.NodeType,
			&inputJSON,
			&outputJSON,
			&nodeExecution.Status,
			&nodeExecution.Error,
			&executionTimeMs,
			&logsJSON,
			&nodeExecution.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		nodeExecution.ExecutionTime = time.Duration(executionTimeMs) * time.Millisecond

		if err := unmarshalNullable(inputJSON, &nodeExecution.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}

		if err := unmarshalNullable(outputJSON, &nodeExecution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}

		if err := unmarshalNullable(logsJSON, &nodeExecution.Logs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
		}

		nodeExecutions = append(nodeExecutions, &nodeExecution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}

	return nodeExecutions, nil
}

func unmarshalNullable(data []byte, target any) error {
	if data == nil {
		return nil
	}

	return json.Unmarshal(data, target)
}
