package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/lib/pq"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a running execution.
func (er *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	inputJSON, err := json.Marshal(execution.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, workspace_id, user_id, status, input, error, duration_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = er.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.WorkspaceID,
		execution.UserID,
		execution.Status,
		inputJSON,
		execution.Error,
		execution.Duration.Milliseconds(),
		execution.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// Finish applies the terminal update in a single statement guarded on status.
func (er *ExecutionRepository) Finish(ctx context.Context, executionID string, outcome models.ExecutionOutcome) error {
	outputJSON, err := json.Marshal(outcome.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	query := `
		UPDATE executions
		SET status = $2, output = $3, error = $4, duration_ms = $5, finished_at = $6
		WHERE id = $1 AND status = 'running'
	`

	result, err := er.db.ExecContext(ctx, query,
		executionID,
		outcome.Status,
		outputJSON,
		outcome.Error,
		outcome.Duration.Milliseconds(),
		outcome.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 1 {
		return nil
	}

	var exists bool

	err = er.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)", executionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}

	if !exists {
		return persistence.NewExecutionError("Finish", executionID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError("Finish", executionID, persistence.ErrExecutionAlreadyFinished)
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(ctx context.Context, executionID string) (*models.Execution, error) {
	query := `
		SELECT id, workflow_id, workspace_id, user_id, status, input, output,
			   error, duration_ms, created_at, finished_at
		FROM executions
		WHERE id = $1
	`

	execution, err := er.scanExecution(er.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ListByWorkflow returns the newest executions of a workflow first.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := `
		SELECT id, workflow_id, workspace_id, user_id, status, input, output,
			   error, duration_ms, created_at, finished_at
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := er.db.QueryContext(ctx, query, workflowID, persistence.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, er.logger, rows)

	var executions []*models.Execution

	for rows.Next() {
		execution, err := er.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (er *ExecutionRepository) scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution             models.Execution
		inputJSON, outputJSON []byte
		durationMs            int64
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkspaceID,
		&execution.UserID,
		&execution.Status,
		&inputJSON,
		&outputJSON,
		&execution.Error,
		&durationMs,
		&execution.CreatedAt,
		&execution.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Duration = time.Duration(durationMs) * time.Millisecond

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &execution.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}

	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &execution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	return &execution, nil
}
