package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

// DeadLetterRepository stores failed runs, one per execution.
type DeadLetterRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDeadLetterRepository(db *sql.DB, logger *slog.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, logger: logger}
}

func (dr *DeadLetterRepository) Save(ctx context.Context, deadLetter *models.DeadLetter) error {
	graphJSON, err := json.Marshal(deadLetter.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	messageJSON, err := json.Marshal(deadLetter.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	summaryJSON, err := json.Marshal(deadLetter.ContextSummary)
	if err != nil {
		return fmt.Errorf("failed to marshal context summary: %w", err)
	}

	query := `
		INSERT INTO dead_letters (
			execution_id, workflow_id, user_id, workspace_id, tier, failed_node_id,
			graph, message, error_message, context_summary, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			user_id = EXCLUDED.user_id,
			workspace_id = EXCLUDED.workspace_id,
			tier = EXCLUDED.tier,
			failed_node_id = EXCLUDED.failed_node_id,
			graph = EXCLUDED.graph,
			message = EXCLUDED.message,
			error_message = EXCLUDED.error_message,
			context_summary = EXCLUDED.context_summary,
			created_at = EXCLUDED.created_at
	`

	_, err = dr.db.ExecContext(ctx, query,
		deadLetter.ExecutionID,
		deadLetter.WorkflowID,
		deadLetter.UserID,
		deadLetter.WorkspaceID,
		deadLetter.Tier,
		deadLetter.FailedNodeID,
		graphJSON,
		messageJSON,
		deadLetter.ErrorMessage,
		summaryJSON,
		deadLetter.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}

	return nil
}

func (dr *DeadLetterRepository) GetByExecutionID(ctx context.Context, executionID string) (*models.DeadLetter, error) {
	query := `
		SELECT execution_id, workflow_id, user_id, workspace_id, tier, failed_node_id,
			   graph, message, error_message, context_summary, created_at
		FROM dead_letters
		WHERE execution_id = $1
	`

	deadLetter, err := dr.scanDeadLetter(dr.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDeadLetterError("GetByExecutionID", executionID, persistence.ErrDeadLetterNotFound)
		}

		return nil, fmt.Errorf("failed to scan dead letter: %w", err)
	}

	return deadLetter, nil
}

// List returns the newest dead letters first.
func (dr *DeadLetterRepository) List(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	query := `
		SELECT execution_id, workflow_id, user_id, workspace_id, tier, failed_node_id,
			   graph, message, error_message, context_summary, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := dr.db.QueryContext(ctx, query, persistence.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}

	defer closeRows(ctx, dr.logger, rows)

	var deadLetters []*models.DeadLetter

	for rows.Next() {
		deadLetter, err := dr.scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}

		deadLetters = append(deadLetters, deadLetter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}

	return deadLetters, nil
}

func (dr *DeadLetterRepository) Delete(ctx context.Context, executionID string) error {
	result, err := dr.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE execution_id = $1", executionID)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewDeadLetterError("Delete", executionID, persistence.ErrDeadLetterNotFound)
	}

	return nil
}

func (dr *DeadLetterRepository) scanDeadLetter(row scanner) (*models.DeadLetter, error) {
	var (
		deadLetter                          models.DeadLetter
		graphJSON, messageJSON, summaryJSON []byte
	)

	err := row.Scan(
		&deadLetter.ExecutionID,
		&deadLetter.WorkflowID,
		&deadLetter.UserID,
		&deadLetter.WorkspaceID,
		&deadLetter.Tier,
		&deadLetter.FailedNodeID,
		&graphJSON,
		&messageJSON,
		&deadLetter.ErrorMessage,
		&summaryJSON,
		&deadLetter.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(graphJSON, &deadLetter.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}

	if err := unmarshalNullable(messageJSON, &deadLetter.Message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if err := unmarshalNullable(summaryJSON, &deadLetter.ContextSummary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context summary: %w", err)
	}

	return &deadLetter, nil
}
