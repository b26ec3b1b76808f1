package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/models"
)

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Add increments the usage of workspaceID for period.
func (ur *UsageRepository) Add(ctx context.Context, workspaceID, period string, tasks, tokens int64) error {
	query := `
		INSERT INTO usage_records (workspace_id, period, tasks, tokens, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (workspace_id, period) DO UPDATE SET
			tasks = usage_records.tasks + EXCLUDED.tasks,
			tokens = usage_records.tokens + EXCLUDED.tokens,
			updated_at = NOW()
	`

	_, err := ur.db.ExecContext(ctx, query, workspaceID, period, tasks, tokens)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

// Get returns the usage of workspaceID for period. A workspace without
// usage yields a zero record.
func (ur *UsageRepository) Get(ctx context.Context, workspaceID, period string) (*models.UsageRecord, error) {
	record := models.UsageRecord{WorkspaceID: workspaceID, Period: period}

	err := ur.db.QueryRowContext(ctx,
		"SELECT tasks, tokens, updated_at FROM usage_records WHERE workspace_id = $1 AND period = $2",
		workspaceID, period,
	).Scan(&record.Tasks, &record.Tokens, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &record, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	return &record, nil
}
