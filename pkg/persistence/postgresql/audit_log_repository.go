package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

type AuditLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuditLogRepository(db *sql.DB, logger *slog.Logger) *AuditLogRepository {
	return &AuditLogRepository{db: db, logger: logger}
}

func (ar *AuditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, user_id, workspace_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = ar.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.WorkspaceID,
		entry.Action,
		detailsJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}

	return nil
}

// List returns matching entries, newest first.
func (ar *AuditLogRepository) List(ctx context.Context, filter persistence.AuditFilter) ([]*models.AuditLog, error) {
	var (
		conditions []string
		args       []any
	)

	addCondition := func(column, value string) {
		if value == "" {
			return
		}

		args = append(args, value)
		conditions = append(conditions, column+" = $"+strconv.Itoa(len(args)))
	}

	addCondition("user_id", filter.UserID)
	addCondition("workspace_id", filter.WorkspaceID)
	addCondition("action", filter.Action)

	query := "SELECT id, user_id, workspace_id, action, details, created_at FROM audit_logs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, persistence.NormalizeLimit(filter.Limit))
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := ar.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	defer closeRows(ctx, ar.logger, rows)

	var entries []*models.AuditLog

	for rows.Next() {
		var (
			entry       models.AuditLog
			detailsJSON []byte
		)

		err := rows.Scan(&entry.ID, &entry.UserID, &entry.WorkspaceID, &entry.Action, &detailsJSON, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if err := unmarshalNullable(detailsJSON, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return entries, nil
}
