// Package postgresql provides the PostgreSQL persistence implementation for run records.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	executionRepo     *ExecutionRepository
	nodeExecutionRepo *NodeExecutionRepository
	deadLetterRepo    *DeadLetterRepository
	auditLogRepo      *AuditLogRepository
	usageRepo         *UsageRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:                database,
		logger:            logger,
		executionRepo:     NewExecutionRepository(database, logger),
		nodeExecutionRepo: NewNodeExecutionRepository(database, logger),
		deadLetterRepo:    NewDeadLetterRepository(database, logger),
		auditLogRepo:      NewAuditLogRepository(database, logger),
		usageRepo:         NewUsageRepository(database),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) NodeExecutions() persistence.NodeExecutionRepository {
	return p.nodeExecutionRepo
}

func (p *Persistence) DeadLetters() persistence.DeadLetterRepository {
	return p.deadLetterRepo
}

func (p *Persistence) AuditLogs() persistence.AuditLogRepository {
	return p.auditLogRepo
}

func (p *Persistence) Usage() persistence.UsageRepository {
	return p.usageRepo
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if closeErr := rows.Close(); closeErr != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
	}
}
