// Package persistence provides the storage abstraction for run records:
// executions, node executions, dead letters, audit logs and usage.
package persistence

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
)

type Persistence interface {
	Executions() ExecutionRepository
	NodeExecutions() NodeExecutionRepository
	DeadLetters() DeadLetterRepository
	AuditLogs() AuditLogRepository
	Usage() UsageRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository stores run records. Finish is the only update and it
// applies to running executions only.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	Finish(ctx context.Context, executionID string, outcome models.ExecutionOutcome) error
	GetByID(ctx context.Context, executionID string) (*models.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
}

// NodeExecutionRepository is append-only.
type NodeExecutionRepository interface {
	Append(ctx context.Context, nodeExecution *models.NodeExecution) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.NodeExecution, error)
}

type DeadLetterRepository interface {
	Save(ctx context.Context, deadLetter *models.DeadLetter) error
	GetByExecutionID(ctx context.Context, executionID string) (*models.DeadLetter, error)
	List(ctx context.Context, limit int) ([]*models.DeadLetter, error)
	Delete(ctx context.Context, executionID string) error
}

// AuditFilter narrows an audit log listing. Empty fields match everything.
type AuditFilter struct {
	UserID      string
	WorkspaceID string
	Action      string
	Limit       int
}

type AuditLogRepository interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error)
}

// UsageRepository accumulates monthly usage per workspace.
type UsageRepository interface {
	Add(ctx context.Context, workspaceID, period string, tasks, tokens int64) error
	Get(ctx context.Context, workspaceID, period string) (*models.UsageRecord, error)
}

// DefaultListLimit applies when a listing is requested without a limit.
const DefaultListLimit = 100

// NormalizeLimit returns limit, or DefaultListLimit when it is not positive.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}

	return limit
}
