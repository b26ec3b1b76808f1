// Package mocks provides testify mocks of the persistence, event bus and
// node interfaces.
package mocks

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Executions() persistence.ExecutionRepository {
	args := m.Called()

	return args.Get(0).(persistence.ExecutionRepository)
}

func (m *MockPersistence) NodeExecutions() persistence.NodeExecutionRepository {
	args := m.Called()

	return args.Get(0).(persistence.NodeExecutionRepository)
}

func (m *MockPersistence) DeadLetters() persistence.DeadLetterRepository {
	args := m.Called()

	return args.Get(0).(persistence.DeadLetterRepository)
}

func (m *MockPersistence) AuditLogs() persistence.AuditLogRepository {
	args := m.Called()

	return args.Get(0).(persistence.AuditLogRepository)
}

func (m *MockPersistence) Usage() persistence.UsageRepository {
	args := m.Called()

	return args.Get(0).(persistence.UsageRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Finish(ctx context.Context, executionID string, outcome models.ExecutionOutcome) error {
	args := m.Called(ctx, executionID, outcome)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, executionID string) (*models.Execution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	args := m.Called(ctx, workflowID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

// MockNodeExecutionRepository is a mock implementation of persistence.NodeExecutionRepository interface.
type MockNodeExecutionRepository struct {
	mock.Mock
}

func (m *MockNodeExecutionRepository) Append(ctx context.Context, nodeExecution *models.NodeExecution) error {
	args := m.Called(ctx, nodeExecution)

	return args.Error(0)
}

func (m *MockNodeExecutionRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.NodeExecution), args.Error(1)
}

// MockDeadLetterRepository is a mock implementation of persistence.DeadLetterRepository interface.
type MockDeadLetterRepository struct {
	mock.Mock
}

func (m *MockDeadLetterRepository) Save(ctx context.Context, deadLetter *models.DeadLetter) error {
	args := m.Called(ctx, deadLetter)

	return args.Error(0)
}

func (m *MockDeadLetterRepository) GetByExecutionID(ctx context.Context, executionID string) (*models.DeadLetter, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.DeadLetter), args.Error(1)
}

func (m *MockDeadLetterRepository) List(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.DeadLetter), args.Error(1)
}

func (m *MockDeadLetterRepository) Delete(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}

// MockAuditLogRepository is a mock implementation of persistence.AuditLogRepository interface.
type MockAuditLogRepository struct {
	mock.Mock
}

func (m *MockAuditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockAuditLogRepository) List(ctx context.Context, filter persistence.AuditFilter) ([]*models.AuditLog, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

// MockUsageRepository is a mock implementation of persistence.UsageRepository interface.
type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) Add(ctx context.Context, workspaceID, period string, tasks, tokens int64) error {
	args := m.Called(ctx, workspaceID, period, tasks, tokens)

	return args.Error(0)
}

func (m *MockUsageRepository) Get(ctx context.Context, workspaceID, period string) (*models.UsageRecord, error) {
	args := m.Called(ctx, workspaceID, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.UsageRecord), args.Error(1)
}
