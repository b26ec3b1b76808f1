package models

import "time"

// Audit actions written by the orchestrator.
const (
	AuditWorkflowCompleted        = "workflow.completed"
	AuditWorkflowFailed           = "workflow.failed"
	AuditWorkflowValidationFailed = "workflow.validation_failed"
	AuditWorkflowResumed          = "workflow.resumed"
	AuditWorkflowCancelled        = "workflow.cancelled"
)

type AuditLog struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	WorkspaceID string         `json:"workspace_id"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details"`
	CreatedAt   time.Time      `json:"created_at"`
}

// UsageRecord holds the monthly usage totals of a workspace.
type UsageRecord struct {
	WorkspaceID string    `json:"workspace_id"`
	Period      string    `json:"period"` // YYYY-MM
	Tasks       int64     `json:"tasks"`
	Tokens      int64     `json:"tokens"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UsagePeriod returns the monthly bucket t belongs to.
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
