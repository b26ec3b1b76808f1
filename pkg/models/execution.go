package models

import "time"

// ExecutionStatus is the lifecycle state of a run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Execution is the durable record of a run. It is created as running and
// updated exactly once when the run reaches a terminal state.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	WorkspaceID string          `json:"workspace_id"`
	UserID      string          `json:"user_id"`
	Status      ExecutionStatus `json:"status"`
	Input       any             `json:"input"`
	Output      any             `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Duration    time.Duration   `json:"duration"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// ExecutionOutcome is the terminal update applied to an Execution.
type ExecutionOutcome struct {
	Status     ExecutionStatus
	Output     any
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}

// NodeExecution is the append-only record of one hop.
type NodeExecution struct {
	ID            string        `json:"id"`
	ExecutionID   string        `json:"execution_id"`
	NodeID        string        `json:"node_id"`
	NodeType      string        `json:"node_type"`
	Input         any           `json:"input"`
	Output        any           `json:"output"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Logs          []string      `json:"logs"`
	CreatedAt     time.Time     `json:"created_at"`
}
