package models

import "time"

// ContextSummary is the truncated run state captured on failure.
type ContextSummary struct {
	NodeOutputs map[string]any `json:"node_outputs"`
	Variables   map[string]any `json:"variables"`
}

// DeadLetter captures a failed run so it can be inspected or resumed.
type DeadLetter struct {
	ExecutionID    string         `json:"execution_id"`
	WorkflowID     string         `json:"workflow_id"`
	UserID         string         `json:"user_id"`
	WorkspaceID    string         `json:"workspace_id"`
	Tier           string         `json:"tier"`
	FailedNodeID   string         `json:"failed_node_id"`
	Graph          WorkflowGraph  `json:"graph"`
	Message        any            `json:"message"`
	ErrorMessage   string         `json:"error_message"`
	ContextSummary ContextSummary `json:"context_summary"`
	CreatedAt      time.Time      `json:"created_at"`
}
