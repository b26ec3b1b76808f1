// Package web provides HTTP request and response types for the execution API.
package web

import (
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/orchestrator"
	"github.com/dukex/flowrun/pkg/ratelimit"
)

// RunRequest is the body of POST /runs and POST /runs/async.
type RunRequest struct {
	WorkflowID   string               `json:"workflow_id,omitempty"`
	Graph        models.WorkflowGraph `json:"graph"`
	Message      any                  `json:"message"`
	UserID       string               `json:"user_id"                 validate:"required"`
	WorkspaceID  string               `json:"workspace_id,omitempty"`
	Tier         string               `json:"tier,omitempty"          validate:"omitempty,oneof=free pro enterprise"`
	CustomLimits map[string]int64     `json:"custom_limits,omitempty"`
	Variables    map[string]any       `json:"variables,omitempty"`
	Debug        bool                 `json:"debug,omitempty"`
	Breakpoints  []string             `json:"breakpoints,omitempty"`
}

func (r RunRequest) toRun() orchestrator.RunRequest {
	return orchestrator.RunRequest{
		WorkflowID:   r.WorkflowID,
		Graph:        r.Graph,
		Message:      r.Message,
		UserID:       r.UserID,
		WorkspaceID:  r.WorkspaceID,
		Tier:         r.Tier,
		CustomLimits: r.CustomLimits,
		Variables:    r.Variables,
		Debug:        r.Debug,
		Breakpoints:  r.Breakpoints,
	}
}

// ResumeRequest is the optional body of POST /dead-letters/:id/resume.
type ResumeRequest struct {
	StartNodeID  string           `json:"start_node_id,omitempty"`
	Tier         string           `json:"tier,omitempty"          validate:"omitempty,oneof=free pro enterprise"`
	CustomLimits map[string]int64 `json:"custom_limits,omitempty"`
	Debug        bool             `json:"debug,omitempty"`
	Breakpoints  []string         `json:"breakpoints,omitempty"`
	Async        bool             `json:"async,omitempty"`
}

// BreakpointsRequest is the body of POST /debug/:executionId/breakpoints.
type BreakpointsRequest struct {
	NodeIDs []string `json:"node_ids" validate:"required,min=1,dive,required"`
}

// ControlResponse acknowledges a cancel or debug command. Relayed is set
// when the run belongs to another process; Breakpoints are only known for
// local runs.
type ControlResponse struct {
	ExecutionID string   `json:"execution_id"`
	Status      string   `json:"status"`
	Relayed     bool     `json:"relayed"`
	Breakpoints []string `json:"breakpoints,omitempty"`
}

// JobResponse is returned when a run was queued.
type JobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ExecutionResponse is an execution with its hops.
type ExecutionResponse struct {
	*models.Execution

	NodeExecutions []*models.NodeExecution `json:"node_executions"`
	Running        bool                    `json:"running"`
}

// RateLimitResponse is the live concurrency of a user and the limits of its tier.
type RateLimitResponse struct {
	ratelimit.Usage

	UserID      string            `json:"user_id"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	Tier        string            `json:"tier"`
	Limits      models.TierLimits `json:"limits"`
}
