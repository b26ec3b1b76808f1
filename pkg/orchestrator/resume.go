package orchestrator

import (
	"context"
	"fmt"

	"github.com/dukex/flowrun/pkg/models"
)

// ResumeOptions override what a resumed run takes from its dead letter.
type ResumeOptions struct {
	Tier         string           `json:"tier,omitempty"`
	CustomLimits map[string]int64 `json:"custom_limits,omitempty"`
	Debug        bool             `json:"debug,omitempty"`
	Breakpoints  []string         `json:"breakpoints,omitempty"`
}

// ResumeRequest builds the run that resumes the dead letter of executionID
// at startNodeID, or at the node that failed when startNodeID is empty.
func (o *Orchestrator) ResumeRequest(ctx context.Context, executionID, startNodeID string, opts ResumeOptions) (RunRequest, error) {
	deadLetter, err := o.persistence.DeadLetters().GetByExecutionID(ctx, executionID)
	if err != nil {
		return RunRequest{}, err
	}

	if startNodeID == "" {
		startNodeID = deadLetter.FailedNodeID
	}

	tier := deadLetter.Tier
	if opts.Tier != "" {
		tier = opts.Tier
	}

	return RunRequest{
		WorkflowID:     deadLetter.WorkflowID,
		Graph:          deadLetter.Graph,
		Message:        deadLetter.Message,
		UserID:         deadLetter.UserID,
		WorkspaceID:    deadLetter.WorkspaceID,
		Tier:           tier,
		CustomLimits:   opts.CustomLimits,
		Variables:      deadLetter.ContextSummary.Variables,
		StartNodeID:    startNodeID,
		InitialOutputs: deadLetter.ContextSummary.NodeOutputs,
		Debug:          opts.Debug,
		Breakpoints:    opts.Breakpoints,
	}, nil
}

// Resume starts a fresh run from the dead letter of executionID. The dead
// letter is kept.
func (o *Orchestrator) Resume(ctx context.Context, executionID, startNodeID string, opts ResumeOptions) (*RunResult, error) {
	req, err := o.ResumeRequest(ctx, executionID, startNodeID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letter of %s: %w", executionID, err)
	}

	result, err := o.Run(ctx, req)
	if result != nil {
		o.audit(context.WithoutCancel(ctx), req, models.AuditWorkflowResumed, map[string]any{
			"resumed_from":  executionID,
			"execution_id":  result.ExecutionID,
			"start_node_id": req.StartNodeID,
			"status":        result.Status,
		})
	}

	return result, err
}
