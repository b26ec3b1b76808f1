package models

import (
	"maps"
	"sync"
)

// ExecutionContext is owned by one run. It is mutated by the orchestrator and
// handed to a node only as a Snapshot, so a node that outlives its timeout
// never sees later writes.
type ExecutionContext struct {
	ExecutionID   string         `json:"execution_id"`
	WorkflowID    string         `json:"workflow_id"`
	UserID        string         `json:"user_id"`
	WorkspaceID   string         `json:"workspace_id"`
	CurrentNodeID string         `json:"current_node_id"`
	Attempt       int            `json:"attempt"`
	Variables     map[string]any `json:"variables"`
	NodeOutputs   map[string]any `json:"node_outputs"`

	sink *logSink
}

type logSink struct {
	mu   sync.Mutex
	logs []string
}

// NewExecutionContext seeds a context. initialOutputs is copied.
func NewExecutionContext(executionID, workflowID, userID, workspaceID string, variables, initialOutputs map[string]any) *ExecutionContext {
	outputs := make(map[string]any, len(initialOutputs))
	maps.Copy(outputs, initialOutputs)

	if variables == nil {
		variables = make(map[string]any)
	}

	return &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		WorkspaceID: workspaceID,
		Variables:   variables,
		NodeOutputs: outputs,
		sink:        &logSink{},
	}
}

// Snapshot copies the context for one node attempt. The maps are cloned
// shallowly; the log sink is shared with c.
func (c *ExecutionContext) Snapshot() *ExecutionContext {
	snapshot := &ExecutionContext{
		ExecutionID:   c.ExecutionID,
		WorkflowID:    c.WorkflowID,
		UserID:        c.UserID,
		WorkspaceID:   c.WorkspaceID,
		CurrentNodeID: c.CurrentNodeID,
		Attempt:       c.Attempt,
		Variables:     maps.Clone(c.Variables),
		NodeOutputs:   maps.Clone(c.NodeOutputs),
		sink:          c.logs(),
	}

	if snapshot.Variables == nil {
		snapshot.Variables = make(map[string]any)
	}

	if snapshot.NodeOutputs == nil {
		snapshot.NodeOutputs = make(map[string]any)
	}

	return snapshot
}

// MergeVariables copies the variables a finished attempt set back into c.
func (c *ExecutionContext) MergeVariables(from *ExecutionContext) {
	if from == nil || from == c {
		return
	}

	if c.Variables == nil {
		c.Variables = make(map[string]any, len(from.Variables))
	}

	maps.Copy(c.Variables, from.Variables)
}

func (c *ExecutionContext) logs() *logSink {
	if c.sink == nil {
		c.sink = &logSink{}
	}

	return c.sink
}

// Logf appends a log line to the current hop.
func (c *ExecutionContext) Logf(line string) {
	sink := c.logs()

	sink.mu.Lock()
	defer sink.mu.Unlock()

	sink.logs = append(sink.logs, line)
}

// DrainLogs returns the lines logged since the last drain.
func (c *ExecutionContext) DrainLogs() []string {
	sink := c.logs()

	sink.mu.Lock()
	defer sink.mu.Unlock()

	logs := sink.logs
	sink.logs = nil

	return logs
}
