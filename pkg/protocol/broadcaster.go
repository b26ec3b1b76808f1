package protocol

import (
	"context"
	"time"
)

// Broadcast event types.
const (
	EventWorkflowStart    = "workflow_start"
	EventNodeStart        = "node_start"
	EventNodePaused       = "node_paused"
	EventNodeResumed      = "node_resumed"
	EventNodeEnd          = "node_end"
	EventWorkflowComplete = "workflow_complete"
	EventWorkflowError    = "workflow_error"
)

// BroadcastEvent is a progress update of one run.
type BroadcastEvent struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Broadcaster delivers progress events to observers. It is fire-and-forget:
// delivery failures are handled by the implementation and never reach the run.
type Broadcaster interface {
	Broadcast(ctx context.Context, event BroadcastEvent)
}
