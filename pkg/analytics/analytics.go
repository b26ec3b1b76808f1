// Package analytics records per-node and per-workflow execution statistics.
// Tracking is best effort: failures are logged and never reach the caller.
package analytics

import (
	"context"
	"time"
)

// NodeEvent is the outcome of one node dispatch.
type NodeEvent struct {
	NodeType    string
	NodeID      string
	ExecutionID string
	Status      string
	ErrorType   string
	Duration    time.Duration
	Cached      bool
	Attempts    int
}

// WorkflowEvent is the terminal outcome of a run.
type WorkflowEvent struct {
	WorkflowID  string
	ExecutionID string
	Status      string
	Duration    time.Duration
	Hops        int
}

type Tracker interface {
	TrackNode(ctx context.Context, event NodeEvent)
	TrackWorkflow(ctx context.Context, event WorkflowEvent)
}

// Multi fans events out to several trackers.
type Multi []Tracker

func (m Multi) TrackNode(ctx context.Context, event NodeEvent) {
	for _, tracker := range m {
		tracker.TrackNode(ctx, event)
	}
}

func (m Multi) TrackWorkflow(ctx context.Context, event WorkflowEvent) {
	for _, tracker := range m {
		tracker.TrackWorkflow(ctx, event)
	}
}

// Noop discards every event.
type Noop struct{}

func (Noop) TrackNode(context.Context, NodeEvent)         {}
func (Noop) TrackWorkflow(context.Context, WorkflowEvent) {}
