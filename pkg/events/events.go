// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const JobsTopic = "flowrun.jobs"       // Offloaded run requests
const UpdatesTopic = "flowrun.updates" // Run progress fan-out

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunRequestedEvent    EventType = "run.requested"
	ExecutionUpdateEvent EventType = "execution.update"
)

// TopicFor returns the topic carrying events of eventType.
func TopicFor(eventType EventType) string {
	if eventType == RunRequestedEvent {
		return JobsTopic
	}

	return UpdatesTopic
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a new event of eventType.
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// RunRequested asks a worker to execute a graph.
type RunRequested struct {
	BaseEvent

	JobID          string               `json:"job_id"`
	WorkflowID     string               `json:"workflow_id,omitempty"`
	Graph          models.WorkflowGraph `json:"graph"`
	Message        any                  `json:"message"`
	UserID         string               `json:"user_id"`
	WorkspaceID    string               `json:"workspace_id,omitempty"`
	Tier           string               `json:"tier,omitempty"`
	CustomLimits   map[string]int64     `json:"custom_limits,omitempty"`
	Variables      map[string]any       `json:"variables,omitempty"`
	StartNodeID    string               `json:"start_node_id,omitempty"`
	InitialOutputs map[string]any       `json:"initial_outputs,omitempty"`
	Debug          bool                 `json:"debug,omitempty"`
	Breakpoints    []string             `json:"breakpoints,omitempty"`
}

func (e RunRequested) GetType() EventType {
	return RunRequestedEvent
}

// ExecutionUpdate carries one progress event of a run.
type ExecutionUpdate struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	UpdateType  string         `json:"update_type"`
	NodeID      string         `json:"node_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (e ExecutionUpdate) GetType() EventType {
	return ExecutionUpdateEvent
}
