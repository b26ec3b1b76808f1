// Package jobqueue offloads runs to workers through the event bus.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/orchestrator"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/ratelimit"
	"github.com/dukex/flowrun/pkg/usage"
	"github.com/google/uuid"
)

// RunJob is a run offloaded to a worker. JobID becomes the execution id.
type RunJob struct {
	JobID          string               `json:"job_id,omitempty"`
	WorkflowID     string               `json:"workflow_id,omitempty"`
	Graph          models.WorkflowGraph `json:"graph"                     validate:"required"`
	Message        any                  `json:"message"`
	UserID         string               `json:"user_id"                   validate:"required"`
	WorkspaceID    string               `json:"workspace_id,omitempty"`
	Tier           string               `json:"tier,omitempty"`
	CustomLimits   map[string]int64     `json:"custom_limits,omitempty"`
	Variables      map[string]any       `json:"variables,omitempty"`
	StartNodeID    string               `json:"start_node_id,omitempty"`
	InitialOutputs map[string]any       `json:"initial_outputs,omitempty"`
	Debug          bool                 `json:"debug,omitempty"`
	Breakpoints    []string             `json:"breakpoints,omitempty"`
}

// JobFromRequest turns a run request into a job, keeping its execution id.
func JobFromRequest(req orchestrator.RunRequest) RunJob {
	return RunJob{
		JobID:          req.ExecutionID,
		WorkflowID:     req.WorkflowID,
		Graph:          req.Graph,
		Message:        req.Message,
		UserID:         req.UserID,
		WorkspaceID:    req.WorkspaceID,
		Tier:           req.Tier,
		CustomLimits:   req.CustomLimits,
		Variables:      req.Variables,
		StartNodeID:    req.StartNodeID,
		InitialOutputs: req.InitialOutputs,
		Debug:          req.Debug,
		Breakpoints:    req.Breakpoints,
	}
}

type Queue struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewQueue(publisher eventbus.EventPublisher, logger *slog.Logger) *Queue {
	return &Queue{publisher: publisher, logger: logger.With("module", "jobqueue")}
}

// Enqueue publishes job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, job RunJob) (string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	event := events.RunRequested{
		BaseEvent:      events.NewBaseEvent(events.RunRequestedEvent),
		JobID:          job.JobID,
		WorkflowID:     job.WorkflowID,
		Graph:          job.Graph,
		Message:        job.Message,
		UserID:         job.UserID,
		WorkspaceID:    job.WorkspaceID,
		Tier:           job.Tier,
		CustomLimits:   job.CustomLimits,
		Variables:      job.Variables,
		StartNodeID:    job.StartNodeID,
		InitialOutputs: job.InitialOutputs,
		Debug:          job.Debug,
		Breakpoints:    job.Breakpoints,
	}

	if err := q.publisher.Publish(ctx, job.JobID, event); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}

	q.logger.InfoContext(ctx, "Job enqueued", "job_id", job.JobID, "user_id", job.UserID, "start_node_id", job.StartNodeID)

	return job.JobID, nil
}

// Runner executes run requests.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error)
}

// Worker consumes enqueued jobs and runs them.
type Worker struct {
	id          string
	bus         eventbus.EventSubscriber
	runner      Runner
	broadcaster protocol.Broadcaster
	logger      *slog.Logger
}

func NewWorker(id string, bus eventbus.EventSubscriber, runner Runner, broadcaster protocol.Broadcaster, logger *slog.Logger) *Worker {
	return &Worker{
		id:          id,
		bus:         bus,
		runner:      runner,
		broadcaster: broadcaster,
		logger:      logger.With("module", "jobqueue", "worker_id", id),
	}
}

// Start registers the job handler and begins consuming. It does not block.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting job worker")

	err := w.bus.Handle(events.RunRequestedEvent, w.handleRunRequested)
	if err != nil {
		return err
	}

	err = w.bus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	return nil
}

// handleRunRequested runs one job. Jobs that can never succeed on retry
// (rejected at admission, invalid, or a redelivery of a run that is active
// or already recorded) are acknowledged; only storage failures are returned
// so the message is redelivered.
func (w *Worker) handleRunRequested(ctx context.Context, event any) error {
	job, ok := event.(*events.RunRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunRequested")

		return nil
	}

	logger := w.logger.With("job_id", job.JobID, "workflow_id", job.WorkflowID, "event_id", job.ID)
	logger.InfoContext(ctx, "Processing run job")

	result, err := w.runner.Run(ctx, orchestrator.RunRequest{
		ExecutionID:    job.JobID,
		WorkflowID:     job.WorkflowID,
		Graph:          job.Graph,
		Message:        job.Message,
		UserID:         job.UserID,
		WorkspaceID:    job.WorkspaceID,
		Tier:           job.Tier,
		CustomLimits:   job.CustomLimits,
		Variables:      job.Variables,
		StartNodeID:    job.StartNodeID,
		InitialOutputs: job.InitialOutputs,
		Debug:          job.Debug,
		Breakpoints:    job.Breakpoints,
	})

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Run job finished", "status", result.Status, "hops", result.Hops)

		return nil
	case orchestrator.IsValidationError(err):
		logger.WarnContext(ctx, "Run job rejected by validation", "error", err)

		return nil
	case errors.Is(err, ratelimit.ErrAlreadyAcquired), errors.Is(err, persistence.ErrExecutionAlreadyExists):
		logger.WarnContext(ctx, "Dropping duplicate run job", "error", err)

		return nil
	case errors.Is(err, ratelimit.ErrLimitExceeded), errors.Is(err, usage.ErrUsageLimitExceeded):
		logger.WarnContext(ctx, "Run job rejected at admission", "error", err)

		w.broadcaster.Broadcast(ctx, protocol.BroadcastEvent{
			Type:        protocol.EventWorkflowError,
			ExecutionID: job.JobID,
			Payload:     map[string]any{"error": err.Error()},
			Timestamp:   time.Now().UTC(),
		})

		return nil
	default:
		logger.ErrorContext(ctx, "Run job failed", "error", err)

		return err
	}
}
