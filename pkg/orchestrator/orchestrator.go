// Package orchestrator walks a workflow graph, dispatching each hop through
// the executor and recording the run for audit and resume.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/flowrun/pkg/analytics"
	"github.com/dukex/flowrun/pkg/blobstore"
	"github.com/dukex/flowrun/pkg/broadcast"
	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/debug"
	"github.com/dukex/flowrun/pkg/executor"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/ratelimit"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/dukex/flowrun/pkg/usage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RunRequest describes a run. StartNodeID and InitialOutputs are set when
// resuming from a dead letter.
type RunRequest struct {
	ExecutionID    string               `json:"execution_id,omitempty"`
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

// RunResult is what a caller gets back from a run. Output is the string
// form of the final node result, or the error message of a failed run.
// Data is the string form of the final result's data alone.
type RunResult struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Output      string                 `json:"output"`
	Data        string                 `json:"data,omitempty"`
	Error       string                 `json:"error,omitempty"`
	FailedNode  string                 `json:"failed_node_id,omitempty"`
	Hops        int                    `json:"hops"`
	Duration    time.Duration          `json:"duration"`
}

type Orchestrator struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	executor    *executor.Executor
	limiter     *ratelimit.Limiter
	usage       *usage.Recorder
	broadcaster protocol.Broadcaster
	tracker     analytics.Tracker
	blobs       *blobstore.Externalizer
	debug       *debug.Controller
	control     control.Publisher
	tracer      trace.Tracer
	validate    *validator.Validate
	logger      *slog.Logger
	cfg         config.ExecutionConfig

	runs sync.Map // execution id -> *activeRun
}

type activeRun struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

type Option func(*Orchestrator)

func WithUsage(recorder *usage.Recorder) Option {
	return func(o *Orchestrator) { o.usage = recorder }
}

func WithBroadcaster(b protocol.Broadcaster) Option {
	return func(o *Orchestrator) { o.broadcaster = b }
}

func WithAnalytics(tracker analytics.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = tracker }
}

func WithBlobs(blobs *blobstore.Externalizer) Option {
	return func(o *Orchestrator) { o.blobs = blobs }
}

func WithDebug(controller *debug.Controller) Option {
	return func(o *Orchestrator) { o.debug = controller }
}

// WithControl relays control commands for runs owned by other processes.
func WithControl(publisher control.Publisher) Option {
	return func(o *Orchestrator) { o.control = publisher }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func New(
	p persistence.Persistence,
	reg *registry.Registry,
	exec *executor.Executor,
	limiter *ratelimit.Limiter,
	cfg config.ExecutionConfig,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		persistence: p,
		registry:    reg,
		executor:    exec,
		limiter:     limiter,
		broadcaster: broadcast.Noop{},
		tracker:     analytics.Noop{},
		debug:       debug.NewController(5 * time.Minute),
		tracer:      otelhelper.NoopTracer(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
		cfg:         cfg,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Debug returns the breakpoint controller shared by debug runs.
func (o *Orchestrator) Debug() *debug.Controller {
	return o.debug
}

// run holds the state of one execution while its hop loop is active.
type run struct {
	req       RunRequest
	execCtx   *models.ExecutionContext
	active    *activeRun
	lease     *ratelimit.Lease
	logger    *slog.Logger
	started   time.Time
	hops      int
	persistTo context.Context
}

// Run executes req to completion. Capacity rejections and storage failures
// before the run starts are returned as errors; a graph that fails
// validation returns a failed result together with a ValidationError. Node
// failures never produce an error: they end the run with status failed.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.run",
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.UserIDKey, req.UserID),
		attribute.String(otelhelper.WorkspaceIDKey, req.WorkspaceID),
	)
	defer span.End()

	logger := o.logger.With("execution_id", req.ExecutionID, "workflow_id", req.WorkflowID)

	lease, err := o.admit(ctx, req)
	if err != nil {
		logger.WarnContext(ctx, "Run rejected at admission", "user_id", req.UserID, "workspace_id", req.WorkspaceID, "error", err)
		otelhelper.SetError(span, err)

		return nil, err
	}
	defer func() { _ = lease.Release(ctx) }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.Debug {
		o.debug.Attach(req.ExecutionID, req.Breakpoints)
		defer o.debug.Release(req.ExecutionID)
	}

	active := &activeRun{cancel: cancel}
	o.runs.Store(req.ExecutionID, active)
	defer o.runs.Delete(req.ExecutionID)

	r := &run{
		req:       req,
		active:    active,
		lease:     lease,
		logger:    logger,
		started:   time.Now(),
		persistTo: context.WithoutCancel(ctx),
	}

	execution := &models.Execution{
		ID:          req.ExecutionID,
		WorkflowID:  req.WorkflowID,
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Status:      models.ExecutionStatusRunning,
		Input:       req.Message,
		CreatedAt:   r.started.UTC(),
	}

	if err := o.persistence.Executions().Create(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution %s: %w", req.ExecutionID, err)
	}

	o.broadcast(ctx, r, protocol.EventWorkflowStart, "", map[string]any{
		"workflow_id":   req.WorkflowID,
		"start_node_id": req.StartNodeID,
	})

	if err := o.Validate(req.Graph, req.StartNodeID); err != nil {
		logger.WarnContext(ctx, "Workflow validation failed", "error", err)
		otelhelper.SetError(span, err)

		return o.rejectInvalid(r, err), err
	}

	logger.InfoContext(ctx, "Starting workflow run", "nodes", len(req.Graph.Nodes), "start_node_id", req.StartNodeID)

	result := o.loop(runCtx, r)
	if result.Status == models.ExecutionStatusFailed {
		span.SetAttributes(attribute.String("flowrun.failed_node", result.FailedNode))
	}

	return result, nil
}

// admit checks the workspace quota and takes a concurrency slot.
func (o *Orchestrator) admit(ctx context.Context, req RunRequest) (*ratelimit.Lease, error) {
	if o.usage != nil {
		if err := o.usage.CheckLimits(ctx, req.WorkspaceID, req.Tier, req.CustomLimits); err != nil {
			return nil, err
		}
	}

	available, err := o.limiter.CheckUserLimit(ctx, req.UserID, req.Tier, req.CustomLimits)
	if err != nil {
		return nil, err
	}

	if !available {
		return nil, &ratelimit.LimitError{
			Scope: "user",
			ID:    req.UserID,
			Limit: models.LimitsFor(req.Tier, req.CustomLimits).MaxConcurrentJobs,
		}
	}

	return o.limiter.Acquire(ctx, ratelimit.Slot{
		UserID:       req.UserID,
		WorkspaceID:  req.WorkspaceID,
		ExecutionID:  req.ExecutionID,
		Tier:         req.Tier,
		CustomLimits: req.CustomLimits,
	})
}

func (o *Orchestrator) rejectInvalid(r *run, err error) *RunResult {
	ctx := r.persistTo

	o.finish(ctx, r, models.ExecutionOutcome{Status: models.ExecutionStatusFailed, Error: err.Error()})
	o.audit(ctx, r.req, models.AuditWorkflowValidationFailed, map[string]any{
		"execution_id": r.req.ExecutionID,
		"error":        err.Error(),
	})
	o.broadcast(ctx, r, protocol.EventWorkflowError, "", map[string]any{"error": err.Error()})

	return &RunResult{
		ExecutionID: r.req.ExecutionID,
		Status:      models.ExecutionStatusFailed,
		Output:      err.Error(),
		Error:       err.Error(),
		Duration:    time.Since(r.started),
	}
}

// loop walks the graph from the entry node until no edge matches, a node
// fails, the run is cancelled or the hop limit is reached.
func (o *Orchestrator) loop(ctx context.Context, r *run) *RunResult {
	req := r.req
	r.execCtx = models.NewExecutionContext(req.ExecutionID, req.WorkflowID, req.UserID, req.WorkspaceID, req.Variables, req.InitialOutputs)

	current, input, err := o.entry(ctx, r)
	if err != nil {
		return o.failRun(r, current.ID, err.Error())
	}

	visited := make(map[string]bool)

	var last any

	for r.hops < o.cfg.MaxHops {
		if visited[current.ID] {
			r.logger.WarnContext(ctx, "Node revisited, ending run", "node_id", current.ID)

			break
		}

		visited[current.ID] = true

		if r.active.cancelled.Load() || ctx.Err() != nil || !o.renew(ctx, r) {
			return o.cancelRun(r, current.ID)
		}

		output, failed := o.hop(ctx, r, current, input)
		last = output

		if r.active.cancelled.Load() || ctx.Err() != nil {
			return o.cancelRun(r, current.ID)
		}

		if failed {
			if !current.ContinueOnFail() {
				result, _ := models.AsResult(output)

				return o.failRun(r, current.ID, result.ErrorMessage())
			}

			r.logger.InfoContext(ctx, "Node failed, continuing", "node_id", current.ID)
		}

		edge, ok := SelectEdge(req.Graph.OutgoingEdges(current.ID), output)
		if !ok {
			break
		}

		next, _ := req.Graph.Node(edge.Target)

		input, err = o.blobs.Externalize(ctx, req.ExecutionID, next.ID, Project(output, edge.SourceHandle))
		if err != nil {
			return o.failRun(r, current.ID, err.Error())
		}

		current = next
	}

	if r.hops >= o.cfg.MaxHops {
		r.logger.WarnContext(ctx, "Hop limit reached, ending run", "max_hops", o.cfg.MaxHops)
	}

	return o.completeRun(r, last)
}

// renew extends the run's slot before a hop. A slot removed by a cancel
// from another process stops the run; a store error does not.
func (o *Orchestrator) renew(ctx context.Context, r *run) bool {
	if r.lease == nil {
		return true
	}

	held, err := r.lease.Renew(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to renew execution slot", "error", err)

		return true
	}

	if !held {
		r.logger.InfoContext(ctx, "Execution slot revoked, stopping run")
	}

	return held
}

// entry resolves the first node of the run and its input. A resumed run
// starts at StartNodeID, fed from the first predecessor present in the seed.
func (o *Orchestrator) entry(ctx context.Context, r *run) (models.NodeSpec, any, error) {
	req := r.req

	if req.StartNodeID == "" {
		node, _ := req.Graph.EntryNode()

		return node, req.Message, nil
	}

	node, _ := req.Graph.Node(req.StartNodeID)

	for _, edge := range req.Graph.IncomingEdges(node.ID) {
		seeded, ok := r.execCtx.NodeOutputs[edge.Source]
		if !ok {
			continue
		}

		output, err := o.blobs.Resolve(ctx, seeded)
		if err != nil {
			return node, nil, err
		}

		return node, Project(output, edge.SourceHandle), nil
	}

	return node, req.Message, nil
}

// hop runs one node and records it. It reports whether the node failed.
func (o *Orchestrator) hop(ctx context.Context, r *run, node models.NodeSpec, input any) (any, bool) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.hop",
		attribute.String(otelhelper.ExecutionIDKey, r.req.ExecutionID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)
	defer span.End()

	r.hops++
	r.execCtx.CurrentNodeID = node.ID
	r.execCtx.Attempt = 0

	o.broadcast(ctx, r, protocol.EventNodeStart, node.ID, map[string]any{
		"node_type": node.Type,
		"label":     node.DisplayName(),
	})

	if r.req.Debug && o.debug.ShouldPause(r.req.ExecutionID, node.ID, node.Breakpoint()) {
		o.broadcast(ctx, r, protocol.EventNodePaused, node.ID, nil)

		if err := o.debug.Wait(ctx, r.req.ExecutionID, node.ID); err != nil {
			return models.ErrorResult(models.ErrorTypeCancelled, "Cancelled"), true
		}

		o.broadcast(ctx, r, protocol.EventNodeResumed, node.ID, nil)
	}

	started := time.Now()

	var output any

	resolved, err := o.blobs.Resolve(ctx, input)
	switch {
	case err != nil:
		output = models.ErrorResult(models.ErrorTypeException, err.Error())
	case node.Type == models.NodeTypeChatInput:
		output = resolved
	default:
		output = o.executor.Execute(ctx, executor.Request{
			NodeID:   node.ID,
			NodeType: node.Type,
			Input:    resolved,
			Config:   node.Config,
			Context:  r.execCtx,
		})
	}

	elapsed := time.Since(started)

	result, isResult := models.AsResult(output)
	failed := isResult && (result.HasError() || result.Status() == models.StatusError)

	stored, err := o.blobs.Externalize(ctx, r.req.ExecutionID, node.ID, output)
	if err != nil {
		r.logger.WarnContext(ctx, "Keeping node output inline", "node_id", node.ID, "error", err)

		stored = output
	}

	r.execCtx.NodeOutputs[node.ID] = stored

	record := &models.NodeExecution{
		ID:            uuid.NewString(),
		ExecutionID:   r.req.ExecutionID,
		NodeID:        node.ID,
		NodeType:      node.Type,
		Input:         input,
		Output:        stored,
		Status:        models.StatusSuccess,
		ExecutionTime: elapsed,
		Logs:          r.execCtx.DrainLogs(),
		CreatedAt:     started.UTC(),
	}

	if failed {
		record.Status = models.StatusError
		record.Error = result.ErrorMessage()
		otelhelper.SetError(span, errors.New(record.Error))
	}

	if err := o.persistence.NodeExecutions().Append(r.persistTo, record); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist node execution", "node_id", node.ID, "error", err)
	}

	payload := map[string]any{
		"status":            record.Status,
		"preview":           models.Truncate(models.Stringify(output), o.cfg.PreviewLength),
		"execution_time_ms": elapsed.Milliseconds(),
	}
	if failed {
		payload["error"] = record.Error
	}

	o.broadcast(ctx, r, protocol.EventNodeEnd, node.ID, payload)

	return output, failed
}

func (o *Orchestrator) completeRun(r *run, last any) *RunResult {
	ctx := r.persistTo
	duration := time.Since(r.started)

	stored, err := o.blobs.Externalize(ctx, r.req.ExecutionID, "output", last)
	if err != nil {
		stored = models.Truncate(models.Stringify(last), o.cfg.DLQValueLength)
	}

	o.finish(ctx, r, models.ExecutionOutcome{
		Status:   models.ExecutionStatusCompleted,
		Output:   stored,
		Duration: duration,
	})

	o.audit(ctx, r.req, models.AuditWorkflowCompleted, map[string]any{
		"execution_id": r.req.ExecutionID,
		"hops":         r.hops,
		"duration_ms":  duration.Milliseconds(),
	})

	o.tracker.TrackWorkflow(ctx, analytics.WorkflowEvent{
		WorkflowID:  r.req.WorkflowID,
		ExecutionID: r.req.ExecutionID,
		Status:      string(models.ExecutionStatusCompleted),
		Duration:    duration,
		Hops:        r.hops,
	})

	output := models.Stringify(last)
	data := models.Stringify(Project(last, ""))

	o.broadcast(ctx, r, protocol.EventWorkflowComplete, "", map[string]any{
		"output":      models.Truncate(data, o.cfg.PreviewLength),
		"hops":        r.hops,
		"duration_ms": duration.Milliseconds(),
	})

	r.logger.InfoContext(ctx, "Workflow run completed", "hops", r.hops, "duration", duration)

	return &RunResult{
		ExecutionID: r.req.ExecutionID,
		Status:      models.ExecutionStatusCompleted,
		Output:      output,
		Data:        data,
		Hops:        r.hops,
		Duration:    duration,
	}
}

// failRun ends the run on an unrecoverable node failure and captures it as
// a dead letter.
func (o *Orchestrator) failRun(r *run, nodeID, message string) *RunResult {
	ctx := r.persistTo
	duration := time.Since(r.started)

	if message == "" {
		message = "node " + nodeID + " failed"
	}

	deadLetter := &models.DeadLetter{
		ExecutionID:  r.req.ExecutionID,
		WorkflowID:   r.req.WorkflowID,
		UserID:       r.req.UserID,
		WorkspaceID:  r.req.WorkspaceID,
		Tier:         r.req.Tier,
		FailedNodeID: nodeID,
		Graph:        r.req.Graph,
		Message:      r.req.Message,
		ErrorMessage: message,
		ContextSummary: models.ContextSummary{
			NodeOutputs: truncateValues(r.execCtx.NodeOutputs, o.cfg.DLQValueLength),
			Variables:   truncateValues(r.execCtx.Variables, o.cfg.DLQValueLength),
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := o.persistence.DeadLetters().Save(ctx, deadLetter); err != nil {
		r.logger.ErrorContext(ctx, "Failed to write dead letter", "error", err)
	}

	o.finish(ctx, r, models.ExecutionOutcome{
		Status:   models.ExecutionStatusFailed,
		Error:    message,
		Duration: duration,
	})

	o.audit(ctx, r.req, models.AuditWorkflowFailed, map[string]any{
		"execution_id":   r.req.ExecutionID,
		"failed_node_id": nodeID,
		"error":          message,
	})

	o.tracker.TrackWorkflow(ctx, analytics.WorkflowEvent{
		WorkflowID:  r.req.WorkflowID,
		ExecutionID: r.req.ExecutionID,
		Status:      string(models.ExecutionStatusFailed),
		Duration:    duration,
		Hops:        r.hops,
	})

	o.broadcast(ctx, r, protocol.EventWorkflowError, nodeID, map[string]any{"error": message})

	r.logger.WarnContext(ctx, "Workflow run failed", "node_id", nodeID, "error", message)

	return &RunResult{
		ExecutionID: r.req.ExecutionID,
		Status:      models.ExecutionStatusFailed,
		Output:      message,
		Error:       message,
		FailedNode:  nodeID,
		Hops:        r.hops,
		Duration:    duration,
	}
}

func (o *Orchestrator) cancelRun(r *run, nodeID string) *RunResult {
	ctx := r.persistTo
	duration := time.Since(r.started)

	o.finish(ctx, r, models.ExecutionOutcome{
		Status:   models.ExecutionStatusFailed,
		Error:    "Cancelled",
		Duration: duration,
	})

	o.audit(ctx, r.req, models.AuditWorkflowCancelled, map[string]any{
		"execution_id": r.req.ExecutionID,
		"node_id":      nodeID,
	})

	o.broadcast(ctx, r, protocol.EventWorkflowError, nodeID, map[string]any{"error": "Cancelled"})

	r.logger.InfoContext(ctx, "Workflow run cancelled", "node_id", nodeID)

	return &RunResult{
		ExecutionID: r.req.ExecutionID,
		Status:      models.ExecutionStatusFailed,
		Output:      "Cancelled",
		Error:       "Cancelled",
		FailedNode:  nodeID,
		Hops:        r.hops,
		Duration:    duration,
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, outcome models.ExecutionOutcome) {
	outcome.FinishedAt = time.Now().UTC()

	if err := o.persistence.Executions().Finish(ctx, r.req.ExecutionID, outcome); err != nil {
		r.logger.ErrorContext(ctx, "Failed to finish execution", "status", outcome.Status, "error", err)
	}
}

func (o *Orchestrator) audit(ctx context.Context, req RunRequest, action string, details map[string]any) {
	entry := &models.AuditLog{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		Action:      action,
		Details:     details,
		CreatedAt:   time.Now().UTC(),
	}

	if err := o.persistence.AuditLogs().Append(ctx, entry); err != nil {
		o.logger.ErrorContext(ctx, "Failed to write audit log", "action", action, "error", err)
	}
}

func (o *Orchestrator) broadcast(ctx context.Context, r *run, eventType, nodeID string, payload map[string]any) {
	o.broadcaster.Broadcast(ctx, protocol.BroadcastEvent{
		Type:        eventType,
		ExecutionID: r.req.ExecutionID,
		NodeID:      nodeID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	})
}

// truncateValues replaces values whose text form exceeds limit by their
// truncated text.
func truncateValues(values map[string]any, limit int) map[string]any {
	out := make(map[string]any, len(values))

	for k, v := range values {
		text := models.Stringify(v)
		if limit > 0 && len(text) > limit {
			out[k] = models.Truncate(text, limit)

			continue
		}

		out[k] = v
	}

	return out
}
