// Package web provides the HTTP handlers of the execution API.
package web

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/dukex/flowrun/pkg/cache"
	"github.com/dukex/flowrun/pkg/circuitbreaker"
	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/jobqueue"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/orchestrator"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	orchestrator *orchestrator.Orchestrator
	queue        *jobqueue.Queue
	persistence  persistence.Persistence
	breaker      *circuitbreaker.Breaker
	cache        *cache.Cache
	limiter      *ratelimit.Limiter
	validator    *validator.Validate
	logger       *slog.Logger
}

func NewAPIHandlers(
	o *orchestrator.Orchestrator,
	queue *jobqueue.Queue,
	p persistence.Persistence,
	breaker *circuitbreaker.Breaker,
	c *cache.Cache,
	limiter *ratelimit.Limiter,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		orchestrator: o,
		queue:        queue,
		persistence:  p,
		breaker:      breaker,
		cache:        c,
		limiter:      limiter,
		validator:    validator,
		logger:       logger,
	}
}

// Mount registers every route on router.
func (h *APIHandlers) Mount(router fiber.Router) {
	router.Post("/runs", h.Run)
	router.Post("/runs/async", h.RunAsync)

	router.Get("/executions/:id", h.GetExecution)
	router.Post("/executions/:id/cancel", h.CancelExecution)

	router.Get("/dead-letters", h.ListDeadLetters)
	router.Get("/dead-letters/:id", h.GetDeadLetter)
	router.Post("/dead-letters/:id/resume", h.ResumeDeadLetter)

	router.Get("/circuits", h.ListCircuits)
	router.Get("/circuits/:nodeType", h.GetCircuit)
	router.Post("/circuits/:nodeType/reset", h.ResetCircuit)

	router.Get("/cache/stats", h.CacheStats)
	router.Post("/cache/stats/reset", h.ResetCacheStats)
	router.Delete("/cache", h.InvalidateCache)
	router.Delete("/cache/:nodeType", h.InvalidateNodeTypeCache)

	router.Get("/rate-limits/:userId", h.GetRateLimit)

	router.Post("/debug/:executionId/breakpoints", h.SetBreakpoints)
	router.Post("/debug/:executionId/step", h.Step)
	router.Delete("/debug/:executionId/breakpoints/:nodeId", h.ClearBreakpoint)

	router.Get("/audit-logs", h.ListAuditLogs)
}

func (h *APIHandlers) bindRun(c fiber.Ctx) (*RunRequest, error) {
	var req RunRequest

	if err := c.Bind().JSON(&req); err != nil {
		return nil, badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, badRequest(c, err.Error())
	}

	return &req, nil
}

// Run executes a graph and waits for its result.
func (h *APIHandlers) Run(c fiber.Ctx) error {
	req, err := h.bindRun(c)
	if req == nil {
		return err
	}

	result, err := h.orchestrator.Run(c.Context(), req.toRun())
	if err != nil {
		return handleRunError(c, err)
	}

	return c.JSON(result)
}

// RunAsync validates a graph and hands it to a worker.
func (h *APIHandlers) RunAsync(c fiber.Ctx) error {
	req, err := h.bindRun(c)
	if req == nil {
		return err
	}

	if err := h.orchestrator.Validate(req.Graph, ""); err != nil {
		return handleRunError(c, err)
	}

	jobID, err := h.queue.Enqueue(c.Context(), jobqueue.JobFromRequest(req.toRun()))
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(JobResponse{JobID: jobID, Status: "queued"})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	execution, err := h.persistence.Executions().GetByID(c.Context(), id)
	if err != nil {
		return handleRunError(c, err)
	}

	nodeExecutions, err := h.persistence.NodeExecutions().ListByExecution(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(ExecutionResponse{
		Execution:      execution,
		NodeExecutions: nodeExecutions,
		Running:        h.orchestrator.Running(id),
	})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")

	relayed, err := h.orchestrator.Control(c.Context(), control.Command{ExecutionID: id, Action: control.ActionCancel})
	if err != nil {
		return handleRunError(c, err)
	}

	return c.JSON(ControlResponse{ExecutionID: id, Status: "cancelling", Relayed: relayed})
}

func (h *APIHandlers) ListDeadLetters(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	deadLetters, err := h.persistence.DeadLetters().List(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"dead_letters": deadLetters,
		"total_count":  len(deadLetters),
	})
}

func (h *APIHandlers) GetDeadLetter(c fiber.Ctx) error {
	deadLetter, err := h.persistence.DeadLetters().GetByExecutionID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRunError(c, err)
	}

	return c.JSON(deadLetter)
}

// ResumeDeadLetter starts a new run from a dead letter, inline or through
// the job queue when async is set.
func (h *APIHandlers) ResumeDeadLetter(c fiber.Ctx) error {
	id := c.Params("id")

	var req ResumeRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	opts := orchestrator.ResumeOptions{
		Tier:         req.Tier,
		CustomLimits: req.CustomLimits,
		Debug:        req.Debug,
		Breakpoints:  req.Breakpoints,
	}

	if !req.Async {
		result, err := h.orchestrator.Resume(c.Context(), id, req.StartNodeID, opts)
		if err != nil {
			return handleRunError(c, err)
		}

		return c.JSON(result)
	}

	run, err := h.orchestrator.ResumeRequest(c.Context(), id, req.StartNodeID, opts)
	if err != nil {
		return handleRunError(c, err)
	}

	jobID, err := h.queue.Enqueue(c.Context(), jobqueue.JobFromRequest(run))
	if err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Queued resume of dead letter", "execution_id", id, "job_id", jobID)

	return c.Status(fiber.StatusAccepted).JSON(JobResponse{JobID: jobID, Status: "queued"})
}

func (h *APIHandlers) ListCircuits(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"circuits": h.breaker.All()})
}

func (h *APIHandlers) GetCircuit(c fiber.Ctx) error {
	return c.JSON(h.breaker.Status(c.Params("nodeType")))
}

func (h *APIHandlers) ResetCircuit(c fiber.Ctx) error {
	nodeType := c.Params("nodeType")

	h.breaker.Reset(nodeType)

	return c.JSON(h.breaker.Status(nodeType))
}

func (h *APIHandlers) CacheStats(c fiber.Ctx) error {
	return c.JSON(h.cache.Stats())
}

func (h *APIHandlers) ResetCacheStats(c fiber.Ctx) error {
	h.cache.ResetStats()

	return c.JSON(h.cache.Stats())
}

func (h *APIHandlers) InvalidateCache(c fiber.Ctx) error {
	count, err := h.cache.Invalidate(c.Context(), c.Query("pattern"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"invalidated": count})
}

func (h *APIHandlers) InvalidateNodeTypeCache(c fiber.Ctx) error {
	count, err := h.cache.InvalidateNodeType(c.Context(), c.Params("nodeType"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"invalidated": count, "node_type": c.Params("nodeType")})
}

func (h *APIHandlers) GetRateLimit(c fiber.Ctx) error {
	userID := c.Params("userId")
	workspaceID := c.Query("workspace_id")

	tier := c.Query("tier", models.TierFree)

	usage, err := h.limiter.Usage(c.Context(), userID, workspaceID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(RateLimitResponse{
		Usage:       usage,
		UserID:      userID,
		WorkspaceID: workspaceID,
		Tier:        tier,
		Limits:      models.LimitsFor(tier, nil),
	})
}

func (h *APIHandlers) SetBreakpoints(c fiber.Ctx) error {
	executionID := c.Params("executionId")

	var req BreakpointsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.control(c, control.Command{ExecutionID: executionID, Action: control.ActionSetBreakpoints, NodeIDs: req.NodeIDs}, "breakpoints_set")
}

func (h *APIHandlers) Step(c fiber.Ctx) error {
	return h.control(c, control.Command{ExecutionID: c.Params("executionId"), Action: control.ActionStep}, "stepped")
}

func (h *APIHandlers) ClearBreakpoint(c fiber.Ctx) error {
	cmd := control.Command{
		ExecutionID: c.Params("executionId"),
		Action:      control.ActionClearBreakpoint,
		NodeIDs:     []string{c.Params("nodeId")},
	}

	return h.control(c, cmd, "breakpoint_cleared")
}

// control applies a debug command and reports the breakpoints left when the
// run is local.
func (h *APIHandlers) control(c fiber.Ctx, cmd control.Command, status string) error {
	relayed, err := h.orchestrator.Control(c.Context(), cmd)
	if err != nil {
		return handleRunError(c, err)
	}

	response := ControlResponse{ExecutionID: cmd.ExecutionID, Status: status, Relayed: relayed}
	if !relayed {
		response.Breakpoints = h.orchestrator.Debug().Breakpoints(cmd.ExecutionID)
	}

	return c.JSON(response)
}

func (h *APIHandlers) ListAuditLogs(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	entries, err := h.persistence.AuditLogs().List(c.Context(), persistence.AuditFilter{
		UserID:      c.Query("user_id"),
		WorkspaceID: c.Query("workspace_id"),
		Action:      c.Query("action"),
		Limit:       limit,
	})
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"audit_logs": entries, "total_count": len(entries)})
}

func queryInt(c fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}

	if value < 0 {
		return 0, errors.New("must not be negative")
	}

	return value, nil
}
