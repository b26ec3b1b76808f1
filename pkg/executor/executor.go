// Package executor invokes a single node with timeout, retry, self-healing,
// caching, circuit breaking and usage tracking composed around it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/dukex/flowrun/pkg/analytics"
	"github.com/dukex/flowrun/pkg/cache"
	"github.com/dukex/flowrun/pkg/circuitbreaker"
	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/dukex/flowrun/pkg/selfheal"
	"github.com/dukex/flowrun/pkg/usage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Request is one node dispatch.
type Request struct {
	NodeID   string
	NodeType string
	Input    any
	Config   map[string]any
	Context  *models.ExecutionContext
}

type Executor struct {
	registry *registry.Registry
	breaker  *circuitbreaker.Breaker
	cache    *cache.Cache
	advisor  selfheal.Advisor
	tracker  analytics.Tracker
	usage    *usage.Recorder
	tracer   trace.Tracer
	logger   *slog.Logger

	defaultTimeout time.Duration
	backoffUnit    time.Duration
	jitter         func() float64
}

type Option func(*Executor)

func WithCache(c *cache.Cache) Option {
	return func(e *Executor) { e.cache = c }
}

func WithAdvisor(advisor selfheal.Advisor) Option {
	return func(e *Executor) { e.advisor = advisor }
}

func WithAnalytics(tracker analytics.Tracker) Option {
	return func(e *Executor) { e.tracker = tracker }
}

func WithUsage(recorder *usage.Recorder) Option {
	return func(e *Executor) { e.usage = recorder }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

func New(reg *registry.Registry, breaker *circuitbreaker.Breaker, cfg config.ExecutionConfig, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry:       reg,
		breaker:        breaker,
		tracker:        analytics.Noop{},
		tracer:         otelhelper.NoopTracer(),
		logger:         logger,
		defaultTimeout: cfg.DefaultNodeTimeout,
		backoffUnit:    cfg.BackoffUnit,
		jitter:         rand.Float64,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// failure kinds of a single attempt
type kind int

const (
	kindSuccess kind = iota
	kindLogical
	kindTimeout
	kindException
	kindCancelled
)

type outcome struct {
	kind   kind
	result models.Result
	err    error
	stack  string
}

// Execute runs the node described by req. It never returns a Go error:
// every failure is reported as a Result carrying "error" and "error_type".
func (e *Executor) Execute(ctx context.Context, req Request) models.Result {
	if req.Context == nil {
		req.Context = models.NewExecutionContext("", "", "", "", nil, nil)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.execute",
		attribute.String(otelhelper.NodeTypeKey, req.NodeType),
		attribute.String(otelhelper.NodeIDKey, req.NodeID),
		attribute.String(otelhelper.ExecutionIDKey, req.Context.ExecutionID),
	)
	defer span.End()

	logger := e.logger.With("execution_id", req.Context.ExecutionID, "node_id", req.NodeID, "node_type", req.NodeType)
	started := time.Now()

	if ok, reason := e.breaker.CanExecute(req.NodeType); !ok {
		logger.WarnContext(ctx, "Circuit open, skipping node", "reason", reason)
		e.track(ctx, req, models.StatusError, models.ErrorTypeCircuitBreaker, started, false, 0)
		otelhelper.SetError(span, errors.New(reason))

		return models.ErrorResult(models.ErrorTypeCircuitBreaker, reason)
	}

	cacheable := e.cache != nil && e.cache.Enabled() && e.registry.IsCacheable(req.NodeType, req.Config)
	if cacheable {
		if hit := e.cache.Get(ctx, req.NodeType, req.Input, req.Config); hit != nil {
			logger.DebugContext(ctx, "Cache hit")
			span.SetAttributes(attribute.Bool(otelhelper.CachedKey, true))
			e.track(ctx, req, models.StatusSuccess, "", started, true, 0)

			return hit
		}
	}

	factory, err := e.registry.Factory(req.NodeType)
	if err != nil {
		logger.ErrorContext(ctx, "Unknown node type", "error", err)
		e.track(ctx, req, models.StatusError, models.ErrorTypeNodeNotFound, started, false, 0)
		otelhelper.SetError(span, err)

		return models.ErrorResult(models.ErrorTypeNodeNotFound, err.Error())
	}

	cfg := copyConfig(req.Config)
	retries := max(intValue(cfg["retry_count"]), 0)

	for attempt := 0; ; attempt++ {
		req.Context.Attempt = attempt
		span.SetAttributes(attribute.Int(otelhelper.AttemptKey, attempt))

		node, err := e.registry.Create(ctx, factory, req.NodeID, cfg)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to create node", "error", err)
			e.track(ctx, req, models.StatusError, models.ErrorTypeException, started, false, attempt+1)
			otelhelper.SetError(span, err)

			return models.ErrorResult(models.ErrorTypeException, err.Error())
		}

		out := e.run(ctx, node, req, e.timeout(cfg))

		switch out.kind {
		case kindSuccess:
			e.succeed(ctx, req, out.result, cacheable, started, attempt)

			return out.result
		case kindCancelled:
			logger.InfoContext(ctx, "Node dispatch cancelled")

			return models.ErrorResult(models.ErrorTypeCancelled, "Cancelled")
		case kindLogical:
			if attempt < retries {
				if patch, retry := e.heal(ctx, req, cfg, out.result, attempt); retry {
					for k, v := range patch {
						cfg[k] = v
					}

					continue
				}

				if ctx.Err() != nil {
					return models.ErrorResult(models.ErrorTypeCancelled, "Cancelled")
				}
			}
		case kindTimeout, kindException:
			if attempt < retries {
				delay := e.backoff(attempt)
				req.Context.Logf(fmt.Sprintf("attempt %d failed: %v; retrying in %s", attempt, out.err, delay))
				logger.WarnContext(ctx, "Node attempt failed, backing off", "attempt", attempt, "delay", delay, "error", out.err)

				if sleep(ctx, delay) != nil {
					return models.ErrorResult(models.ErrorTypeCancelled, "Cancelled")
				}

				continue
			}
		}

		result := e.fail(ctx, req, out, started, attempt)
		otelhelper.SetError(span, errors.New(result.ErrorMessage()))

		return result
	}
}

// run executes one attempt under timeout. A panic inside the node is
// recovered and reported with its stack trace. The node works on a snapshot
// of the run context; variables it sets are merged back only when it returns
// in time.
func (e *Executor) run(ctx context.Context, node protocol.Node, req Request, timeout time.Duration) outcome {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snapshot := req.Context.Snapshot()
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{kind: kindException, err: fmt.Errorf("panic: %v", r), stack: string(debug.Stack())}
			}
		}()

		result, err := node.Execute(runCtx, req.Input, snapshot)
		done <- classify(result, err)
	}()

	select {
	case out := <-done:
		req.Context.MergeVariables(snapshot)

		if out.kind != kindSuccess && ctx.Err() != nil {
			return outcome{kind: kindCancelled}
		}

		if out.kind == kindException && errors.Is(out.err, context.DeadlineExceeded) && runCtx.Err() != nil {
			return outcome{kind: kindTimeout, err: fmt.Errorf("node timed out after %s", timeout)}
		}

		return out
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return outcome{kind: kindCancelled}
		}

		return outcome{kind: kindTimeout, err: fmt.Errorf("node timed out after %s", timeout)}
	}
}

func classify(result models.Result, err error) outcome {
	if err != nil {
		return outcome{kind: kindException, err: err}
	}

	if result == nil {
		return outcome{kind: kindSuccess, result: models.Result{"status": models.StatusSuccess}}
	}

	if result.HasError() || result.Status() == models.StatusError {
		return outcome{kind: kindLogical, result: result, err: errors.New(result.ErrorMessage())}
	}

	return outcome{kind: kindSuccess, result: result}
}

// heal asks the advisor how to recover from a logical error. Without an
// advisor the attempt is retried at once.
func (e *Executor) heal(ctx context.Context, req Request, cfg map[string]any, result models.Result, attempt int) (map[string]any, bool) {
	if e.advisor == nil {
		req.Context.Logf(fmt.Sprintf("attempt %d failed: %s; retrying", attempt, result.ErrorMessage()))

		return nil, true
	}

	strategy := e.advisor.Advise(ctx, selfheal.Request{
		NodeType: req.NodeType,
		Error:    result.ErrorMessage(),
		Config:   cfg,
		Attempt:  attempt,
	})

	e.logger.InfoContext(ctx, "Self-healing advice",
		"execution_id", req.Context.ExecutionID, "node_id", req.NodeID,
		"action", strategy.Action, "reason", strategy.Reason, "delay", strategy.Delay)

	if strategy.Action != selfheal.ActionRetry {
		req.Context.Logf(fmt.Sprintf("attempt %d failed: %s; giving up (%s)", attempt, result.ErrorMessage(), strategy.Reason))

		return nil, false
	}

	req.Context.Logf(fmt.Sprintf("attempt %d failed: %s; retrying (%s)", attempt, result.ErrorMessage(), strategy.Reason))

	if sleep(ctx, strategy.Delay) != nil {
		return nil, false
	}

	return strategy.ConfigPatch, true
}

func (e *Executor) succeed(ctx context.Context, req Request, result models.Result, cacheable bool, started time.Time, attempt int) {
	e.track(ctx, req, models.StatusSuccess, "", started, false, attempt+1)
	e.breaker.RecordSuccess(req.NodeType)

	if cacheable {
		e.cache.Set(ctx, req.NodeType, req.Input, req.Config, result, cache.TTLFromConfig(req.Config))
	}

	if e.usage != nil && req.Context.WorkspaceID != "" {
		e.usage.Track(ctx, req.Context.WorkspaceID, 1, usage.TokensFromResult(result))
	}
}

func (e *Executor) fail(ctx context.Context, req Request, out outcome, started time.Time, attempt int) models.Result {
	var result models.Result

	switch out.kind {
	case kindLogical:
		result = copyResult(out.result)
		if result.ErrorType() == "" {
			result["error_type"] = models.ErrorTypeLogical
		}

		if result.Status() == "" {
			result["status"] = models.StatusError
		}
	case kindTimeout:
		result = models.ErrorResult(models.ErrorTypeTimeout, out.err.Error())
	default:
		result = models.ErrorResult(models.ErrorTypeException, out.err.Error())
		if out.stack != "" {
			result["stack_trace"] = out.stack
		}
	}

	if !result.HasError() {
		result["error"] = "node reported status error"
	}

	e.logger.ErrorContext(ctx, "Node failed",
		"execution_id", req.Context.ExecutionID, "node_id", req.NodeID, "node_type", req.NodeType,
		"attempts", attempt+1, "error_type", result.ErrorType(), "error", result.ErrorMessage())

	e.track(ctx, req, models.StatusError, result.ErrorType(), started, false, attempt+1)
	e.breaker.RecordFailure(req.NodeType, result.ErrorMessage())

	return result
}

func (e *Executor) track(ctx context.Context, req Request, status, errorType string, started time.Time, cached bool, attempts int) {
	e.tracker.TrackNode(ctx, analytics.NodeEvent{
		NodeType:    req.NodeType,
		NodeID:      req.NodeID,
		ExecutionID: req.Context.ExecutionID,
		Status:      status,
		ErrorType:   errorType,
		Duration:    time.Since(started),
		Cached:      cached,
		Attempts:    attempts,
	})
}

// backoff returns (2^attempt + jitter) units.
func (e *Executor) backoff(attempt int) time.Duration {
	factor := math.Pow(2, float64(attempt)) + e.jitter()

	return time.Duration(factor * float64(e.backoffUnit))
}

func (e *Executor) timeout(cfg map[string]any) time.Duration {
	if d := seconds(cfg["timeout"]); d > 0 {
		return d
	}

	return e.defaultTimeout
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
