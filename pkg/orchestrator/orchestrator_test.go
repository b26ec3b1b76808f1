package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/blobstore"
	"github.com/dukex/flowrun/pkg/cache"
	"github.com/dukex/flowrun/pkg/circuitbreaker"
	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/debug"
	"github.com/dukex/flowrun/pkg/executor"
	"github.com/dukex/flowrun/pkg/mocks"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/orchestrator"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/ratelimit"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type nodeFunc func(ctx context.Context, input any) (models.Result, error)

type stubNode struct {
	fn nodeFunc
}

func (n *stubNode) Execute(ctx context.Context, input any, _ *models.ExecutionContext) (models.Result, error) {
	return n.fn(ctx, input)
}

type stubFactory struct {
	id      string
	handles []string
	fn      nodeFunc
}

func (f *stubFactory) Create(context.Context, string, map[string]any) (protocol.Node, error) {
	return &stubNode{fn: f.fn}, nil
}

func (f *stubFactory) ID() string             { return f.id }
func (f *stubFactory) Name() string           { return f.id }
func (f *stubFactory) Description() string    { return "" }
func (f *stubFactory) Schema() map[string]any { return nil }
func (f *stubFactory) OutputHandles() []string {
	return f.handles
}

type fixture struct {
	orchestrator *orchestrator.Orchestrator
	persistence  persistence.Persistence
	registry     *registry.Registry
	limiter      *ratelimit.Limiter
	broadcaster  *mocks.RecordingBroadcaster
	debug        *debug.Controller
}

func newFixture(t *testing.T, opts ...orchestrator.Option) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Execution.BackoffUnit = time.Millisecond

	p := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes()

	breaker := circuitbreaker.New(cfg.Circuit, logger)
	exec := executor.New(reg, breaker, cfg.Execution, logger,
		executor.WithCache(cache.New(cache.NewMemoryStore(), true, time.Hour, logger)))
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), time.Hour, logger)
	broadcaster := &mocks.RecordingBroadcaster{}
	controller := debug.NewController(5 * time.Second)

	opts = append([]orchestrator.Option{
		orchestrator.WithBroadcaster(broadcaster),
		orchestrator.WithDebug(controller),
	}, opts...)

	return &fixture{
		orchestrator: orchestrator.New(p, reg, exec, limiter, cfg.Execution, logger, opts...),
		persistence:  p,
		registry:     reg,
		limiter:      limiter,
		broadcaster:  broadcaster,
		debug:        controller,
	}
}

func (f *fixture) register(id string, fn nodeFunc, handles ...string) {
	f.registry.RegisterNode(&stubFactory{id: id, fn: fn, handles: handles})
}

func upper(_ context.Context, input any) (models.Result, error) {
	return models.SuccessResult(strings.ToUpper(fmt.Sprint(input))), nil
}

func failing(message string) nodeFunc {
	return func(context.Context, any) (models.Result, error) {
		return models.Result{"status": models.StatusError, "error": message}, nil
	}
}

func chain(types ...string) models.WorkflowGraph {
	graph := models.WorkflowGraph{Nodes: []models.NodeSpec{{ID: "input", Type: models.NodeTypeChatInput}}}

	previous := "input"
	for i, nodeType := range types {
		id := fmt.Sprintf("n%d", i+1)
		graph.Nodes = append(graph.Nodes, models.NodeSpec{ID: id, Type: nodeType})
		graph.Edges = append(graph.Edges, models.Edge{Source: previous, Target: id})
		previous = id
	}

	return graph
}

func runRequest(graph models.WorkflowGraph, message any) orchestrator.RunRequest {
	return orchestrator.RunRequest{
		WorkflowID:  "wf-1",
		Graph:       graph,
		Message:     message,
		UserID:      "u1",
		WorkspaceID: "w1",
		Tier:        models.TierPro,
	}
}

func (f *fixture) usage(t *testing.T) ratelimit.Usage {
	t.Helper()

	usage, err := f.limiter.Usage(context.Background(), "u1", "w1")
	require.NoError(t, err)

	return usage
}

func TestRun_CompletesLinearGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register("upper", upper)
	f.register("exclaim", func(_ context.Context, input any) (models.Result, error) {
		return models.SuccessResult(fmt.Sprint(input) + "!"), nil
	})

	result, err := f.orchestrator.Run(ctx, runRequest(chain("upper", "exclaim"), "hello"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "HELLO!", result.Data)
	assert.Equal(t, 3, result.Hops)

	execution, err := f.persistence.Executions().GetByID(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"status": models.StatusSuccess, "data": "HELLO!"}, execution.Output)
	assert.NotNil(t, execution.FinishedAt)

	hops, err := f.persistence.NodeExecutions().ListByExecution(ctx, result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, hops, 3)
	assert.Equal(t, "input", hops[0].NodeID)
	assert.Equal(t, "hello", hops[0].Output)
	assert.Equal(t, "HELLO", hops[2].Input)

	audits, err := f.persistence.AuditLogs().List(ctx, persistence.AuditFilter{Action: models.AuditWorkflowCompleted})
	require.NoError(t, err)
	assert.Len(t, audits, 1)

	assert.Equal(t, []string{
		protocol.EventWorkflowStart,
		protocol.EventNodeStart, protocol.EventNodeEnd,
		protocol.EventNodeStart, protocol.EventNodeEnd,
		protocol.EventNodeStart, protocol.EventNodeEnd,
		protocol.EventWorkflowComplete,
	}, f.broadcaster.Types())

	assert.Equal(t, ratelimit.Usage{}, f.usage(t))
}

func TestRun_FailureWritesOneDeadLetterAndStops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register("upper", upper)
	f.register("broken", failing("upstream exploded"))

	var after atomic.Int32
	f.register("after", func(context.Context, any) (models.Result, error) {
		after.Add(1)

		return models.SuccessResult("unreachable"), nil
	})

	result, err := f.orchestrator.Run(ctx, runRequest(chain("upper", "broken", "after"), "hi"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, "upstream exploded", result.Output)
	assert.Equal(t, "n2", result.FailedNode)
	assert.Equal(t, int32(0), after.Load())

	execution, err := f.persistence.Executions().GetByID(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "upstream exploded", execution.Error)

	deadLetters, err := f.persistence.DeadLetters().List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, deadLetters, 1)
	assert.Equal(t, result.ExecutionID, deadLetters[0].ExecutionID)
	assert.Equal(t, "n2", deadLetters[0].FailedNodeID)
	assert.Len(t, deadLetters[0].Graph.Nodes, 4)
	assert.Contains(t, deadLetters[0].ContextSummary.NodeOutputs, "n1")

	hops, err := f.persistence.NodeExecutions().ListByExecution(ctx, result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, hops, 3)
	assert.Equal(t, models.StatusError, hops[2].Status)

	types := f.broadcaster.Types()
	assert.Equal(t, protocol.EventWorkflowError, types[len(types)-1])

	assert.Equal(t, ratelimit.Usage{}, f.usage(t))
}

func TestRun_ContinueOnFail(t *testing.T) {
	f := newFixture(t)
	f.register("broken", failing("soft failure"))
	f.register("echo", func(_ context.Context, input any) (models.Result, error) {
		return models.SuccessResult(fmt.Sprint("got: ", input)), nil
	})

	graph := chain("broken", "echo")
	graph.Nodes[1].Config = map[string]any{"continue_on_fail": true}

	result, err := f.orchestrator.Run(context.Background(), runRequest(graph, "hi"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "got: soft failure", result.Data)
}

func TestRun_RoutesThroughHandles(t *testing.T) {
	f := newFixture(t)
	f.register("check", func(context.Context, any) (models.Result, error) {
		return models.Result{"status": models.StatusSuccess, "data": "checked"}, nil
	}, "success", "error")
	f.register("on_success", func(context.Context, any) (models.Result, error) {
		return models.SuccessResult("took success"), nil
	})
	f.register("fallback", func(context.Context, any) (models.Result, error) {
		return models.SuccessResult("took default"), nil
	})

	graph := models.WorkflowGraph{
		Nodes: []models.NodeSpec{
			{ID: "input", Type: models.NodeTypeChatInput},
			{ID: "check", Type: "check"},
			{ID: "plain", Type: "fallback"},
			{ID: "tagged", Type: "on_success"},
		},
		Edges: []models.Edge{
			{Source: "input", Target: "check"},
			{Source: "check", Target: "plain"},
			{Source: "check", Target: "tagged", SourceHandle: "success"},
		},
	}

	result, err := f.orchestrator.Run(context.Background(), runRequest(graph, "x"))
	require.NoError(t, err)
	assert.Equal(t, "took success", result.Data)
}

func TestRun_ConditionalNode(t *testing.T) {
	f := newFixture(t)
	f.register("yes", func(_ context.Context, input any) (models.Result, error) {
		return models.SuccessResult(fmt.Sprint("yes ", input)), nil
	})
	f.register("no", func(_ context.Context, input any) (models.Result, error) {
		return models.SuccessResult(fmt.Sprint("no ", input)), nil
	})

	graph := models.WorkflowGraph{
		Nodes: []models.NodeSpec{
			{ID: "input", Type: models.NodeTypeChatInput},
			{ID: "if", Type: "conditional", Config: map[string]any{"condition": `{{ eq .input "go" }}`}},
			{ID: "yes", Type: "yes"},
			{ID: "no", Type: "no"},
		},
		Edges: []models.Edge{
			{Source: "input", Target: "if"},
			{Source: "if", Target: "yes", SourceHandle: "true"},
			{Source: "if", Target: "no", SourceHandle: "false"},
		},
	}

	result, err := f.orchestrator.Run(context.Background(), runRequest(graph, "go"))
	require.NoError(t, err)
	assert.Equal(t, "yes go", result.Data)

	result, err = f.orchestrator.Run(context.Background(), runRequest(graph, "stop"))
	require.NoError(t, err)
	assert.Equal(t, "no stop", result.Data)
}

func TestRun_ValidationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var calls atomic.Int32
	f.register("upper", func(ctx context.Context, input any) (models.Result, error) {
		calls.Add(1)

		return upper(ctx, input)
	})

	graph := chain("upper")
	graph.Edges = append(graph.Edges, models.Edge{Source: "n1", Target: "ghost"})

	result, err := f.orchestrator.Run(ctx, runRequest(graph, "hi"))
	require.Error(t, err)
	assert.True(t, orchestrator.IsValidationError(err))
	assert.Contains(t, err.Error(), "ghost")
	require.NotNil(t, result)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, int32(0), calls.Load())

	execution, err := f.persistence.Executions().GetByID(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)

	hops, err := f.persistence.NodeExecutions().ListByExecution(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Empty(t, hops)

	deadLetters, err := f.persistence.DeadLetters().List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, deadLetters)

	assert.Equal(t, []string{protocol.EventWorkflowStart, protocol.EventWorkflowError}, f.broadcaster.Types())
}

func TestRun_CapacityRejectedBeforeExecutionRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := runRequest(chain(), "hi")
	req.ExecutionID = "exec-capacity"
	req.CustomLimits = map[string]int64{models.LimitMaxConcurrentJobs: 0}

	result, err := f.orchestrator.Run(ctx, req)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ratelimit.ErrLimitExceeded)

	_, err = f.persistence.Executions().GetByID(ctx, "exec-capacity")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestRun_LeaseParityAcrossMixedRuns(t *testing.T) {
	f := newFixture(t)
	f.register("upper", upper)
	f.register("broken", failing("nope"))
	f.register("panics", func(context.Context, any) (models.Result, error) {
		panic("unexpected")
	})

	var wg sync.WaitGroup

	for i := range 9 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			types := [][]string{{"upper"}, {"upper", "broken"}, {"panics"}}[i%3]
			req := runRequest(chain(types...), i)
			req.Tier = models.TierEnterprise

			_, err := f.orchestrator.Run(context.Background(), req)
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	assert.Equal(t, ratelimit.Usage{}, f.usage(t))
}

func TestResume_FromDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register("upper", upper)

	var healthy atomic.Bool
	f.register("flaky", func(_ context.Context, input any) (models.Result, error) {
		if !healthy.Load() {
			return models.Result{"status": models.StatusError, "error": "service unavailable"}, nil
		}

		return models.SuccessResult(fmt.Sprint(input, " done")), nil
	})

	failed, err := f.orchestrator.Run(ctx, runRequest(chain("upper", "flaky"), "job"))
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, failed.Status)

	healthy.Store(true)

	resumed, err := f.orchestrator.Resume(ctx, failed.ExecutionID, "", orchestrator.ResumeOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, "JOB done", resumed.Data)
	assert.NotEqual(t, failed.ExecutionID, resumed.ExecutionID)
	assert.Equal(t, 1, resumed.Hops)

	_, err = f.persistence.DeadLetters().GetByExecutionID(ctx, failed.ExecutionID)
	require.NoError(t, err)

	audits, err := f.persistence.AuditLogs().List(ctx, persistence.AuditFilter{Action: models.AuditWorkflowResumed})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, failed.ExecutionID, audits[0].Details["resumed_from"])
}

func TestResume_DeterministicFailureRepeats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register("broken", failing("always broken"))

	failed, err := f.orchestrator.Run(ctx, runRequest(chain("broken"), "x"))
	require.NoError(t, err)

	resumed, err := f.orchestrator.Resume(ctx, failed.ExecutionID, failed.FailedNode, orchestrator.ResumeOptions{})
	require.NoError(t, err)

	assert.Equal(t, failed.Status, resumed.Status)
	assert.Equal(t, failed.Output, resumed.Output)
	assert.Equal(t, failed.FailedNode, resumed.FailedNode)
}

func TestResume_UnknownDeadLetter(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Resume(context.Background(), "missing", "", orchestrator.ResumeOptions{})
	assert.True(t, persistence.IsDeadLetterNotFound(err))
}

func TestCancel_StopsRunAndReleasesLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started := make(chan struct{})
	f.register("block", func(ctx context.Context, _ any) (models.Result, error) {
		close(started)
		<-ctx.Done()

		return nil, ctx.Err()
	})

	req := runRequest(chain("block"), "x")
	req.ExecutionID = "exec-cancel"

	done := make(chan *orchestrator.RunResult, 1)
	go func() {
		result, err := f.orchestrator.Run(ctx, req)
		assert.NoError(t, err)
		done <- result
	}()

	<-started
	assert.True(t, f.orchestrator.Running("exec-cancel"))
	require.NoError(t, f.orchestrator.Cancel(ctx, "exec-cancel"))

	select {
	case result := <-done:
		assert.Equal(t, "Cancelled", result.Output)
		assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.Equal(t, ratelimit.Usage{}, f.usage(t))
	assert.ErrorIs(t, f.orchestrator.Cancel(ctx, "exec-cancel"), orchestrator.ErrExecutionNotRunning)

	audits, err := f.persistence.AuditLogs().List(ctx, persistence.AuditFilter{Action: models.AuditWorkflowCancelled})
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestRun_DebugBreakpointPausesUntilStep(t *testing.T) {
	f := newFixture(t)
	f.register("upper", upper)

	req := runRequest(chain("upper"), "dbg")
	req.ExecutionID = "exec-debug"
	req.Debug = true
	req.Breakpoints = []string{"n1"}

	done := make(chan *orchestrator.RunResult, 1)
	go func() {
		result, err := f.orchestrator.Run(context.Background(), req)
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		return f.debug.Paused()["exec-debug"] == "n1"
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, f.debug.Step("exec-debug"))

	select {
	case result := <-done:
		assert.Equal(t, "DBG", result.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resume")
	}

	assert.Contains(t, f.broadcaster.Types(), protocol.EventNodePaused)
	assert.Contains(t, f.broadcaster.Types(), protocol.EventNodeResumed)
}

func TestRun_ExternalizesLargeValues(t *testing.T) {
	ctx := context.Background()
	ext := blobstore.NewExternalizer(blobstore.NewFileStore(t.TempDir()), 64, "executions", logger)
	f := newFixture(t, orchestrator.WithBlobs(ext))

	large := strings.Repeat("a", 200)
	f.register("big", func(context.Context, any) (models.Result, error) {
		return models.SuccessResult(large), nil
	})

	var received atomic.Value
	f.register("size", func(_ context.Context, input any) (models.Result, error) {
		received.Store(input)

		return models.SuccessResult(len(fmt.Sprint(input))), nil
	})

	result, err := f.orchestrator.Run(ctx, runRequest(chain("big", "size"), "go"))
	require.NoError(t, err)
	assert.Equal(t, "200", result.Data)
	assert.Equal(t, large, received.Load())

	hops, err := f.persistence.NodeExecutions().ListByExecution(ctx, result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, hops, 3)

	_, isRef := blobstore.RefOf(hops[1].Output)
	assert.True(t, isRef)

	_, isRef = blobstore.RefOf(hops[2].Input)
	assert.True(t, isRef)
}

func TestRun_CycleIsBounded(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	f.register("loop", func(context.Context, any) (models.Result, error) {
		calls.Add(1)

		return models.SuccessResult("again"), nil
	})

	graph := chain("loop", "loop")
	graph.Edges = append(graph.Edges, models.Edge{Source: "n2", Target: "n1"})

	result, err := f.orchestrator.Run(context.Background(), runRequest(graph, "x"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_StorageFailureIsReturned(t *testing.T) {
	executions := &mocks.MockExecutionRepository{}
	executions.On("Create", mock.Anything, mock.AnythingOfType("*models.Execution")).Return(errors.New("db down"))

	p := &mocks.MockPersistence{}
	p.On("Executions").Return(executions)

	cfg := config.Default()
	reg := registry.NewRegistry(logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), time.Hour, logger)
	exec := executor.New(reg, circuitbreaker.New(cfg.Circuit, logger), cfg.Execution, logger)

	o := orchestrator.New(p, reg, exec, limiter, cfg.Execution, logger)

	_, err := o.Run(context.Background(), runRequest(chain(), "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	usage, err := limiter.Usage(context.Background(), "u1", "w1")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Usage{}, usage)
}

func TestRun_DuplicateExecutionIDKeepsLiveSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.register("block", func(context.Context, any) (models.Result, error) {
		close(started)
		<-release

		return models.SuccessResult("first"), nil
	})

	req := runRequest(chain("block"), "x")
	req.ExecutionID = "dup-1"

	done := make(chan *orchestrator.RunResult, 1)
	go func() {
		result, err := f.orchestrator.Run(ctx, req)
		assert.NoError(t, err)
		done <- result
	}()

	<-started
	assert.Equal(t, ratelimit.Usage{UserConcurrent: 1, WorkspaceConcurrent: 1}, f.usage(t))

	duplicate, err := f.orchestrator.Run(ctx, req)
	require.ErrorIs(t, err, ratelimit.ErrAlreadyAcquired)
	assert.Nil(t, duplicate)
	assert.Equal(t, ratelimit.Usage{UserConcurrent: 1, WorkspaceConcurrent: 1}, f.usage(t))

	close(release)

	select {
	case result := <-done:
		assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
		assert.Equal(t, "first", result.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	assert.Equal(t, ratelimit.Usage{}, f.usage(t))
}

func TestRun_OutputIsWholeFinalResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register("llm", func(context.Context, any) (models.Result, error) {
		return models.Result{
			"status": models.StatusSuccess,
			"data":   "d",
			"usage":  map[string]any{"total_tokens": 7},
		}, nil
	})

	result, err := f.orchestrator.Run(ctx, runRequest(chain("llm"), "x"))
	require.NoError(t, err)

	assert.JSONEq(t, `{"status":"success","data":"d","usage":{"total_tokens":7}}`, result.Output)
	assert.Equal(t, "d", result.Data)

	execution, err := f.persistence.Executions().GetByID(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"status": models.StatusSuccess,
		"data":   "d",
		"usage":  map[string]any{"total_tokens": float64(7)},
	}, execution.Output)
}

type contextNode struct {
	fn func(ctx context.Context, execCtx *models.ExecutionContext) (models.Result, error)
}

func (n *contextNode) Execute(ctx context.Context, _ any, execCtx *models.ExecutionContext) (models.Result, error) {
	return n.fn(ctx, execCtx)
}

type contextFactory struct {
	stubFactory
	node *contextNode
}

func (f *contextFactory) Create(context.Context, string, map[string]any) (protocol.Node, error) {
	return f.node, nil
}

func TestRun_TimedOutNodeDoesNotRaceLaterHops(t *testing.T) {
	f := newFixture(t)
	f.register("upper", upper)

	stop := make(chan struct{})
	finished := make(chan struct{})
	f.registry.RegisterNode(&contextFactory{
		stubFactory: stubFactory{id: "runaway"},
		node: &contextNode{fn: func(_ context.Context, execCtx *models.ExecutionContext) (models.Result, error) {
			defer close(finished)

			for {
				select {
				case <-stop:
					return nil, nil
				default:
				}

				for range execCtx.NodeOutputs {
				}
			}
		}},
	})

	graph := chain("runaway", "upper", "upper", "upper")
	graph.Nodes[1].Config = map[string]any{"timeout": 0.01, "continue_on_fail": true}

	result, err := f.orchestrator.Run(context.Background(), runRequest(graph, "x"))
	require.NoError(t, err)

	close(stop)
	<-finished

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, 5, result.Hops)
}
