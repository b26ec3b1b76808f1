package models

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowGraph_EntryNode(t *testing.T) {
	t.Run("prefers chat input", func(t *testing.T) {
		graph := WorkflowGraph{Nodes: []NodeSpec{
			{ID: "a", Type: "log"},
			{ID: "in", Type: NodeTypeChatInput},
		}}

		entry, ok := graph.EntryNode()
		require.True(t, ok)
		assert.Equal(t, "in", entry.ID)
	})

	t.Run("falls back to first node", func(t *testing.T) {
		graph := WorkflowGraph{Nodes: []NodeSpec{{ID: "a", Type: "log"}, {ID: "b", Type: "log"}}}

		entry, ok := graph.EntryNode()
		require.True(t, ok)
		assert.Equal(t, "a", entry.ID)
	})

	t.Run("empty graph", func(t *testing.T) {
		_, ok := WorkflowGraph{}.EntryNode()
		assert.False(t, ok)
	})
}

func TestWorkflowGraph_Edges(t *testing.T) {
	graph := WorkflowGraph{
		Nodes: []NodeSpec{{ID: "a", Type: "x"}, {ID: "b", Type: "x"}, {ID: "c", Type: "x"}},
		Edges: []Edge{
			{Source: "a", Target: "b", SourceHandle: "success"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "c"},
		},
	}

	assert.Len(t, graph.OutgoingEdges("a"), 2)
	assert.Equal(t, "b", graph.OutgoingEdges("a")[0].Target)
	assert.Len(t, graph.IncomingEdges("c"), 2)
	assert.Empty(t, graph.OutgoingEdges("c"))
}

func TestWorkflowGraph_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(WorkflowGraph{})
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrors)
	assert.Equal(t, "Nodes", validationErrors[0].Field())

	err = validate.Struct(WorkflowGraph{Nodes: []NodeSpec{{ID: "a"}}})
	require.Error(t, err)

	err = validate.Struct(WorkflowGraph{Nodes: []NodeSpec{{ID: "a", Type: "log"}}})
	assert.NoError(t, err)
}

func TestResult_Helpers(t *testing.T) {
	ok := SuccessResult(map[string]any{"v": 1})
	assert.Equal(t, StatusSuccess, ok.Status())
	assert.False(t, ok.HasError())

	failed := ErrorResult(ErrorTypeTimeout, "took too long")
	assert.True(t, failed.HasError())
	assert.Equal(t, "took too long", failed.ErrorMessage())
	assert.Equal(t, ErrorTypeTimeout, failed.ErrorType())

	assert.False(t, Result{"error": ""}.HasError())
	assert.False(t, Result{"error": nil}.HasError())
	assert.Equal(t, `{"code":42}`, Result{"error": map[string]any{"code": 42}}.ErrorMessage())
}

func TestStringifyAndTruncate(t *testing.T) {
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 10))
}

func TestLimitsFor(t *testing.T) {
	assert.Equal(t, int64(2), LimitsFor(TierFree, nil).MaxConcurrentJobs)
	assert.Equal(t, int64(10), LimitsFor(TierPro, nil).MaxConcurrentJobs)
	assert.Equal(t, int64(Unlimited), LimitsFor(TierEnterprise, nil).MaxConcurrentJobs)
	assert.Equal(t, int64(2), LimitsFor("platinum", nil).MaxConcurrentJobs)

	custom := LimitsFor(TierFree, map[string]int64{LimitMaxConcurrentJobs: 7})
	assert.Equal(t, int64(7), custom.MaxConcurrentJobs)
	assert.Equal(t, int64(1000), custom.MaxTasksPerMonth)
}

func TestExecutionContext_Logs(t *testing.T) {
	execCtx := NewExecutionContext("e", "w", "u", "ws", nil, map[string]any{"a": 1})
	execCtx.Logf("one")
	execCtx.Logf("two")

	assert.Equal(t, []string{"one", "two"}, execCtx.DrainLogs())
	assert.Empty(t, execCtx.DrainLogs())
	assert.Equal(t, 1, execCtx.NodeOutputs["a"])
	assert.NotNil(t, execCtx.Variables)
}
