package transform

import (
	"context"
	"testing"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformNode_Execute(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		input      any
		expected   any
	}{
		{
			name:       "object construction",
			expression: `{"full_name": "{{.input.first}} {{.input.last}}"}`,
			input:      map[string]any{"first": "Ada", "last": "Lovelace"},
			expected:   map[string]any{"full_name": "Ada Lovelace"},
		},
		{
			name:       "number",
			expression: "{{ len .input }}",
			input:      []any{1, 2, 3},
			expected:   3.0,
		},
		{
			name:       "variables",
			expression: "{{ .vars.greeting }}, {{ .input }}",
			input:      "world",
			expected:   "hello, world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := NewTransformNode("t", map[string]any{"expression": tt.expression})
			require.NoError(t, err)

			execCtx := models.NewExecutionContext("e", "w", "u", "ws", map[string]any{"greeting": "hello"}, nil)

			result, err := node.Execute(context.Background(), tt.input, execCtx)
			require.NoError(t, err)
			assert.Equal(t, models.StatusSuccess, result.Status())
			assert.Equal(t, tt.expected, result["data"])
		})
	}
}

func TestTransformNode_InvalidExpression(t *testing.T) {
	node, err := NewTransformNode("t", map[string]any{"expression": "{{ .input"})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), nil, models.NewExecutionContext("e", "w", "u", "ws", nil, nil))
	require.NoError(t, err)
	assert.True(t, result.HasError())
	assert.Equal(t, models.ErrorTypeLogical, result.ErrorType())
}

func TestTransformNodeFactory(t *testing.T) {
	factory := NewTransformNodeFactory()
	assert.Equal(t, "transform", factory.ID())

	_, err := factory.Create(context.Background(), "t", map[string]any{})
	require.Error(t, err)
}
