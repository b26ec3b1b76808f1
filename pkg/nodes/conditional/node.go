// Package conditional provides conditional branching node implementation for workflow graph execution.
package conditional

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

// Output handles.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// ConditionalNode evaluates a condition and exposes the input under the
// "true" or "false" key so the matching edge handle is selected.
type ConditionalNode struct {
	id        string
	condition string
}

// NewConditionalNode creates a new conditional branching node.
func NewConditionalNode(id string, config map[string]any) (*ConditionalNode, error) {
	condition, ok := config["condition"].(string)
	if !ok {
		return nil, errors.New("missing required field 'condition'")
	}

	return &ConditionalNode{
		id:        id,
		condition: condition,
	}, nil
}

func (n *ConditionalNode) Execute(_ context.Context, input any, execCtx *models.ExecutionContext) (models.Result, error) {
	value, err := template.RenderWithContext(n.condition, input, execCtx)
	if err != nil {
		return models.ErrorResult(models.ErrorTypeLogical, fmt.Sprintf("condition evaluation failed: %v", err)), nil
	}

	handle := HandleFalse
	if evaluateCondition(value) {
		handle = HandleTrue
	}

	return models.Result{
		"status":           models.StatusSuccess,
		"condition_result": handle == HandleTrue,
		handle:             input,
	}, nil
}

// evaluateCondition converts various types to boolean.
func evaluateCondition(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		// Non-empty strings are truthy
		return v != "" && v != "<no value>"
	case int, int64, int32:
		return v != 0
	case float64:
		return v != 0.0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}
