// Package transform provides data transformation node implementation for workflow graph execution.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

// TransformNode renders an expression over the hop input.
type TransformNode struct {
	id         string
	expression string
}

// NewTransformNode creates a new data transformation node.
func NewTransformNode(id string, config map[string]any) (*TransformNode, error) {
	expression, ok := config["expression"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression'")
	}

	return &TransformNode{
		id:         id,
		expression: expression,
	}, nil
}

// Execute performs data transformation using Go templates.
func (n *TransformNode) Execute(_ context.Context, input any, execCtx *models.ExecutionContext) (models.Result, error) {
	result, err := template.RenderWithContext(n.expression, input, execCtx)
	if err != nil {
		return models.ErrorResult(models.ErrorTypeLogical, fmt.Sprintf("transformation failed: %v", err)), nil
	}

	return models.SuccessResult(result), nil
}
