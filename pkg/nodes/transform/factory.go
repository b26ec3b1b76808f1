package transform

import (
	"context"

	"github.com/dukex/flowrun/pkg/protocol"
)

// TransformNodeFactory creates TransformNode instances.
type TransformNodeFactory struct{}

func (f *TransformNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewTransformNode(id, config)
}

func (f *TransformNodeFactory) ID() string {
	return "transform"
}

func (f *TransformNodeFactory) Name() string {
	return "Transform"
}

func (f *TransformNodeFactory) Description() string {
	return "Transforms the hop input using Go template expressions"
}

// Cacheable reports that transforms are pure functions of input and config.
func (f *TransformNodeFactory) Cacheable(map[string]any) bool {
	return true
}

func (f *TransformNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Go template rendered with .input, .vars and .node_outputs. JSON output is decoded.",
				"examples": []string{
					`{"name": "{{.input.user.name}}"}`,
					"{{ len .input.items }}",
				},
			},
		},
		"required": []string{"expression"},
	}
}

// NewTransformNodeFactory creates a new factory instance.
func NewTransformNodeFactory() protocol.NodeFactory {
	return &TransformNodeFactory{}
}
