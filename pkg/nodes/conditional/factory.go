package conditional

import (
	"context"

	"github.com/dukex/flowrun/pkg/protocol"
)

// ConditionalNodeFactory creates ConditionalNode instances.
type ConditionalNodeFactory struct{}

func (f *ConditionalNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewConditionalNode(id, config)
}

func (f *ConditionalNodeFactory) ID() string {
	return "conditional"
}

func (f *ConditionalNodeFactory) Name() string {
	return "Conditional"
}

func (f *ConditionalNodeFactory) Description() string {
	return "Routes the input through the 'true' or 'false' handle based on a templated condition"
}

func (f *ConditionalNodeFactory) OutputHandles() []string {
	return []string{HandleTrue, HandleFalse, "success", "error"}
}

func (f *ConditionalNodeFactory) Cacheable(map[string]any) bool {
	return true
}

func (f *ConditionalNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Go template evaluated to a boolean",
				"examples": []string{
					"{{ gt .input.amount 100.0 }}",
					"{{ eq .vars.env \"production\" }}",
				},
			},
		},
		"required": []string{"condition"},
	}
}

// NewConditionalNodeFactory creates a new factory instance.
func NewConditionalNodeFactory() protocol.NodeFactory {
	return &ConditionalNodeFactory{}
}
