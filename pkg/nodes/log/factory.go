package log

import (
	"context"

	"github.com/dukex/flowrun/pkg/protocol"
)

// LogNodeFactory creates LogNode instances.
type LogNodeFactory struct{}

func (f *LogNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewLogNode(id, config)
}

func (f *LogNodeFactory) ID() string {
	return "log"
}

func (f *LogNodeFactory) Name() string {
	return "Log"
}

func (f *LogNodeFactory) Description() string {
	return "Logs a templated message and passes the input through unchanged"
}

// Schema returns the JSON schema for Log node configuration.
func (f *LogNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating with the hop input, variables and node outputs.",
				"examples": []string{
					"Processing user: {{.vars.user_name}}",
					"Received {{.input}}",
				},
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
		"required": []string{"message"},
	}
}

// NewLogNodeFactory creates a new factory instance.
func NewLogNodeFactory() protocol.NodeFactory {
	return &LogNodeFactory{}
}
