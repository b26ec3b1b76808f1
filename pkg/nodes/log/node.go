// Package log provides logging node implementation for workflow graph execution.
package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogNode logs a rendered message and passes its input through.
type LogNode struct {
	id      string
	message string
	level   string
	logger  *slog.Logger
}

// NewLogNode creates a new logging node.
func NewLogNode(id string, config map[string]any) (*LogNode, error) {
	message, ok := config["message"].(string)
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	level := "info"
	if lvl, ok := config["level"].(string); ok {
		level = lvl
	}

	return &LogNode{
		id:      id,
		message: message,
		level:   level,
		logger:  slog.Default(),
	}, nil
}

func (n *LogNode) Execute(ctx context.Context, input any, execCtx *models.ExecutionContext) (models.Result, error) {
	rendered, err := template.RenderWithContext(n.message, input, execCtx)
	if err != nil {
		return models.ErrorResult(models.ErrorTypeLogical, fmt.Sprintf("failed to render log message template: %v", err)), nil
	}

	message := fmt.Sprintf("%v", rendered)

	level, ok := levels[n.level]
	if !ok {
		level = slog.LevelInfo
	}

	n.logger.Log(ctx, level, message, "node_id", n.id, "node_type", "log", "execution_id", execCtx.ExecutionID)
	execCtx.Logf(message)

	return models.Result{
		"status":  models.StatusSuccess,
		"data":    input,
		"message": message,
		"level":   n.level,
	}, nil
}
