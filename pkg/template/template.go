// Package template renders Go templates over the input and context of a hop.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

// RenderWithContext renders input with the hop input, the run variables and
// the outputs of previous nodes in scope.
func RenderWithContext(input string, hopInput any, executionCtx *models.ExecutionContext) (any, error) {
	data := map[string]any{
		"input": hopInput,
		"env":   getEnvVars(),
	}

	if executionCtx != nil {
		data["variables"] = executionCtx.Variables
		data["vars"] = executionCtx.Variables
		data["node_outputs"] = executionCtx.NodeOutputs
		data["execution"] = map[string]any{
			"id":           executionCtx.ExecutionID,
			"workflow_id":  executionCtx.WorkflowID,
			"user_id":      executionCtx.UserID,
			"workspace_id": executionCtx.WorkspaceID,
			"attempt":      executionCtx.Attempt,
		}
	}

	return Render(input, data)
}

// Render executes templateStr against data and decodes JSON, numbers and
// booleans from the rendered text.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("node").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"json": func(v any) string {
				out, err := json.Marshal(v)
				if err != nil {
					return ""
				}

				return string(out)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}
				num := make([]byte, 1)
				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
