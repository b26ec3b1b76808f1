package httprequest

import (
	"context"
	"net/http"
	"strings"

	"github.com/dukex/flowrun/pkg/protocol"
)

// HTTPRequestNodeFactory creates HTTPRequestNode instances.
type HTTPRequestNodeFactory struct{}

// NewHTTPRequestNodeFactory creates a new HTTP request node factory.
func NewHTTPRequestNodeFactory() protocol.NodeFactory {
	return &HTTPRequestNodeFactory{}
}

func (f *HTTPRequestNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewHTTPRequestNode(id, config)
}

func (f *HTTPRequestNodeFactory) ID() string {
	return "httprequest"
}

func (f *HTTPRequestNodeFactory) Name() string {
	return "HTTP Request"
}

func (f *HTTPRequestNodeFactory) Description() string {
	return "Performs an HTTP request and returns the status, headers and body"
}

// Cacheable limits memoization to safe methods.
func (f *HTTPRequestNodeFactory) Cacheable(config map[string]any) bool {
	method, _ := config["method"].(string)
	method = strings.ToUpper(method)

	return method == "" || method == http.MethodGet || method == http.MethodHead
}

func (f *HTTPRequestNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP URL to request. Supports templating with .input, .vars and .node_outputs",
				"examples": []string{
					"https://api.example.com/users",
					"https://{{.vars.api_host}}/users/{{.input.id}}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
				"default": "GET",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body, rendered as a template",
			},
			"credentials_id": map[string]any{
				"type":        "string",
				"description": "Credential whose 'token' is sent as a bearer token",
			},
			"timeout": map[string]any{
				"type":    "number",
				"minimum": 1,
				"maximum": 300,
			},
			"retry_count": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": 10,
			},
		},
		"required": []string{"url"},
	}
}
