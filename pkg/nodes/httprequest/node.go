// Package httprequest provides HTTP request node implementation for workflow graph execution.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/template"
)

// HTTPRequestNode performs one HTTP request per execution. Retries and
// timeouts are applied by the caller through the node config.
type HTTPRequestNode struct {
	protocol.Credentials

	id     string
	config HTTPRequestConfig
	client *http.Client
}

// HTTPRequestConfig defines the configuration for HTTP request nodes.
type HTTPRequestConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewHTTPRequestNode creates a new HTTP request node.
func NewHTTPRequestNode(id string, config map[string]any) (*HTTPRequestNode, error) {
	httpConfig := HTTPRequestConfig{
		Method:  http.MethodGet,
		Headers: make(map[string]string),
	}

	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, errors.New("missing required field 'url'")
	}

	httpConfig.URL = url

	if method, ok := config["method"].(string); ok {
		httpConfig.Method = strings.ToUpper(method)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if strVal, ok := v.(string); ok {
				httpConfig.Headers[k] = strVal
			}
		}
	}

	if body, ok := config["body"].(string); ok {
		httpConfig.Body = body
	}

	return &HTTPRequestNode{
		Credentials: protocol.NewCredentials(config),
		id:          id,
		config:      httpConfig,
		client:      &http.Client{},
	}, nil
}

// Execute performs the request. 4xx and 5xx responses are logical errors;
// transport failures are returned as errors so they are retried with backoff.
func (n *HTTPRequestNode) Execute(ctx context.Context, input any, execCtx *models.ExecutionContext) (models.Result, error) {
	renderedURL, err := template.RenderWithContext(n.config.URL, input, execCtx)
	if err != nil {
		return models.ErrorResult(models.ErrorTypeLogical, fmt.Sprintf("failed to render URL template: %v", err)), nil
	}

	urlStr, ok := renderedURL.(string)
	if !ok {
		return models.ErrorResult(models.ErrorTypeLogical, "URL template must render to string"), nil
	}

	var body string

	if n.config.Body != "" {
		rendered, err := template.RenderWithContext(n.config.Body, input, execCtx)
		if err != nil {
			return models.ErrorResult(models.ErrorTypeLogical, fmt.Sprintf("failed to render body template: %v", err)), nil
		}

		if s, isString := rendered.(string); isString {
			body = s
		} else {
			body = models.Stringify(rendered)
		}
	}

	headers := make(map[string]string, len(n.config.Headers)+1)

	for key, value := range n.config.Headers {
		rendered, err := template.RenderWithContext(value, input, execCtx)
		if s, isString := rendered.(string); err == nil && isString {
			headers[key] = s
		} else {
			headers[key] = value
		}
	}

	credential, err := n.GetCredential(ctx, "")
	if err != nil {
		return models.ErrorResult(models.ErrorTypeLogical, fmt.Sprintf("failed to load credential: %v", err)), nil
	}

	if token, ok := credential["token"].(string); ok && headers["Authorization"] == "" {
		headers["Authorization"] = "Bearer " + token
	}

	data, err := n.performRequest(ctx, urlStr, body, headers)
	if err != nil {
		httpErr := &HTTPError{}
		if errors.As(err, &httpErr) {
			result := models.ErrorResult(models.ErrorTypeLogical, err.Error())
			result["status_code"] = httpErr.StatusCode

			return result, nil
		}

		return nil, err
	}

	return models.SuccessResult(data), nil
}

func (n *HTTPRequestNode) performRequest(ctx context.Context, url, body string, headers map[string]string) (map[string]any, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, n.config.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}

func flattenHeaders(header http.Header) map[string]any {
	flat := make(map[string]any, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}
