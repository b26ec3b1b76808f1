package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	metrics := prometheus.NewRegistry()

	engine, err := cmd.NewEngine(context.Background(), cmd.EngineOptions{
		DatabaseURL:      t.TempDir(),
		EventBusProvider: "gochannel",
		ServiceName:      serviceName,
		Metrics:          metrics,
	}, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	return NewAPI(slog.Default(), engine, metrics).App()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "flowrun API", readBody(t, resp))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "OK", readBody(t, resp))
		})
	}
}

func TestAPI_RunThenMetrics(t *testing.T) {
	app := setupTestApp(t)

	body, err := json.Marshal(map[string]any{
		"graph": models.WorkflowGraph{
			Nodes: []models.NodeSpec{
				{ID: "input", Type: models.NodeTypeChatInput},
				{ID: "shout", Type: "transform", Config: map[string]any{"expression": "{{ .input }}!"}},
			},
			Edges: []models.Edge{{Source: "input", Target: "shout"}},
		},
		"message": "hi",
		"user_id": "u1",
		"tier":    models.TierPro,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"data":"hi!"`)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)

	metrics := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, metrics, "flowrun_workflows_total")
	assert.Contains(t, metrics, "flowrun_cache_hit_rate_percent")
}
