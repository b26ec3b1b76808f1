package httprequest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCredentials map[string]map[string]any

func (s staticCredentials) GetCredential(_ context.Context, id string) (map[string]any, error) {
	cred, ok := s[id]
	if !ok {
		return nil, errors.New("credential not found")
	}

	return cred, nil
}

func newExecCtx() *models.ExecutionContext {
	return models.NewExecutionContext("exec", "wf", "u", "ws", map[string]any{"user": "42"}, nil)
}

func TestHTTPRequestNode_Execute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "success"}`))
	}))
	defer server.Close()

	node, err := NewHTTPRequestNode("fetch", map[string]any{"url": server.URL + "/users/{{.vars.user}}"})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), nil, newExecCtx())
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, result.Status())

	data, ok := result["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, data["status_code"])
	assert.Equal(t, map[string]any{"message": "success"}, data["json"])
	assert.Equal(t, "application/json", data["headers"].(map[string]any)["Content-Type"])
}

func TestHTTPRequestNode_Execute_PostBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"ada"}`, string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	node, err := NewHTTPRequestNode("create", map[string]any{
		"url":    server.URL,
		"method": "post",
		"body":   `{"name": "{{.input.name}}"}`,
	})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), map[string]any{"name": "ada"}, newExecCtx())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status())
}

func TestHTTPRequestNode_Execute_HTTPErrorIsLogical(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer server.Close()

	node, err := NewHTTPRequestNode("fetch", map[string]any{"url": server.URL})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), nil, newExecCtx())
	require.NoError(t, err)
	assert.True(t, result.HasError())
	assert.Equal(t, http.StatusNotFound, result["status_code"])
	assert.Contains(t, result.ErrorMessage(), "HTTP 404")
}

func TestHTTPRequestNode_Execute_TransportErrorIsRaised(t *testing.T) {
	node, err := NewHTTPRequestNode("fetch", map[string]any{"url": "http://127.0.0.1:1/unreachable"})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), nil, newExecCtx())
	assert.Error(t, err)
}

func TestHTTPRequestNode_Execute_Credentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	node, err := NewHTTPRequestNode("fetch", map[string]any{"url": server.URL, "credentials_id": "cred-1"})
	require.NoError(t, err)

	node.SetCredentialStore(staticCredentials{"cred-1": {"token": "secret"}})

	result, err := node.Execute(context.Background(), nil, newExecCtx())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status())
}

func TestHTTPRequestNodeFactory_Cacheable(t *testing.T) {
	factory := &HTTPRequestNodeFactory{}

	assert.True(t, factory.Cacheable(map[string]any{}))
	assert.True(t, factory.Cacheable(map[string]any{"method": "get"}))
	assert.False(t, factory.Cacheable(map[string]any{"method": "POST"}))
}

func TestNewHTTPRequestNode_MissingURL(t *testing.T) {
	_, err := NewHTTPRequestNode("fetch", map[string]any{})
	assert.Error(t, err)
}
