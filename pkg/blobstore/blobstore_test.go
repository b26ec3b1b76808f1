package blobstore_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/dukex/flowrun/pkg/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeS3 serves path-style object requests for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/bucket/")

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func stores(t *testing.T) map[string]blobstore.Store {
	t.Helper()

	server := httptest.NewServer(&fakeS3{objects: map[string][]byte{}})
	t.Cleanup(server.Close)

	s3Store, err := blobstore.NewS3Store(context.Background(), blobstore.S3Config{
		Bucket:    "bucket",
		Region:    "us-east-1",
		Endpoint:  server.URL,
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)

	return map[string]blobstore.Store{
		"file": blobstore.NewFileStore("file://" + t.TempDir()),
		"s3":   s3Store,
	}
}

func TestStores_PutGetDelete(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "executions/e1/n1.json", []byte(`{"a":1}`)))

			data, err := store.Get(ctx, "executions/e1/n1.json")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(data))

			require.NoError(t, store.Delete(ctx, "executions/e1/n1.json"))

			_, err = store.Get(ctx, "executions/e1/n1.json")
			require.ErrorIs(t, err, blobstore.ErrBlobNotFound)
		})
	}
}

func TestFileStore_RejectsEmptyKey(t *testing.T) {
	store := blobstore.NewFileStore(t.TempDir())

	require.Error(t, store.Put(context.Background(), "", []byte("x")))
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := blobstore.NewS3Store(context.Background(), blobstore.S3Config{})
	require.Error(t, err)
}

func TestExternalizer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ext := blobstore.NewExternalizer(blobstore.NewFileStore(t.TempDir()), 32, "executions", logger)

	small, err := ext.Externalize(ctx, "e1", "n1", "short")
	require.NoError(t, err)
	assert.Equal(t, "short", small)

	large := map[string]any{"text": strings.Repeat("x", 100)}

	ref, err := ext.Externalize(ctx, "e1", "n1", large)
	require.NoError(t, err)

	key, ok := blobstore.RefOf(ref)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(key, "executions/e1/n1-"))
	assert.Equal(t, 111, ref.(map[string]any)[blobstore.SizeKey])

	again, err := ext.Externalize(ctx, "e1", "n1", ref)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	resolved, err := ext.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, large, resolved)

	plain, err := ext.Resolve(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", plain)
}

func TestExternalizer_Disabled(t *testing.T) {
	ctx := context.Background()
	ext := blobstore.NewExternalizer(nil, 0, "", logger)

	value := map[string]any{"text": strings.Repeat("x", 1000)}

	got, err := ext.Externalize(ctx, "e1", "n1", value)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	_, err = ext.Resolve(ctx, map[string]any{blobstore.RefKey: "executions/e1/n1.json"})
	require.Error(t, err)
}
