package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"
)

// Reference keys of an externalized value.
const (
	RefKey  = "$blob_ref"
	SizeKey = "size"
)

// Externalizer swaps values larger than a threshold for references to a Store.
type Externalizer struct {
	store     Store
	threshold int
	prefix    string
	logger    *slog.Logger
}

// NewExternalizer returns an Externalizer. A nil store or a threshold of
// zero disables externalization.
func NewExternalizer(store Store, threshold int, prefix string, logger *slog.Logger) *Externalizer {
	return &Externalizer{store: store, threshold: threshold, prefix: prefix, logger: logger}
}

// Externalize stores value when its JSON form exceeds the threshold and
// returns a reference to it. Smaller values are returned unchanged.
func (e *Externalizer) Externalize(ctx context.Context, executionID, nodeID string, value any) (any, error) {
	if e == nil || e.store == nil || e.threshold <= 0 || value == nil {
		return value, nil
	}

	if _, ok := RefOf(value); ok {
		return value, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value, nil
	}

	if len(data) <= e.threshold {
		return value, nil
	}

	key := path.Join(e.prefix, executionID, nodeID+"-"+uuid.NewString()+".json")
	if err := e.store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to externalize output of node %s: %w", nodeID, err)
	}

	e.logger.DebugContext(ctx, "Externalized large value", "execution_id", executionID, "node_id", nodeID, "key", key, "size", len(data))

	return map[string]any{RefKey: key, SizeKey: len(data)}, nil
}

// Resolve loads the content behind a reference. Other values are returned unchanged.
func (e *Externalizer) Resolve(ctx context.Context, value any) (any, error) {
	key, ok := RefOf(value)
	if !ok {
		return value, nil
	}

	if e == nil || e.store == nil {
		return nil, fmt.Errorf("cannot resolve blob %s: no blob store configured", key)
	}

	data, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var resolved any
	if err := json.Unmarshal(data, &resolved); err != nil {
		return nil, fmt.Errorf("failed to decode blob %s: %w", key, err)
	}

	return resolved, nil
}

// RefOf returns the blob key when value is a reference.
func RefOf(value any) (string, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return "", false
	}

	key, ok := m[RefKey].(string)

	return key, ok && key != ""
}
