// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
)

// Node is the capability a node type provides.
// Logical failures are returned as a Result carrying "error", not as a Go error.
// A returned error or a panic is treated as an unexpected exception.
type Node interface {
	Execute(ctx context.Context, input any, execCtx *models.ExecutionContext) (models.Result, error)
}

// NodeFactory creates node instances and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a new node instance with the given configuration
	Create(ctx context.Context, id string, config map[string]any) (Node, error)

	// ID returns the unique identifier for this node type
	ID() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}

// Cacheable is implemented by factories whose nodes are idempotent reads or
// transforms. Factories that do not implement it are never cached.
type Cacheable interface {
	Cacheable(config map[string]any) bool
}

// HandleDeclarer is implemented by factories whose nodes route through a
// fixed set of output handles.
type HandleDeclarer interface {
	OutputHandles() []string
}

// CredentialStore resolves stored credentials by id.
type CredentialStore interface {
	GetCredential(ctx context.Context, credentialID string) (map[string]any, error)
}

// CredentialAware nodes receive the credential store after creation.
type CredentialAware interface {
	SetCredentialStore(store CredentialStore)
}

// Credentials is embedded by nodes that read credentials from their config.
type Credentials struct {
	store  CredentialStore
	config map[string]any
}

// NewCredentials binds config to the credential lookup.
func NewCredentials(config map[string]any) Credentials {
	return Credentials{config: config}
}

func (c *Credentials) SetCredentialStore(store CredentialStore) {
	c.store = store
}

// GetCredential resolves the credential whose id is stored under key in the
// node config ("credentials_id" when key is empty). It returns nil when the
// node has no credential configured.
func (c *Credentials) GetCredential(ctx context.Context, key string) (map[string]any, error) {
	if key == "" {
		key = "credentials_id"
	}

	id, _ := c.config[key].(string)
	if id == "" || c.store == nil {
		return nil, nil
	}

	return c.store.GetCredential(ctx, id)
}
