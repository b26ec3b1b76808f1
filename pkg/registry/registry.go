// Package registry maps node type names to the factories that build them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/flowrun/pkg/protocol"
)

// ErrNodeTypeNotRegistered is returned when a graph references an unknown node type.
var ErrNodeTypeNotRegistered = errors.New("node type not registered")

type Registry struct {
	logger      *slog.Logger
	credentials protocol.CredentialStore

	mu            sync.RWMutex
	nodeFactories map[string]protocol.NodeFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:        log,
		nodeFactories: make(map[string]protocol.NodeFactory),
	}
}

// SetCredentialStore sets the store injected into credential-aware nodes.
func (r *Registry) SetCredentialStore(store protocol.CredentialStore) {
	r.credentials = store
}

func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodeFactories[factory.ID()] = factory
	r.logger.Debug("Registered node type", "type", factory.ID())
}

// Factory returns the factory of nodeType.
func (r *Registry) Factory(nodeType string) (protocol.NodeFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.nodeFactories[nodeType]
	if !ok {
		return nil, fmt.Errorf("node type '%s': %w", nodeType, ErrNodeTypeNotRegistered)
	}

	return factory, nil
}

// CreateNode builds a node instance of nodeType.
func (r *Registry) CreateNode(ctx context.Context, nodeType, id string, config map[string]any) (protocol.Node, error) {
	factory, err := r.Factory(nodeType)
	if err != nil {
		return nil, err
	}

	return r.Create(ctx, factory, id, config)
}

// Create builds a node from an already resolved factory.
func (r *Registry) Create(ctx context.Context, factory protocol.NodeFactory, id string, config map[string]any) (protocol.Node, error) {
	node, err := factory.Create(ctx, id, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create node '%s' of type '%s': %w", id, factory.ID(), err)
	}

	if aware, ok := node.(protocol.CredentialAware); ok && r.credentials != nil {
		aware.SetCredentialStore(r.credentials)
	}

	return node, nil
}

// GetAvailableNodes returns the registered factories sorted by type.
func (r *Registry) GetAvailableNodes() []protocol.NodeFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.NodeFactory, 0, len(r.nodeFactories))
	for _, factory := range r.nodeFactories {
		factories = append(factories, factory)
	}

	sort.Slice(factories, func(i, j int) bool {
		return factories[i].ID() < factories[j].ID()
	})

	return factories
}

// IsCacheable reports whether nodes of nodeType with config may be memoized.
func (r *Registry) IsCacheable(nodeType string, config map[string]any) bool {
	if v, ok := config["cacheable"].(bool); ok && !v {
		return false
	}

	factory, err := r.Factory(nodeType)
	if err != nil {
		return false
	}

	cacheable, ok := factory.(protocol.Cacheable)

	return ok && cacheable.Cacheable(config)
}

// OutputHandles returns the handles declared by nodeType, or nil when it
// does not restrict them.
func (r *Registry) OutputHandles(nodeType string) []string {
	factory, err := r.Factory(nodeType)
	if err != nil {
		return nil
	}

	declarer, ok := factory.(protocol.HandleDeclarer)
	if !ok {
		return nil
	}

	return declarer.OutputHandles()
}
