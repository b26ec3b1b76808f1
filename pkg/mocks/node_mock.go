package mocks

import (
	"context"
	"sync"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockNode is a mock implementation of protocol.Node interface.
type MockNode struct {
	mock.Mock
}

func (m *MockNode) Execute(ctx context.Context, input any, execCtx *models.ExecutionContext) (models.Result, error) {
	args := m.Called(ctx, input, execCtx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.Result), args.Error(1)
}

// MockNodeFactory is a mock implementation of protocol.NodeFactory interface.
type MockNodeFactory struct {
	mock.Mock
}

func (m *MockNodeFactory) Create(ctx context.Context, id string, config map[string]any) (protocol.Node, error) {
	args := m.Called(ctx, id, config)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(protocol.Node), args.Error(1)
}

func (m *MockNodeFactory) ID() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockNodeFactory) Name() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockNodeFactory) Description() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockNodeFactory) Schema() map[string]any {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(map[string]any)
}

// RecordingBroadcaster is a protocol.Broadcaster that keeps every event.
type RecordingBroadcaster struct {
	mu     sync.Mutex
	events []protocol.BroadcastEvent
}

func (b *RecordingBroadcaster) Broadcast(_ context.Context, event protocol.BroadcastEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
}

// Events returns a copy of the recorded events.
func (b *RecordingBroadcaster) Events() []protocol.BroadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]protocol.BroadcastEvent(nil), b.events...)
}

// Types returns the recorded event types in order.
func (b *RecordingBroadcaster) Types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]string, 0, len(b.events))
	for _, event := range b.events {
		types = append(types, event.Type)
	}

	return types
}
