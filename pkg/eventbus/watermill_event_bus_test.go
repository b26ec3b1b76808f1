package eventbus_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrun/pkg/channels/gochannel"
	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoutesEventsToHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)

	runs := make(chan *events.RunRequested, 1)
	updates := make(chan *events.ExecutionUpdate, 1)

	require.NoError(t, bus.Handle(events.RunRequestedEvent, func(_ context.Context, event any) error {
		runs <- event.(*events.RunRequested)

		return nil
	}))
	require.NoError(t, bus.Handle(events.ExecutionUpdateEvent, func(_ context.Context, event any) error {
		updates <- event.(*events.ExecutionUpdate)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	run := events.RunRequested{
		BaseEvent: events.NewBaseEvent(events.RunRequestedEvent),
		JobID:     "job-1",
		Graph:     models.WorkflowGraph{Nodes: []models.NodeSpec{{ID: "in", Type: models.NodeTypeChatInput}}},
		Message:   "hello",
		UserID:    "u1",
	}
	require.NoError(t, bus.Publish(ctx, run.JobID, run))

	update := events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: "exec-1",
		UpdateType:  "node_start",
		NodeID:      "in",
	}
	require.NoError(t, bus.Publish(ctx, update.ExecutionID, update))

	select {
	case got := <-runs:
		assert.Equal(t, "job-1", got.JobID)
		assert.Equal(t, "hello", got.Message)
		require.Len(t, got.Graph.Nodes, 1)
		assert.Equal(t, "in", got.Graph.Nodes[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("run request was not delivered")
	}

	select {
	case got := <-updates:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "node_start", got.UpdateType)
	case <-time.After(2 * time.Second):
		t.Fatal("execution update was not delivered")
	}
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, events.JobsTopic, events.TopicFor(events.RunRequestedEvent))
	assert.Equal(t, events.UpdatesTopic, events.TopicFor(events.ExecutionUpdateEvent))
}
