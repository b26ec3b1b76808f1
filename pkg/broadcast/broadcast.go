// Package broadcast delivers run progress events to observers.
package broadcast

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/protocol"
)

// Multi fans an event out to several broadcasters.
type Multi []protocol.Broadcaster

func (m Multi) Broadcast(ctx context.Context, event protocol.BroadcastEvent) {
	for _, b := range m {
		b.Broadcast(ctx, event)
	}
}

// Noop drops every event.
type Noop struct{}

func (Noop) Broadcast(context.Context, protocol.BroadcastEvent) {}

// EventBusBroadcaster publishes events as execution updates on the event bus.
type EventBusBroadcaster struct {
	bus    eventbus.EventPublisher
	logger *slog.Logger
}

func NewEventBusBroadcaster(bus eventbus.EventPublisher, logger *slog.Logger) *EventBusBroadcaster {
	return &EventBusBroadcaster{bus: bus, logger: logger}
}

func (b *EventBusBroadcaster) Broadcast(ctx context.Context, event protocol.BroadcastEvent) {
	update := events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: event.ExecutionID,
		UpdateType:  event.Type,
		NodeID:      event.NodeID,
		Payload:     event.Payload,
	}
	if !event.Timestamp.IsZero() {
		update.Timestamp = event.Timestamp
	}

	if err := b.bus.Publish(context.WithoutCancel(ctx), event.ExecutionID, update); err != nil {
		b.logger.WarnContext(ctx, "Failed to publish execution update",
			"execution_id", event.ExecutionID, "type", event.Type, "error", err)
	}
}
