package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// Channel returns the pub/sub channel carrying the updates of executionID.
func Channel(executionID string) string {
	return "workflow_updates_" + executionID
}

// RedisBroadcaster publishes events on a per-execution Redis channel.
type RedisBroadcaster struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisBroadcaster(client redis.UniversalClient, logger *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, logger: logger}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, event protocol.BroadcastEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to encode broadcast event", "execution_id", event.ExecutionID, "error", err)

		return
	}

	if err := b.client.Publish(context.WithoutCancel(ctx), Channel(event.ExecutionID), payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "Failed to publish broadcast event",
			"execution_id", event.ExecutionID, "type", event.Type, "error", err)
	}
}

// Subscribe returns a subscription to the updates of executionID.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, executionID string) *redis.PubSub {
	return b.client.Subscribe(ctx, Channel(executionID))
}
