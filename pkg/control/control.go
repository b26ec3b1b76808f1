// Package control relays commands for a running execution (cancel,
// breakpoints, step) to the process that owns it.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel every process listens on.
const Channel = "flowrun_control"

type Action string

const (
	ActionCancel          Action = "cancel"
	ActionSetBreakpoints  Action = "set_breakpoints"
	ActionClearBreakpoint Action = "clear_breakpoint"
	ActionClearAll        Action = "clear_all"
	ActionStep            Action = "step"
)

// Command targets one execution.
type Command struct {
	ExecutionID string   `json:"execution_id"`
	Action      Action   `json:"action"`
	NodeIDs     []string `json:"node_ids,omitempty"`
	Origin      string   `json:"origin,omitempty"`
}

// Publisher sends a command to the other processes.
type Publisher interface {
	Publish(ctx context.Context, cmd Command) error
}

// Handler applies a command received from another process.
type Handler func(ctx context.Context, cmd Command)

// RedisRelay fans commands out over Redis pub/sub. Commands published by
// the relay itself are not handed back to its handler.
type RedisRelay struct {
	client redis.UniversalClient
	origin string
	logger *slog.Logger
}

func NewRedisRelay(client redis.UniversalClient, origin string, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, origin: origin, logger: logger.With("module", "control", "origin", origin)}
}

func (r *RedisRelay) Publish(ctx context.Context, cmd Command) error {
	cmd.Origin = r.origin

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode control command: %w", err)
	}

	if err := r.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish control command: %w", err)
	}

	r.logger.DebugContext(ctx, "Control command published", "execution_id", cmd.ExecutionID, "action", cmd.Action)

	return nil
}

// Listen subscribes to the control channel and applies commands with
// handler until ctx is done. It returns once the subscription is active.
func (r *RedisRelay) Listen(ctx context.Context, handler Handler) error {
	sub := r.client.Subscribe(ctx, Channel)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()

		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}

	go func() {
		defer sub.Close()

		messages := sub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var cmd Command
				if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
					r.logger.WarnContext(ctx, "Dropping malformed control command", "error", err)

					continue
				}

				if cmd.Origin == r.origin {
					continue
				}

				handler(ctx, cmd)
			}
		}
	}()

	return nil
}
