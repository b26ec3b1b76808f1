package analytics

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	nodeKeyPrefix     = "analytics:node:"
	workflowKeyPrefix = "analytics:workflow:"
)

// NodeStats are the running totals of a node type.
type NodeStats struct {
	NodeType        string  `json:"node_type"`
	Total           int64   `json:"total"`
	Success         int64   `json:"success"`
	Errors          int64   `json:"errors"`
	CacheHits       int64   `json:"cache_hits"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	TotalDurationMs int64   `json:"total_duration_ms"`
}

// WorkflowStats are the running totals of a workflow.
type WorkflowStats struct {
	WorkflowID      string `json:"workflow_id"`
	Total           int64  `json:"total"`
	Completed       int64  `json:"completed"`
	Failed          int64  `json:"failed"`
	TotalDurationMs int64  `json:"total_duration_ms"`
}

// RedisTracker keeps counters in one hash per node type and per workflow.
type RedisTracker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisTracker(client redis.UniversalClient, logger *slog.Logger) *RedisTracker {
	return &RedisTracker{client: client, logger: logger}
}

func (t *RedisTracker) TrackNode(ctx context.Context, event NodeEvent) {
	key := nodeKeyPrefix + event.NodeType

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "total", 1)
		pipe.HIncrBy(ctx, key, "status:"+event.Status, 1)

		if event.Cached {
			pipe.HIncrBy(ctx, key, "cache_hits", 1)
		} else {
			pipe.HIncrBy(ctx, key, "duration_ms", event.Duration.Milliseconds())
			pipe.HIncrBy(ctx, key, "timed", 1)
		}

		return nil
	})
	if err != nil {
		t.logger.WarnContext(ctx, "Failed to track node analytics", "node_type", event.NodeType, "error", err)
	}
}

func (t *RedisTracker) TrackWorkflow(ctx context.Context, event WorkflowEvent) {
	if event.WorkflowID == "" {
		return
	}

	key := workflowKeyPrefix + event.WorkflowID

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "total", 1)
		pipe.HIncrBy(ctx, key, "status:"+event.Status, 1)
		pipe.HIncrBy(ctx, key, "duration_ms", event.Duration.Milliseconds())

		return nil
	})
	if err != nil {
		t.logger.WarnContext(ctx, "Failed to track workflow analytics", "workflow_id", event.WorkflowID, "error", err)
	}
}

func (t *RedisTracker) NodeStats(ctx context.Context, nodeType string) (NodeStats, error) {
	values, err := t.client.HGetAll(ctx, nodeKeyPrefix+nodeType).Result()
	if err != nil {
		return NodeStats{}, err
	}

	stats := NodeStats{
		NodeType:        nodeType,
		Total:           parseInt(values["total"]),
		Success:         parseInt(values["status:success"]),
		Errors:          parseInt(values["status:error"]),
		CacheHits:       parseInt(values["cache_hits"]),
		TotalDurationMs: parseInt(values["duration_ms"]),
	}

	if timed := parseInt(values["timed"]); timed > 0 {
		stats.AvgDurationMs = float64(stats.TotalDurationMs) / float64(timed)
	}

	return stats, nil
}

func (t *RedisTracker) WorkflowStats(ctx context.Context, workflowID string) (WorkflowStats, error) {
	values, err := t.client.HGetAll(ctx, workflowKeyPrefix+workflowID).Result()
	if err != nil {
		return WorkflowStats{}, err
	}

	return WorkflowStats{
		WorkflowID:      workflowID,
		Total:           parseInt(values["total"]),
		Completed:       parseInt(values["status:completed"]),
		Failed:          parseInt(values["status:failed"]),
		TotalDurationMs: parseInt(values["duration_ms"]),
	}, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)

	return n
}
