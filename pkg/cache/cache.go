// Package cache memoizes successful node results keyed by node type, input
// and configuration.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

// KeyPrefix prefixes every cache entry.
const KeyPrefix = "cache:node:"

// Config keys that steer execution and never change the output of a node.
var controlKeys = map[string]struct{}{
	"retry_count":      {},
	"timeout":          {},
	"cacheable":        {},
	"cache_ttl":        {},
	"continue_on_fail": {},
	"breakpoint":       {},
}

// Store persists serialized entries. Patterns use glob syntax.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Stats are process-wide running totals of cache usage.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Writes        int64   `json:"writes"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
	Enabled       bool    `json:"enabled"`
}

// Cache is safe for concurrent use. Store failures are logged and treated
// as misses so a degraded cache never fails a node.
type Cache struct {
	store      Store
	enabled    bool
	defaultTTL time.Duration
	logger     *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

func New(store Store, enabled bool, defaultTTL time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		store:      store,
		enabled:    enabled,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Enabled reports whether lookups and writes are active.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Key derives the entry key of (nodeType, input, config). The hash does not
// depend on map ordering.
func Key(nodeType string, input any, config map[string]any) (string, error) {
	filtered := make(map[string]any, len(config))

	for k, v := range config {
		if _, skip := controlKeys[k]; !skip {
			filtered[k] = v
		}
	}

	// encoding/json sorts map keys, which makes the payload canonical.
	payload, err := json.Marshal(map[string]any{
		"node_type": nodeType,
		"input":     input,
		"config":    filtered,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}

	sum := sha256.Sum256(payload)

	return KeyPrefix + nodeType + ":" + hex.EncodeToString(sum[:])[:16], nil
}

// Get returns the cached result, or nil on a miss.
func (c *Cache) Get(ctx context.Context, nodeType string, input any, config map[string]any) models.Result {
	if !c.enabled {
		return nil
	}

	key, err := Key(nodeType, input, config)
	if err != nil {
		c.logger.WarnContext(ctx, "Skipping cache lookup", "node_type", nodeType, "error", err)
		c.misses.Add(1)

		return nil
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "Cache lookup failed", "node_type", nodeType, "error", err)
	}

	if err != nil || !found {
		c.misses.Add(1)

		return nil
	}

	var result models.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.WarnContext(ctx, "Discarding unreadable cache entry", "key", key, "error", err)
		c.misses.Add(1)

		return nil
	}

	c.hits.Add(1)

	return result
}

// Set stores result. A positive ttl overrides the default.
func (c *Cache) Set(ctx context.Context, nodeType string, input any, config map[string]any, result models.Result, ttl time.Duration) {
	if !c.enabled {
		return
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	key, err := Key(nodeType, input, config)
	if err != nil {
		c.logger.WarnContext(ctx, "Skipping cache write", "node_type", nodeType, "error", err)

		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		c.logger.WarnContext(ctx, "Skipping cache write", "node_type", nodeType, "error", err)

		return
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.WarnContext(ctx, "Cache write failed", "node_type", nodeType, "error", err)

		return
	}

	c.writes.Add(1)
}

// Invalidate removes every entry matching pattern, or every entry when
// pattern is empty. It returns the number of removed entries.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = KeyPrefix + "*"
	}

	count, err := c.store.DeletePattern(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %q: %w", pattern, err)
	}

	c.logger.InfoContext(ctx, "Invalidated cache entries", "pattern", pattern, "count", count)

	return count, nil
}

// InvalidateNodeType removes every entry of nodeType.
func (c *Cache) InvalidateNodeType(ctx context.Context, nodeType string) (int, error) {
	return c.Invalidate(ctx, KeyPrefix+nodeType+":*")
}

func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var rate float64
	if total > 0 {
		rate = math.Round(float64(hits)/float64(total)*10000) / 100
	}

	return Stats{
		Hits:          hits,
		Misses:        misses,
		Writes:        c.writes.Load(),
		TotalRequests: total,
		HitRate:       rate,
		Enabled:       c.enabled,
	}
}

func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.writes.Store(0)
}

// TTLFromConfig reads "cache_ttl" in seconds from a node config.
func TTLFromConfig(config map[string]any) time.Duration {
	switch v := config["cache_ttl"].(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	default:
		return 0
	}
}
