package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/ratelimit"
	"github.com/robfig/cron/v3"
)

// Maintenance runs the periodic housekeeping of a worker process.
type Maintenance struct {
	engine *cmd.Engine
	logger *slog.Logger
	cron   *cron.Cron
}

func NewMaintenance(engine *cmd.Engine, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		engine: engine,
		logger: logger.With("module", "maintenance"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// Schedule registers the jobs. reapSpec and statsSpec are cron
// expressions, "@every 1m" style descriptors included.
func (m *Maintenance) Schedule(reapSpec, statsSpec string) error {
	if _, err := m.cron.AddFunc(reapSpec, m.ReapLeases); err != nil {
		return fmt.Errorf("invalid lease reap schedule %q: %w", reapSpec, err)
	}

	if _, err := m.cron.AddFunc(statsSpec, m.ReportStats); err != nil {
		return fmt.Errorf("invalid stats schedule %q: %w", statsSpec, err)
	}

	return nil
}

func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop waits for running jobs to finish.
func (m *Maintenance) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// ReapLeases drops expired leases of an in-process limiter. Redis expires
// them on its own.
func (m *Maintenance) ReapLeases() {
	store, ok := m.engine.LimiterStore.(*ratelimit.MemoryStore)
	if !ok {
		return
	}

	if reaped := store.Reap(); reaped > 0 {
		m.logger.Info("Reaped expired execution leases", "count", reaped)
	}
}

func (m *Maintenance) ReportStats() {
	m.engine.RefreshMetrics()

	stats := m.engine.Cache.Stats()
	m.logger.Info("Cache statistics",
		"hits", stats.Hits,
		"misses", stats.Misses,
		"hit_rate", stats.HitRate,
		"enabled", stats.Enabled)

	for _, status := range m.engine.Breaker.All() {
		if status.State != "closed" {
			m.logger.Warn("Circuit not closed",
				"node_type", status.NodeType,
				"state", status.State,
				"seconds_until_recovery", status.SecondsUntilRecovery)
		}
	}
}
