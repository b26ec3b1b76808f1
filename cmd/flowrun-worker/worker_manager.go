package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/jobqueue"
)

const shutdownTimeout = 30 * time.Second

type WorkerManager struct {
	id          string
	engine      *cmd.Engine
	maintenance *Maintenance
	logger      *slog.Logger
}

func NewWorkerManager(id string, engine *cmd.Engine, maintenance *Maintenance, logger *slog.Logger) *WorkerManager {
	return &WorkerManager{
		id:          id,
		engine:      engine,
		maintenance: maintenance,
		logger:      logger,
	}
}

// Start consumes run jobs until SIGINT or SIGTERM.
func (w *WorkerManager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.logger.InfoContext(ctx, "Starting flowrun worker")

	worker := jobqueue.NewWorker(w.id, w.engine.EventBus, w.engine.Orchestrator, w.engine.Broadcaster, w.logger)
	if err := worker.Start(ctx); err != nil {
		return err
	}

	if err := w.engine.ListenControl(ctx); err != nil {
		return err
	}

	w.maintenance.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker")

	stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()

	w.maintenance.Stop(stopCtx)

	return nil
}
