package main

import (
	"context"
	"os"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "flowrun-worker"

func main() {
	flags := append([]cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:    "reap-schedule",
			Usage:   "Cron schedule for reaping expired execution leases",
			Value:   "@every 1m",
			Sources: cli.EnvVars("REAP_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "stats-schedule",
			Usage:   "Cron schedule for cache and circuit reports",
			Value:   "@every 5m",
			Sources: cli.EnvVars("STATS_SCHEDULE"),
		},
	}, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute queued runs",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(serviceName).With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing flowrun worker")

			runtime, err := config.Load()
			if err != nil {
				return err
			}

			tracer, err := otelhelper.NewTracer(ctx, serviceName)
			if err != nil {
				return err
			}

			opts := cmd.EngineOptionsFromCommand(command, serviceName)
			opts.Runtime = runtime
			opts.Tracer = tracer

			engine, err := cmd.NewEngine(ctx, opts, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := engine.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close engine", "error", err)
				}
			}()

			maintenance := NewMaintenance(engine, logger)
			if err := maintenance.Schedule(command.String("reap-schedule"), command.String("stats-schedule")); err != nil {
				return err
			}

			return NewWorkerManager(workerID, engine, maintenance, logger).Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule(serviceName).Error("flowrun worker stopped", "error", err)
		os.Exit(1)
	}
}
