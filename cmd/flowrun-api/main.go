package main

import (
	"context"
	"os"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091
	serviceName = "flowrun-api"
)

func main() {
	flags := append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Run workflow graphs and inspect their executions",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing flowrun API")

			runtime, err := config.Load()
			if err != nil {
				return err
			}

			tracer, err := otelhelper.NewTracer(ctx, serviceName)
			if err != nil {
				return err
			}

			metrics := prometheus.NewRegistry()
			metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			opts := cmd.EngineOptionsFromCommand(command, serviceName)
			opts.Runtime = runtime
			opts.Metrics = metrics
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

			if err := engine.ListenControl(ctx); err != nil {
				return err
			}

			return NewAPI(logger, engine, metrics).Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("api").Error("flowrun API stopped", "error", err)
		os.Exit(1)
	}
}
