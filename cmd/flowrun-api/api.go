// Package main provides the flowrun API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	logger   *slog.Logger
	engine   *cmd.Engine
	gatherer prometheus.Gatherer
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, engine *cmd.Engine, gatherer prometheus.Gatherer) *API {
	return &API{
		logger:   logger,
		engine:   engine,
		gatherer: gatherer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.engine.Orchestrator,
		a.engine.Queue,
		a.engine.Persistence,
		a.engine.Breaker,
		a.engine.Cache,
		a.engine.Limiter,
		a.validate,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.engine.Persistence.HealthCheck(c.Context()) == nil
		},
	}))

	metrics := adaptor.HTTPHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	app.Get("/metrics", func(c fiber.Ctx) error {
		a.engine.RefreshMetrics()

		return metrics(c)
	})

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowrun API")
	})

	handlers.Mount(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
