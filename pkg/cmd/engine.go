package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/analytics"
	"github.com/dukex/flowrun/pkg/blobstore"
	"github.com/dukex/flowrun/pkg/broadcast"
	"github.com/dukex/flowrun/pkg/cache"
	"github.com/dukex/flowrun/pkg/circuitbreaker"
	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/debug"
	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/executor"
	"github.com/dukex/flowrun/pkg/jobqueue"
	"github.com/dukex/flowrun/pkg/orchestrator"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/ratelimit"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/dukex/flowrun/pkg/selfheal"
	"github.com/dukex/flowrun/pkg/usage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// EngineOptions selects the backing services of an Engine.
type EngineOptions struct {
	DatabaseURL      string
	RedisURL         string
	BlobURL          string
	S3               blobstore.S3Config
	EventBusProvider string
	KafkaBrokers     string
	ServiceName      string

	Runtime  *config.Runtime
	Metrics  prometheus.Registerer
	Tracer   trace.Tracer
	EventBus eventbus.EventBus
}

// Engine is the fully wired execution stack shared by the API and the worker.
type Engine struct {
	Config       *config.Runtime
	Persistence  persistence.Persistence
	Registry     *registry.Registry
	Breaker      *circuitbreaker.Breaker
	Cache        *cache.Cache
	Limiter      *ratelimit.Limiter
	LimiterStore ratelimit.Store
	Usage        *usage.Recorder
	Metrics      *analytics.PrometheusCollector
	Executor     *executor.Executor
	Orchestrator *orchestrator.Orchestrator
	EventBus     eventbus.EventBus
	Queue        *jobqueue.Queue
	Broadcaster  protocol.Broadcaster
	Redis        *redis.Client
	Control      *control.RedisRelay
	ownsEventBus bool
	logger       *slog.Logger
}

// NewEngine connects every backing service named in opts. Redis is optional:
// without it the cache, limiter and broadcasts stay in process memory.
func NewEngine(ctx context.Context, opts EngineOptions, logger *slog.Logger) (*Engine, error) {
	cfg := opts.Runtime
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{Config: cfg, logger: logger}

	var err error

	e.Persistence, err = NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	e.Redis, err = NewRedisClient(ctx, opts.RedisURL)
	if err != nil {
		_ = e.Persistence.Close(ctx)

		return nil, err
	}

	e.EventBus = opts.EventBus
	if e.EventBus == nil {
		e.EventBus, err = NewEventBus(opts.EventBusProvider, opts.KafkaBrokers, opts.ServiceName, logger)
		if err != nil {
			_ = e.Close(ctx)

			return nil, err
		}

		e.ownsEventBus = true
	}

	blobs, err := NewBlobStore(ctx, opts.BlobURL, opts.S3)
	if err != nil {
		_ = e.Close(ctx)

		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = prometheus.NewRegistry()
	}

	e.Metrics = analytics.NewPrometheusCollector(metrics)
	e.Registry = NewRegistry(logger)

	e.Breaker = circuitbreaker.New(cfg.Circuit, logger.With("component", "circuit_breaker"))
	e.Breaker.OnStateChange(func(nodeType string, _, to circuitbreaker.State) {
		e.Metrics.SetCircuitState(nodeType, string(to))
	})

	var (
		cacheStore cache.Store = cache.NewMemoryStore()
		trackers               = analytics.Multi{e.Metrics}
	)

	e.LimiterStore = ratelimit.NewMemoryStore()
	broadcasters := broadcast.Multi{broadcast.NewEventBusBroadcaster(e.EventBus, logger)}

	if e.Redis != nil {
		cacheStore = cache.NewRedisStore(e.Redis)
		e.LimiterStore = ratelimit.NewRedisStore(e.Redis)
		trackers = append(trackers, analytics.NewRedisTracker(e.Redis, logger))
		broadcasters = append(broadcasters, broadcast.NewRedisBroadcaster(e.Redis, logger))
	}

	e.Broadcaster = broadcasters

	e.Cache = cache.New(cacheStore, cfg.Cache.Enabled, cfg.Cache.DefaultTTL, logger.With("component", "cache"))
	e.Limiter = ratelimit.NewLimiter(e.LimiterStore, cfg.RateLimit.LeaseTTL, logger.With("component", "rate_limiter"))
	e.Usage = usage.NewRecorder(e.Persistence.Usage(), logger.With("component", "usage"))

	tracer := opts.Tracer
	executorOpts := []executor.Option{
		executor.WithCache(e.Cache),
		executor.WithAdvisor(selfheal.NewDefaultAdvisor(cfg.Execution.BackoffUnit, 4*cfg.Execution.DefaultNodeTimeout)),
		executor.WithAnalytics(trackers),
		executor.WithUsage(e.Usage),
	}

	orchestratorOpts := []orchestrator.Option{
		orchestrator.WithUsage(e.Usage),
		orchestrator.WithBroadcaster(e.Broadcaster),
		orchestrator.WithAnalytics(trackers),
		orchestrator.WithDebug(debug.NewController(cfg.Debug.MaxWait)),
	}

	if e.Redis != nil {
		origin := fmt.Sprintf("%s-%s", opts.ServiceName, uuid.NewString())
		e.Control = control.NewRedisRelay(e.Redis, origin, logger.With("component", "control"))
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithControl(e.Control))
	}

	if tracer != nil {
		executorOpts = append(executorOpts, executor.WithTracer(tracer))
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithTracer(tracer))
	}

	if blobs != nil {
		externalizer := blobstore.NewExternalizer(blobs, cfg.Blob.ThresholdBytes, cfg.Blob.KeyPrefix, logger.With("component", "blobstore"))
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithBlobs(externalizer))
	}

	e.Executor = executor.New(e.Registry, e.Breaker, cfg.Execution, logger.With("component", "executor"), executorOpts...)
	e.Orchestrator = orchestrator.New(
		e.Persistence,
		e.Registry,
		e.Executor,
		e.Limiter,
		cfg.Execution,
		logger.With("component", "orchestrator"),
		orchestratorOpts...,
	)
	e.Queue = jobqueue.NewQueue(e.EventBus, logger.With("component", "jobqueue"))

	logger.InfoContext(ctx, "Engine initialized",
		"redis", e.Redis != nil,
		"blob_store", blobs != nil,
		"cache_enabled", cfg.Cache.Enabled)

	return e, nil
}

// ListenControl applies cancel and debug commands published by other
// processes to the runs of this one. It is a no-op without Redis.
func (e *Engine) ListenControl(ctx context.Context) error {
	if e.Control == nil {
		return nil
	}

	return e.Control.Listen(ctx, e.Orchestrator.HandleControl)
}

// RefreshMetrics exports the gauges that are sampled rather than evented.
func (e *Engine) RefreshMetrics() {
	for _, status := range e.Breaker.All() {
		e.Metrics.SetCircuitState(status.NodeType, status.State)
	}

	e.Metrics.SetCacheHitRate(e.Cache.Stats().HitRate)
}

// Close drains usage writes and releases every connection the engine opened.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	if e.Usage != nil {
		if err := e.Usage.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("usage shutdown: %w", err))
		}
	}

	if e.ownsEventBus && e.EventBus != nil {
		if err := e.EventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event bus close: %w", err))
		}
	}

	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if err := e.Persistence.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("persistence close: %w", err))
	}

	return errors.Join(errs...)
}
