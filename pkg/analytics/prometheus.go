package analytics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports analytics as Prometheus metrics.
type PrometheusCollector struct {
	nodesExecuted    *prometheus.CounterVec
	nodeCacheHits    *prometheus.CounterVec
	nodeRetries      *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	circuitState     *prometheus.GaugeVec
	cacheHitRate     prometheus.Gauge
}

// NewPrometheusCollector registers the collectors on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		nodesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowrun_nodes_executed_total",
				Help: "Total number of node dispatches",
			},
			[]string{"node_type", "status"},
		),
		nodeCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowrun_node_cache_hits_total",
				Help: "Total number of node results served from cache",
			},
			[]string{"node_type"},
		),
		nodeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowrun_node_retries_total",
				Help: "Total number of node retry attempts",
			},
			[]string{"node_type"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowrun_node_duration_seconds",
				Help:    "Node dispatch duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"node_type"},
		),
		workflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowrun_workflows_total",
				Help: "Total number of finished workflow runs",
			},
			[]string{"status"},
		),
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowrun_workflow_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowrun_circuit_state",
				Help: "Circuit breaker state per node type (0 closed, 1 half open, 2 open)",
			},
			[]string{"node_type"},
		),
		cacheHitRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowrun_cache_hit_rate_percent",
				Help: "Process cache hit rate in percent",
			},
		),
	}
}

func (p *PrometheusCollector) TrackNode(_ context.Context, event NodeEvent) {
	p.nodesExecuted.WithLabelValues(event.NodeType, event.Status).Inc()

	if event.Cached {
		p.nodeCacheHits.WithLabelValues(event.NodeType).Inc()

		return
	}

	if event.Attempts > 1 {
		p.nodeRetries.WithLabelValues(event.NodeType).Add(float64(event.Attempts - 1))
	}

	p.nodeDuration.WithLabelValues(event.NodeType).Observe(event.Duration.Seconds())
}

func (p *PrometheusCollector) TrackWorkflow(_ context.Context, event WorkflowEvent) {
	p.workflowsTotal.WithLabelValues(event.Status).Inc()
	p.workflowDuration.WithLabelValues(event.Status).Observe(event.Duration.Seconds())
}

// SetCircuitState records the state of a node type circuit.
func (p *PrometheusCollector) SetCircuitState(nodeType, state string) {
	var value float64

	switch state {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}

	p.circuitState.WithLabelValues(nodeType).Set(value)
}

func (p *PrometheusCollector) SetCacheHitRate(rate float64) {
	p.cacheHitRate.Set(rate)
}
