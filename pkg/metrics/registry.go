// Package metrics provides Prometheus metrics for the workflow engine,
// governance layer and HTTP surface.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry manages all Prometheus metrics for SokoFlow.
type Registry struct {
	config   Config
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Workflow metrics
	workflowExecutionsTotal   *prometheus.CounterVec
	workflowExecutionDuration *prometheus.HistogramVec
	workflowActiveCount       *prometheus.GaugeVec
	workflowStepDuration      *prometheus.HistogramVec
	workflowStepRetriesTotal  *prometheus.CounterVec

	// Governance metrics
	safetyViolationsTotal *prometheus.CounterVec
	quotaRejectionsTotal  *prometheus.CounterVec
	concurrencyDenials    *prometheus.CounterVec

	// DLQ metrics
	dlqItemsTotal   *prometheus.CounterVec
	dlqDepth        prometheus.Gauge
	dlqReplaysTotal *prometheus.CounterVec

	// Dedup metrics
	dedupHitsTotal *prometheus.CounterVec
}

// Global registry instance
var (
	globalRegistry *Registry
	once           sync.Once
)

// NewRegistry creates a new metrics registry with the given configuration.
func NewRegistry(config Config) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		config:   config,
		registry: reg,
	}

	r.registerHTTPMetrics()
	r.registerWorkflowMetrics()
	r.registerGovernanceMetrics()

	if config.EnableProcessMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if config.EnableRuntimeMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}

	return r
}

// Global returns the global registry instance, initializing it with default config if needed.
func Global() *Registry {
	once.Do(func() {
		globalRegistry = NewRegistry(DefaultConfig())
	})
	return globalRegistry
}

// SetGlobal sets the global registry instance.
func SetGlobal(r *Registry) {
	globalRegistry = r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	return r.config
}

func (r *Registry) registerHTTPMetrics() {
	ns := r.config.Namespace

	r.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status_code"},
	)

	r.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	r.registry.MustRegister(r.httpRequestsTotal, r.httpRequestDuration)
}

func (r *Registry) registerWorkflowMetrics() {
	ns := r.config.Namespace

	r.workflowExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"status"},
	)

	r.workflowExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"status"},
	)

	r.workflowActiveCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "active_executions",
			Help:      "Number of currently running workflow executions",
		},
		[]string{"organization_id"},
	)

	r.workflowStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Workflow step duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step_type"},
	)

	r.workflowStepRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "step_retries_total",
			Help:      "Total number of step retry attempts scheduled",
		},
		[]string{"step_type"},
	)

	r.registry.MustRegister(
		r.workflowExecutionsTotal,
		r.workflowExecutionDuration,
		r.workflowActiveCount,
		r.workflowStepDuration,
		r.workflowStepRetriesTotal,
	)
}

func (r *Registry) registerGovernanceMetrics() {
	ns := r.config.Namespace

	r.safetyViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "governance",
			Name:      "safety_violations_total",
			Help:      "Total number of recorded safety limit violations",
		},
		[]string{"limit_code"},
	)

	r.quotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "governance",
			Name:      "quota_rejections_total",
			Help:      "Total number of daily quota consumptions rejected at the limit",
		},
		[]string{"quota"},
	)

	r.concurrencyDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "governance",
			Name:      "concurrency_denials_total",
			Help:      "Total number of concurrent-run slot acquisitions denied",
		},
		[]string{"organization_id"},
	)

	r.dlqItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dlq",
			Name:      "items_total",
			Help:      "Total number of steps quarantined to the dead-letter queue",
		},
		[]string{"error_category"},
	)

	r.dlqDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dlq",
			Name:      "open_items",
			Help:      "Number of dead-letter items currently open",
		},
	)

	r.dlqReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dlq",
			Name:      "replays_total",
			Help:      "Total number of operator-initiated dead-letter replays",
		},
		[]string{"step_type"},
	)

	r.dedupHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dedup",
			Name:      "hits_total",
			Help:      "Total number of deduplicated operations by ledger",
		},
		[]string{"ledger"},
	)

	r.registry.MustRegister(
		r.safetyViolationsTotal,
		r.quotaRejectionsTotal,
		r.concurrencyDenials,
		r.dlqItemsTotal,
		r.dlqDepth,
		r.dlqReplaysTotal,
		r.dedupHitsTotal,
	)
}
