// Package metrics exposes Prometheus metrics for pipeline runs and the
// dev server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "assetpipe").
	Namespace string

	// Buckets are the histogram buckets for task duration.
	Buckets []float64

	// Registry is the registry metrics are registered with and served
	// from. Default: a fresh registry with Go and process collectors.
	Registry *prometheus.Registry
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector records task and reload metrics.
type Collector struct {
	registry *prometheus.Registry

	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	reloads       *prometheus.CounterVec
	reloadClients prometheus.Gauge
}

// New creates a collector.
func New(opts ...Option) *Collector {
	cfg := Config{
		Namespace: "assetpipe",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(cfg.Registry)

	return &Collector{
		registry: cfg.Registry,

		taskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "task_runs_total",
			Help:      "Total number of task runs by outcome",
		}, []string{"task", "status"}),

		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "task_duration_seconds",
			Help:      "Task run duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"task"}),

		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "reloads_total",
			Help:      "Total number of messages broadcast to reload clients",
		}, []string{"type"}),

		reloadClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "reload_clients",
			Help:      "Number of connected live reload clients",
		}),
	}
}

// ObserveTask records one finished task run.
func (c *Collector) ObserveTask(task string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.taskRuns.WithLabelValues(task, status).Inc()
	c.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

// ObserveReload records one broadcast message of the given type.
func (c *Collector) ObserveReload(msgType string) {
	c.reloads.WithLabelValues(msgType).Inc()
}

// SetReloadClients records the number of connected reload clients.
func (c *Collector) SetReloadClients(n int) {
	c.reloadClients.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
