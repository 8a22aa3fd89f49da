package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/PKmac78/paddisense-hacs/internal/verify"
)

// MetricsConfig configures batch metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "paddisense").
	Namespace string

	// Registry collects the metrics. Default: a fresh registry, so repeated
	// engines in one process do not collide.
	Registry *prometheus.Registry
}

// MetricsOption configures batch metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics counts batch outcomes. A one-shot CLI has nothing to scrape, so
// the registry is flushed to a node-exporter textfile instead.
type Metrics struct {
	registry *prometheus.Registry

	modulesTotal  *prometheus.CounterVec
	findingsTotal *prometheus.CounterVec
	checksTotal   *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	lastBatch     *prometheus.GaugeVec
}

// NewMetrics registers the batch metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{Namespace: "paddisense"}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		registry: config.Registry,

		modulesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "modules_total",
			Help:      "Modules processed, by operation and outcome",
		}, []string{"operation", "outcome"}),

		findingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "findings_total",
			Help:      "Findings reported, by code and severity",
		}, []string{"code", "severity"}),

		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "verify_checks_total",
			Help:      "Installation checks run, by status",
		}, []string{"status"}),

		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch wall time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		lastBatch: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix time the last batch finished",
		}, []string{"operation"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveReport records a finished batch.
func (m *Metrics) ObserveReport(r *Report) {
	if m == nil || r == nil {
		return
	}
	for _, o := range r.Outcomes {
		m.modulesTotal.WithLabelValues(r.Operation, o.Result()).Inc()
		for _, f := range o.Findings {
			m.findingsTotal.WithLabelValues(string(f.Code), f.Severity().String()).Inc()
		}
	}
	m.batchDuration.WithLabelValues(r.Operation).Observe(r.Duration.Seconds())
	m.lastBatch.WithLabelValues(r.Operation).Set(float64(r.Started.Add(r.Duration).Unix()))
}

// ObserveChecks records a verification run.
func (m *Metrics) ObserveChecks(results []verify.CheckResult) {
	if m == nil {
		return
	}
	for _, c := range results {
		m.checksTotal.WithLabelValues(string(c.Status)).Inc()
	}
	m.lastBatch.WithLabelValues("verify").Set(float64(time.Now().Unix()))
}

// WriteTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
