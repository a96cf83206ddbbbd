// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jobrunner/demimport/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus. Metrics
// live in a private registry and are written as a node exporter textfile
// when the command ends.
type Collector struct {
	registry       *prometheus.Registry
	importCounter  *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	tilesImported  *prometheus.CounterVec
	downloads      *prometheus.CounterVec
	downloadBytes  prometheus.Counter
	retries        *prometheus.CounterVec
}

// Ensure Collector implements output.MetricsCollector.
var _ output.MetricsCollector = (*Collector)(nil)

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "demimport"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		importCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_total",
				Help:      "Total number of state imports",
			},
			[]string{"product", "state", "status"},
		),

		importDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_duration_seconds",
				Help:      "State import duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"product", "state"},
		),

		tilesImported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_imported_total",
				Help:      "Total number of imported tiles",
			},
			[]string{"product", "state"},
		),

		downloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Total number of file downloads",
			},
			[]string{"status"},
		),

		downloadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_bytes_total",
				Help:      "Total number of downloaded bytes",
			},
		),

		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried operations",
			},
			[]string{"operation"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncImportCount implements output.MetricsCollector.
func (c *Collector) IncImportCount(product, state string, success bool) {
	c.importCounter.WithLabelValues(product, state, status(success)).Inc()
}

// ObserveImportDuration implements output.MetricsCollector.
func (c *Collector) ObserveImportDuration(product, state string, duration time.Duration) {
	c.importDuration.WithLabelValues(product, state).Observe(duration.Seconds())
}

// AddTilesImported implements output.MetricsCollector.
func (c *Collector) AddTilesImported(product, state string, n int) {
	c.tilesImported.WithLabelValues(product, state).Add(float64(n))
}

// IncDownloadCount implements output.MetricsCollector.
func (c *Collector) IncDownloadCount(success bool) {
	c.downloads.WithLabelValues(status(success)).Inc()
}

// AddDownloadBytes implements output.MetricsCollector.
func (c *Collector) AddDownloadBytes(n int64) {
	c.downloadBytes.Add(float64(n))
}

// IncRetries implements output.MetricsCollector.
func (c *Collector) IncRetries(operation string) {
	c.retries.WithLabelValues(operation).Inc()
}

// WriteTextfile writes all metrics in the text exposition format for the
// node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
