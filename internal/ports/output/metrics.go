package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncImportCount counts a finished import of a product for a state.
	IncImportCount(product, state string, success bool)

	// ObserveImportDuration records how long an import took.
	ObserveImportDuration(product, state string, duration time.Duration)

	// AddTilesImported counts imported tiles.
	AddTilesImported(product, state string, n int)

	// IncDownloadCount counts a finished download.
	IncDownloadCount(success bool)

	// AddDownloadBytes counts downloaded bytes.
	AddDownloadBytes(n int64)

	// IncRetries counts a retried operation.
	IncRetries(operation string)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncImportCount implements MetricsCollector.
func (n *NoOpMetrics) IncImportCount(_, _ string, _ bool) {}

// ObserveImportDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveImportDuration(_, _ string, _ time.Duration) {}

// AddTilesImported implements MetricsCollector.
func (n *NoOpMetrics) AddTilesImported(_, _ string, _ int) {}

// IncDownloadCount implements MetricsCollector.
func (n *NoOpMetrics) IncDownloadCount(_ bool) {}

// AddDownloadBytes implements MetricsCollector.
func (n *NoOpMetrics) AddDownloadBytes(_ int64) {}

// IncRetries implements MetricsCollector.
func (n *NoOpMetrics) IncRetries(_ string) {}
