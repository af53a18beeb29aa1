// Package metrics exposes the Prometheus registry used by the exporter.
// All metrics are defined in their respective packages (client, cache,
// pagination, export) and registered via promauto.
//
// A batch run has no scrape endpoint, so the collected metrics can be dumped
// once at exit in the node_exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Gatherer reads back the metrics that promauto registered with the default
// Prometheus registry in their respective packages.
var Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes all gathered metrics to path in the text exposition
// format. The file is written to a temporary file first and renamed.
func WriteTextfile(path string) error {
	return writeTextfile(Gatherer, path)
}

func writeTextfile(g prometheus.Gatherer, path string) error {
	if path == "" {
		return fmt.Errorf("metrics file path is empty")
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - kobo_export_requests_total{status} (Counter): Page requests by HTTP status
//   - kobo_export_request_duration_seconds (Histogram): Page request duration
//   - kobo_export_errors_total{class} (Counter): Errors by class (client, server, network, decode)
//
// Cache Metrics (pkg/cache):
//   - kobo_export_cache_hits_total (Counter): Pages served from Redis
//   - kobo_export_cache_misses_total (Counter): Cache misses
//   - kobo_export_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination Metrics (pkg/pagination):
//   - kobo_export_pages_fetched_total (Counter): Pages fetched, cached pages included
//   - kobo_export_records_fetched_total (Counter): Raw records collected
//   - kobo_export_pagination_stops_total{reason} (Counter): Runs by end reason
//     (complete, error, max_pages, cursor_loop, cancelled)
//
// Export Metrics (pkg/export):
//   - kobo_export_rows_written_total (Counter): Data rows written to the workbook
//
// Example Prometheus Queries:
//
//   # Runs that ended early
//   sum(kobo_export_pagination_stops_total{reason!="complete"})
//
//   # Cache Hit Rate
//   sum(kobo_export_cache_hits_total) /
//   (sum(kobo_export_cache_hits_total) + sum(kobo_export_cache_misses_total))
