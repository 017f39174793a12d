// Package telemetry provides logging setup and Prometheus metrics for orgstore.
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started in cmd/server:
//
//	GET http://<host>:<ORGSTORE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// HTTP metrics use c.FullPath() (the route template) rather than the raw URL so
// user-supplied query values never become label values. Organization names are
// never used as labels either; they are unbounded.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orgstore/orgstore/internal/safego"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Error rate (%):       sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Lifecycle metrics, recorded by the organization services.
//
// LifecycleOperationsTotal carries {operation, result}. operation is one of
// create, get, update, delete, login, add_documents, list_documents; result is the error category
// (ok, not_found, already_exists, name_conflict, email_in_use, unauthorized,
// forbidden, conflict, invalid, error).
//
// Example PromQL queries:
//   - Failed renames:  sum(rate(orgstore_lifecycle_operations_total{operation="update",result="error"}[1h]))
var (
	LifecycleOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgstore_lifecycle_operations_total",
			Help: "Total number of organization lifecycle operations, by operation and result.",
		},
		[]string{"operation", "result"},
	)

	DocumentsMigratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orgstore_documents_migrated_total",
			Help: "Total number of tenant documents copied into a new namespace during renames.",
		},
	)

	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgstore_lock_contention_total",
			Help: "Total number of lifecycle operations rejected because the organization was locked, by operation.",
		},
		[]string{"operation"},
	)

	// NamespaceDropFailuresTotal is the signal for orphaned namespaces left
	// behind after delete or a failed create. Run `orgctl orphans` when it moves.
	NamespaceDropFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgstore_namespace_drop_failures_total",
			Help: "Total number of namespace drops that failed and left an orphaned namespace, by cause.",
		},
		[]string{"cause"},
	)
)

// OrphanedNamespaces is set by the periodic orphan scan. kind is
// "unreferenced" (namespace without a registry row) or "missing" (registry row
// without a namespace).
var OrphanedNamespaces = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "orgstore_orphaned_namespaces",
		Help: "Number of registry/namespace inconsistencies found by the last orphan scan, by kind.",
	},
	[]string{"kind"},
)

// DBOpenConnections tracks open connections held by the registry pool. It is
// sampled by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every interval until
// ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	safego.Go("db-stats-collector", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	})
}
