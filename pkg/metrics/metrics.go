// Package metrics exposes the Prometheus registry of the cache agent.
// Metrics are defined in their respective packages (cache, client, agent,
// lifecycle) to keep those packages free of a shared dependency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the cache agent.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the metrics of the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Storage Metrics (pkg/cache):
//   - cache_agent_storage_operations_total{backend, operation} (Counter)
//   - cache_agent_storage_errors_total{backend, operation} (Counter)
//   - cache_agent_storage_containers{backend} (Gauge): containers reported by the last Keys call
//
// Network Metrics (pkg/client):
//   - cache_agent_network_requests_total{status} (Counter): requests by HTTP status or "network_error"
//   - cache_agent_network_request_duration_seconds (Histogram)
//   - cache_agent_network_errors_total{class} (Counter): client, server, network
//
// Agent Metrics (pkg/agent):
//   - cache_agent_fetch_total{source} (Counter): intercepted requests by response source
//   - cache_agent_passthrough_total (Counter): requests left to the browser
//   - cache_agent_cache_writes_total{result} (Counter): runtime cache writes (ok, error)
//   - cache_agent_precache_assets_total{generation, result} (Counter)
//   - cache_agent_containers_deleted_total (Counter)
//   - cache_agent_events_total{kind, result} (Counter)
//
// Lifecycle Metrics (pkg/lifecycle):
//   - cache_agent_lifecycle_transitions_total{phase} (Counter)
//   - cache_agent_active_generation_info{generation} (Gauge)
//
// Example Prometheus Queries:
//
//   # Offline Hit Rate
//   sum(rate(cache_agent_fetch_total{source="cache"}[5m])) /
//   sum(rate(cache_agent_fetch_total[5m]))
//
//   # Offline Fallbacks
//   rate(cache_agent_fetch_total{source=~"offline-.*|fallback-root"}[5m])
//
//   # Failed Cache Writes
//   rate(cache_agent_cache_writes_total{result="error"}[5m])
//
//   # P95 Network Latency
//   histogram_quantile(0.95, rate(cache_agent_network_request_duration_seconds_bucket[5m]))
