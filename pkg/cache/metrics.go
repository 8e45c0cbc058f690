package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend names used as metric labels.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
)

var (
	// StorageOperations tracks storage operations by backend and operation
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_agent_storage_operations_total",
			Help: "Total number of cache storage operations",
		},
		[]string{"backend", "operation"}, // "open", "match", "put", "delete", "keys", "drop"
	)

	// StorageErrors tracks storage operation errors
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_agent_storage_errors_total",
			Help: "Total number of cache storage operation errors",
		},
		[]string{"backend", "operation"},
	)

	// Containers tracks the number of containers a backend holds
	Containers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_agent_storage_containers",
			Help: "Current number of cache containers",
		},
		[]string{"backend"},
	)
)

// observe records one storage operation and its error, if any.
// A cache miss is not an error.
func observe(backend, operation string, err error) {
	StorageOperations.WithLabelValues(backend, operation).Inc()
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		StorageErrors.WithLabelValues(backend, operation).Inc()
	}
}
