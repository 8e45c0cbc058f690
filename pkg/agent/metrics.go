package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal tracks intercepted requests by the source that answered them
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_agent_fetch_total",
			Help: "Total intercepted requests by response source",
		},
		[]string{"source"}, // "cache", "network", "fallback-root", "offline-page", "offline-error"
	)

	// PassThroughTotal tracks non-GET requests left to the network
	PassThroughTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_agent_passthrough_total",
			Help: "Total requests not intercepted by the agent",
		},
	)

	// CacheWrites tracks runtime cache writes by outcome
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_agent_cache_writes_total",
			Help: "Total runtime cache writes by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	// PrecacheAssets tracks install-time asset results
	PrecacheAssets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_agent_precache_assets_total",
			Help: "Total essential assets processed during install by result",
		},
		[]string{"generation", "result"},
	)

	// ContainersDeleted tracks containers removed by activation
	ContainersDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_agent_containers_deleted_total",
			Help: "Total stale cache containers deleted during activation",
		},
	)

	// EventsTotal tracks dispatched events by kind and result
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_agent_events_total",
			Help: "Total lifecycle events handled by kind and result",
		},
		[]string{"kind", "result"},
	)
)
