package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for lifecycle transitions.
var (
	lifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_agent_lifecycle_transitions_total",
		Help: "Total lifecycle phase transitions by phase",
	}, []string{"phase"})

	activeGenerationInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cache_agent_active_generation_info",
		Help: "Set to 1 for the generation that currently controls the registration",
	}, []string{"generation"})
)
