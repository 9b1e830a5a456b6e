// Package metrics exposes Prometheus metrics for the coordination engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseTransitions counts recorded phase transitions.
	// Labels: from, to
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateflow",
			Subsystem: "engine",
			Name:      "phase_transitions_total",
			Help:      "Total number of recorded phase transitions",
		},
		[]string{"from", "to"},
	)

	// PhaseRuns counts phase run attempts by outcome.
	// Labels: phase, outcome (ok, invalid_transition, blocked, activation_error, work_failure)
	PhaseRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateflow",
			Subsystem: "engine",
			Name:      "phase_runs_total",
			Help:      "Total number of phase run attempts by outcome",
		},
		[]string{"phase", "outcome"},
	)

	// WorkDuration tracks how long phase work takes.
	// Labels: phase
	WorkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateflow",
			Subsystem: "engine",
			Name:      "work_duration_seconds",
			Help:      "Duration of phase work in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// AgentActivations counts role activations.
	// Labels: role
	AgentActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateflow",
			Subsystem: "agents",
			Name:      "activations_total",
			Help:      "Total number of agent role activations",
		},
		[]string{"role"},
	)

	// PersistenceErrors counts failed snapshot writes.
	// Labels: op (save, archive, load)
	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateflow",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Total number of snapshot persistence failures",
		},
		[]string{"op"},
	)

	// Instances is the number of instances the engine holds in memory.
	Instances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gateflow",
			Subsystem: "engine",
			Name:      "instances",
			Help:      "Number of workflow instances held by the engine",
		},
	)
)

// Run outcomes.
const (
	OutcomeOK                = "ok"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeBlocked           = "blocked"
	OutcomeActivationError   = "activation_error"
	OutcomeWorkFailure       = "work_failure"
)

// ObserveWork records a work duration for phase.
func ObserveWork(phase string, d time.Duration) {
	WorkDuration.WithLabelValues(phase).Observe(d.Seconds())
}
