package act

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cyclesTotal counts finished cycles.
	// Labels: reason (termination reason)
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "act",
		Name:      "cycles_total",
		Help:      "ACT cycles by termination reason",
	}, []string{"reason"})

	// iterationsPerCycle tracks how many iterations a cycle ran.
	iterationsPerCycle = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cogctl",
		Subsystem: "act",
		Name:      "iterations_per_cycle",
		Help:      "Iterations recorded per ACT cycle",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 7},
	})

	// actionsTotal counts executed actions.
	// Labels: type, status (ok, error)
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "act",
		Name:      "actions_total",
		Help:      "Executed actions by type and status",
	}, []string{"type", "status"})

	// criticFlagsTotal counts critic issues.
	// Labels: category (safe, consequential), handling (corrected, kept, paused)
	criticFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "act",
		Name:      "critic_flags_total",
		Help:      "Critic issues by action category and handling",
	}, []string{"category", "handling"})

	// fatigueSpent tracks fatigue spent per cycle.
	fatigueSpent = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cogctl",
		Subsystem: "act",
		Name:      "fatigue_spent",
		Help:      "Fatigue spent per ACT cycle",
		Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 2.5, 3},
	})
)
