package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// decisionsTotal counts routing decisions.
	// Labels: mode, phase (initial, terminal)
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Routing decisions by selected mode",
	}, []string{"mode", "phase"})

	// tiebreaksTotal counts tie-break attempts.
	// Labels: outcome (decided, unavailable, rate_limited, failed, malformed, off_list)
	tiebreaksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "router",
		Name:      "tiebreaks_total",
		Help:      "Tie-break attempts by outcome",
	}, []string{"outcome"})

	// routingConfidence tracks the distribution of router confidence.
	routingConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cogctl",
		Subsystem: "router",
		Name:      "confidence",
		Help:      "Distribution of router confidence",
		Buckets:   []float64{0.05, 0.1, 0.15, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1.0, 2.0},
	})

	// routingLatency measures the time taken for a routing decision.
	routingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cogctl",
		Subsystem: "router",
		Name:      "latency_seconds",
		Help:      "Routing decision latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
	})
)
