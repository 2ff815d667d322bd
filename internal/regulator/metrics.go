package regulator

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/pressure"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

var (
	// cyclesTotal counts regulation cycles.
	// Labels: action (adjusted, reverted, skipped, no_op, conflict)
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "regulator",
		Name:      "cycles_total",
		Help:      "Regulation cycles by outcome",
	}, []string{"action"})

	// pressureGauge is the last computed pressure per metric.
	pressureGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cogctl",
		Subsystem: "regulator",
		Name:      "pressure",
		Help:      "Normalized routing pressure per metric at the last cycle",
	}, []string{"metric"})

	// deltaHistogram records the size of applied weight changes.
	deltaHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cogctl",
		Subsystem: "regulator",
		Name:      "delta_abs",
		Help:      "Absolute size of applied weight changes",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.015, 0.02},
	}, []string{"param", "kind"})
)

// #region snapshot
// Snapshot is the set of routing health metrics over one window.
type Snapshot struct {
	Decisions int                `json:"decisions"`
	Reviews   int                `json:"reviews"`
	Values    map[string]float64 `json:"values"`
	Pressures map[string]float64 `json:"pressures"`
}

// Inputs is the raw evidence a Snapshot is computed from.
type Inputs struct {
	Decisions        []audit.Decision
	Signals          []audit.PressureSignal
	DisagreementRate float64
	Reviews          int
}

// Compute derives metric values and pressures from initial-phase decisions,
// pressure signals and peer reviews.
func Compute(in Inputs, config Config) Snapshot {
	var (
		n                                  int
		tiebreaks, misroutes, continuation int
		modes                              []mode.Mode
	)
	for _, d := range in.Decisions {
		if d.Phase != audit.PhaseInitial {
			continue
		}
		n++
		modes = append(modes, d.Mode)
		if d.TiebreakerUsed || (d.Margin < d.EffectiveMargin && !d.Signals.EmptyInput) {
			tiebreaks++
		}
		if d.Feedback == signals.FeedbackNegative {
			misroutes++
		}
		if d.Signals.Imperative && d.ActWithinMargin() {
			continuation++
		}
	}

	snap := Snapshot{
		Decisions: n,
		Reviews:   in.Reviews,
		Values:    make(map[string]float64, len(metricOrder)),
		Pressures: make(map[string]float64, len(metricOrder)),
	}
	if n == 0 {
		return snap
	}

	_, entropy, _ := pressure.ModeEntropy(modes)
	snap.Values[audit.DimensionTiebreak] = float64(tiebreaks) / float64(n)
	snap.Values[audit.DimensionEntropy] = entropy
	snap.Values[audit.DimensionMisroute] = float64(misroutes) / float64(n)
	snap.Values[audit.DimensionMissedContinuation] = float64(continuation) / float64(n)
	if in.Reviews >= config.MinReviews {
		snap.Values[audit.DimensionDisagreement] = in.DisagreementRate
	}

	mean := meanMagnitude(in.Signals)
	for _, metric := range metricOrder {
		var p float64
		if metric == audit.DimensionEntropy {
			if config.EntropyTarget > 0 {
				p = (config.EntropyTarget - entropy) / config.EntropyTarget
			}
		} else {
			p = bandPressure(snap.Values[metric], config.Bands[metric])
		}
		p = clamp01(p) + config.SignalWeight*mean[metric]
		snap.Pressures[metric] = math.Min(1, p)
	}
	return snap
}

func bandPressure(v float64, b Band) float64 {
	if b.Ceiling <= b.Target {
		return 0
	}
	return (v - b.Target) / (b.Ceiling - b.Target)
}

func meanMagnitude(sigs []audit.PressureSignal) map[string]float64 {
	sum := make(map[string]float64)
	count := make(map[string]int)
	for _, s := range sigs {
		sum[s.Dimension] += clamp01(s.Magnitude)
		count[s.Dimension]++
	}
	out := make(map[string]float64, len(sum))
	for dim, v := range sum {
		out[dim] = v / float64(count[dim])
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// #endregion snapshot
