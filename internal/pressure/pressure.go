package pressure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// Signal sources.
const (
	SourceMisroute     = "misroute_detector"
	SourceContinuation = "continuation_detector"
	SourceEntropy      = "entropy_monitor"
)

// Signal is one piece of routing pressure evidence.
type Signal = audit.PressureSignal

// signalsTotal counts emitted pressure signals.
// Labels: dimension
var signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cogctl",
	Subsystem: "pressure",
	Name:      "signals_total",
	Help:      "Pressure signals emitted by dimension",
}, []string{"dimension"})

// #region config
// Config holds the misroute and entropy heuristics. All values are tunable
// defaults.
type Config struct {
	FollowupWindow  time.Duration `yaml:"followup_window"`   // next message must arrive within this to count
	EntropyTarget   float64       `yaml:"entropy_target"`    // normalized entropy below this is pressure
	MinDecisions    int           `yaml:"min_decisions"`     // entropy needs at least this many decisions
	NegativeWeight  float64       `yaml:"negative_weight"`   // magnitude of an explicit negative followup
	ReaskWeight     float64       `yaml:"reask_weight"`      // magnitude of a re-asked question after a non-answer
	FeedbackOnReask bool          `yaml:"feedback_on_reask"` // also write negative feedback for re-asks
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FollowupWindow: 5 * time.Minute,
		EntropyTarget:  0.5,
		MinDecisions:   20,
		NegativeWeight: 1.0,
		ReaskWeight:    0.5,
	}
}

// #endregion config

// #region entropy
// ModeEntropy returns the Shannon entropy in bits of the mode distribution,
// normalized to [0,1] by the maximum over all modes, plus the dominant mode.
func ModeEntropy(modes []mode.Mode) (bits, normalized float64, dominant mode.Mode) {
	if len(modes) == 0 {
		return 0, 0, ""
	}
	counts := make(map[mode.Mode]int, len(mode.All))
	for _, m := range modes {
		counts[m]++
	}
	p := make([]float64, 0, len(mode.All))
	best := -1
	for _, m := range mode.All {
		c := counts[m]
		p = append(p, float64(c)/float64(len(modes)))
		if c > best {
			best, dominant = c, m
		}
	}
	bits = stat.Entropy(p) / math.Ln2
	normalized = bits / math.Log2(float64(len(mode.All)))
	return bits, normalized, dominant
}

// #endregion entropy

// #region monitor
// Monitor scans recent decisions for misroutes and mode collapse and
// records the evidence as pressure signals.
type Monitor struct {
	store  *audit.Store
	config Config
	logger *zap.Logger
}

// NewMonitor creates a Monitor over the audit store.
func NewMonitor(store *audit.Store, config Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{store: store, config: config, logger: logger.Named("pressure")}
}

// Report summarizes one scan.
type Report struct {
	Signals  []Signal
	Feedback int // decisions given post-hoc negative feedback
	Entropy  float64
}

// Scan inspects initial-phase decisions created since the given time.
// Signals already recorded for a decision are not emitted twice.
func (m *Monitor) Scan(ctx context.Context, since time.Time) (Report, error) {
	var rep Report
	decisions, err := m.store.DecisionsSince(ctx, since, 0)
	if err != nil {
		return rep, fmt.Errorf("scan pressure: %w", err)
	}

	byThread := make(map[string][]audit.Decision)
	var initial []mode.Mode
	for _, d := range decisions {
		if d.Phase != audit.PhaseInitial {
			continue
		}
		byThread[d.ThreadID] = append(byThread[d.ThreadID], d)
		initial = append(initial, d.Mode)
	}

	threads := make([]string, 0, len(byThread))
	for t := range byThread {
		threads = append(threads, t)
	}
	sort.Strings(threads)

	for _, t := range threads {
		ds := byThread[t]
		for i, d := range ds {
			if sig, ok := missedContinuation(d); ok {
				m.emit(ctx, &rep, sig)
			}
			if i+1 < len(ds) {
				m.checkFollowup(ctx, &rep, d, ds[i+1])
			}
		}
	}

	if len(initial) >= m.config.MinDecisions {
		_, norm, dominant := ModeEntropy(initial)
		rep.Entropy = norm
		if norm < m.config.EntropyTarget && m.config.EntropyTarget > 0 {
			m.emit(ctx, &rep, Signal{
				Dimension: audit.DimensionEntropy,
				Magnitude: (m.config.EntropyTarget - norm) / m.config.EntropyTarget,
				Source:    SourceEntropy,
				Ref:       string(dominant),
			})
		}
	}
	return rep, nil
}

// checkFollowup judges d by the next message in its thread.
func (m *Monitor) checkFollowup(ctx context.Context, rep *Report, d, next audit.Decision) {
	if m.config.FollowupWindow > 0 && next.CreatedAt.Sub(d.CreatedAt) > m.config.FollowupWindow {
		return
	}
	var magnitude float64
	switch {
	case next.Signals.ExplicitFeedback == signals.FeedbackNegative:
		magnitude = m.config.NegativeWeight
	case isNonAnswer(d.Mode) && next.Signals.HasQuestionMark && next.Signals.ImplicitReference:
		magnitude = m.config.ReaskWeight
	default:
		return
	}

	if !m.emit(ctx, rep, Signal{
		Dimension: audit.DimensionMisroute,
		Magnitude: magnitude,
		Source:    SourceMisroute,
		Ref:       d.ID,
	}) {
		return
	}
	if next.Signals.ExplicitFeedback != signals.FeedbackNegative && !m.config.FeedbackOnReask {
		return
	}
	err := m.store.SetFeedback(ctx, d.ID, signals.FeedbackNegative)
	switch {
	case err == nil:
		rep.Feedback++
	case errors.Is(err, audit.ErrFeedbackSet):
	default:
		m.logger.Warn("post-hoc feedback not written", zap.String("decision", d.ID), zap.Error(err))
	}
}

// emit records sig unless a decision-scoped signal from the same source
// already references it. Entropy signals describe a window and always emit.
func (m *Monitor) emit(ctx context.Context, rep *Report, sig Signal) bool {
	if sig.Source != SourceEntropy {
		seen, err := m.store.HasPressure(ctx, sig.Source, sig.Ref)
		if err != nil {
			m.logger.Warn("pressure dedup failed", zap.Error(err))
			return false
		}
		if seen {
			return false
		}
	}
	saved, err := m.store.RecordPressure(ctx, sig)
	if err != nil {
		m.logger.Warn("pressure signal not recorded", zap.String("dimension", sig.Dimension), zap.Error(err))
		return false
	}
	signalsTotal.WithLabelValues(sig.Dimension).Inc()
	rep.Signals = append(rep.Signals, saved)
	return true
}

// #endregion monitor

// #region heuristics
// missedContinuation flags an imperative message that was not routed to ACT
// although ACT scored within the effective margin.
func missedContinuation(d audit.Decision) (Signal, bool) {
	if !d.Signals.Imperative || !d.ActWithinMargin() || d.EffectiveMargin <= 0 {
		return Signal{}, false
	}
	gap := d.Scores[d.Mode] - d.Scores[mode.Act]
	return Signal{
		Dimension: audit.DimensionMissedContinuation,
		Magnitude: math.Max(0, math.Min(1, 1-gap/d.EffectiveMargin)),
		Source:    SourceContinuation,
		Ref:       d.ID,
	}, true
}

func isNonAnswer(m mode.Mode) bool {
	return m == mode.Acknowledge || m == mode.Ignore || m == mode.Clarify
}

// #endregion heuristics
