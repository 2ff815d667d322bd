package audit

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("audit: not found")
	// ErrFeedbackSet is returned when feedback was already written.
	ErrFeedbackSet = errors.New("audit: feedback already set")
)

// Routing phases.
const (
	PhaseInitial  = "initial"
	PhaseTerminal = "terminal"
)

// #region decision
// Decision is one routing decision. Rows are append-only; only Feedback may
// be filled in later, and only once.
type Decision struct {
	ID              string                 `json:"id"`
	ThreadID        string                 `json:"thread_id"`
	Topic           string                 `json:"topic"`
	ExchangeID      string                 `json:"exchange_id"`
	Phase           string                 `json:"phase"`
	Mode            mode.Mode              `json:"selected_mode"`
	RunnerUp        mode.Mode              `json:"runner_up,omitempty"`
	Confidence      float64                `json:"router_confidence"`
	Scores          mode.Scores            `json:"scores"`
	TiebreakerUsed  bool                   `json:"tiebreaker_used"`
	TiebreakOutcome string                 `json:"tiebreak_outcome,omitempty"`
	Margin          float64                `json:"margin"`
	EffectiveMargin float64                `json:"effective_margin"`
	Signals         signals.RoutingSignals `json:"signal_snapshot"`
	WeightsVersion  string                 `json:"weights_version"`
	RoutingTime     time.Duration          `json:"routing_time_ns"`
	Feedback        signals.Feedback       `json:"feedback,omitempty"`
	PreviousMode    mode.Mode              `json:"previous_mode,omitempty"`
	Excluded        []mode.Mode            `json:"excluded,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ActWithinMargin reports whether ACT scored within the effective margin of
// the selected mode without being selected.
func (d Decision) ActWithinMargin() bool {
	if d.Mode == mode.Act {
		return false
	}
	act, ok := d.Scores[mode.Act]
	if !ok {
		return false
	}
	return d.Scores[d.Mode]-act < d.EffectiveMargin
}

// #endregion decision

// #region pressure
// Pressure dimensions, one per regulator metric.
const (
	DimensionTiebreak           = "tiebreak_rate"
	DimensionEntropy            = "mode_entropy"
	DimensionMisroute           = "misroute_rate"
	DimensionMissedContinuation = "missed_continuation_rate"
	DimensionDisagreement       = "disagreement_rate"
)

// PressureSignal is evidence that routing is drifting along one dimension.
type PressureSignal struct {
	ID        int64     `json:"id"`
	Dimension string    `json:"dimension"`
	Magnitude float64   `json:"magnitude"`
	Source    string    `json:"source"`
	Ref       string    `json:"ref,omitempty"` // decision id the signal is about, if any
	CreatedAt time.Time `json:"timestamp"`
}

// #endregion pressure
