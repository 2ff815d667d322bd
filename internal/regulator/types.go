package regulator

import (
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/eval"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/gate"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/update"
)

// #region actions
// Action is the outcome of one regulation cycle.
type Action string

const (
	ActionAdjusted Action = "adjusted"
	ActionReverted Action = "reverted"
	ActionSkipped  Action = "skipped"
	ActionNoOp     Action = "no_op"
	ActionConflict Action = "conflict"
)

// #endregion actions

// #region target
// Target names the parameter a metric drives and which way it moves it.
type Target struct {
	Param     string
	Direction float64
}

// Targets is the fixed metric-to-parameter lookup.
var Targets = map[string]Target{
	audit.DimensionTiebreak:           {Param: "margin.base", Direction: -1},
	audit.DimensionEntropy:            {Param: "respond.base", Direction: -1},
	audit.DimensionMisroute:           {Param: "clarify.base", Direction: +1},
	audit.DimensionMissedContinuation: {Param: "act.imperative", Direction: +1},
	audit.DimensionDisagreement:       {Param: "margin.min", Direction: +1},
}

// metricOrder breaks pressure ties.
var metricOrder = []string{
	audit.DimensionTiebreak,
	audit.DimensionEntropy,
	audit.DimensionMisroute,
	audit.DimensionMissedContinuation,
	audit.DimensionDisagreement,
}

// #endregion target

// #region config
// Band is the acceptable range of a rate metric. Pressure rises linearly
// from 0 at Target to 1 at Ceiling.
type Band struct {
	Target  float64 `yaml:"target"`
	Ceiling float64 `yaml:"ceiling"`
}

// Config holds the regulation cycle parameters.
type Config struct {
	LeaseTTL      time.Duration       `yaml:"lease_ttl"`
	MetricsWindow time.Duration       `yaml:"metrics_window"` // decisions considered for metrics
	MinDecisions  int                 `yaml:"min_decisions"`  // below this a cycle is a no_op
	MinReviews    int                 `yaml:"min_reviews"`    // disagreement counts only with this many reviews
	MinPressure   float64             `yaml:"min_pressure"`   // pressures at or below this are ignored
	SignalWeight  float64             `yaml:"signal_weight"`  // weight of mean pressure-signal magnitude
	VerifyAfter   time.Duration       `yaml:"verify_after"`   // age before a pending adjustment is judged
	EntropyTarget float64             `yaml:"entropy_target"` // normalized entropy below this is pressure
	Bands         map[string]Band     `yaml:"bands"`
	Update        update.UpdateConfig `yaml:"update"`
	Gate          gate.GateConfig     `yaml:"gate"`
	Eval          eval.EvalConfig     `yaml:"eval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LeaseTTL:      10 * time.Minute,
		MetricsWindow: 24 * time.Hour,
		MinDecisions:  20,
		MinReviews:    5,
		MinPressure:   0.05,
		SignalWeight:  0.5,
		VerifyAfter:   24 * time.Hour,
		EntropyTarget: 0.5,
		Bands: map[string]Band{
			audit.DimensionTiebreak:           {Target: 0.15, Ceiling: 0.5},
			audit.DimensionMisroute:           {Target: 0.05, Ceiling: 0.3},
			audit.DimensionMissedContinuation: {Target: 0.05, Ceiling: 0.3},
			audit.DimensionDisagreement:       {Target: 0.2, Ceiling: 0.6},
		},
		Update: update.DefaultUpdateConfig(),
		Gate:   gate.DefaultGateConfig(),
		Eval:   eval.DefaultEvalConfig(),
	}
}

// #endregion config

// #region result
// Result reports what one cycle did. At most one weights write happens per
// cycle, described by Adjustment.
type Result struct {
	Action     Action      `json:"action"`
	Reason     string      `json:"reason"`
	Adjustment *Adjustment `json:"adjustment,omitempty"`
	Metrics    Snapshot    `json:"metrics"`
}

// #endregion result
