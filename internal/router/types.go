package router

import (
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// #region config
// Config holds router tuning that is not part of the regulated weights.
type Config struct {
	TiebreakTimeout   time.Duration `yaml:"tiebreak_timeout"`    // per tie-break call
	TiebreakPerSecond float64       `yaml:"tiebreak_per_second"` // limiter refill rate, <= 0 disables limiting
	TiebreakBurst     int           `yaml:"tiebreak_burst"`
	HysteresisWindow  int           `yaml:"hysteresis_window"`  // same-topic decisions considered
	HysteresisTopics  int           `yaml:"hysteresis_topics"`  // LRU capacity
	MaxWidening       float64       `yaml:"max_widening"`       // cap on cumulative margin widening
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TiebreakTimeout:   500 * time.Millisecond,
		TiebreakPerSecond: 20,
		TiebreakBurst:     40,
		HysteresisWindow:  3,
		HysteresisTopics:  4096,
		MaxWidening:       0.20,
	}
}

// #endregion config

// #region request
// Request is everything one routing decision depends on.
type Request struct {
	Signals signals.RoutingSignals
	Weights weights.RouterWeights
	Topic   string   // hysteresis key; empty disables hysteresis
	Exclude mode.Set // modes removed from the candidate set
	Summary string   // context summary handed to the tie-breaker
}

// #endregion request

// #region result
// Tiebreak outcomes.
const (
	TiebreakNone        = ""
	TiebreakDecided     = "decided"
	TiebreakUnavailable = "unavailable"
	TiebreakLimited     = "rate_limited"
	TiebreakFailed      = "failed"
	TiebreakMalformed   = "malformed"
	TiebreakOffList     = "off_list"
)

// Result is one routing decision.
type Result struct {
	Mode            mode.Mode   `json:"mode"`
	RunnerUp        mode.Mode   `json:"runner_up"`
	Confidence      float64     `json:"confidence"`
	Scores          mode.Scores `json:"scores"`
	TiebreakerUsed  bool        `json:"tiebreaker_used"`
	Tiebreak        string      `json:"tiebreak,omitempty"`
	Margin          float64     `json:"margin"`           // top minus second score
	EffectiveMargin float64     `json:"effective_margin"` // tie-break threshold
	Widening        float64     `json:"widening"`         // hysteresis part of EffectiveMargin
	Reason          string      `json:"reason"`
}

// #endregion result
