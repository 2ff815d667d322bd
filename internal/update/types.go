package update

import "github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"

// #region proposal
// Proposal asks to move one parameter in response to one metric's pressure.
type Proposal struct {
	Metric    string  // metric that drove the proposal
	Param     string  // weights param name
	Direction float64 // +1 or -1
	Pressure  float64 // normalized pressure in [0,1]
}

// #endregion proposal

// #region decision
// Decision records what the update function decided.
type Decision struct {
	Action string // "commit" | "no_op"
	Reason string
}

// #endregion decision

// #region metrics
// Metrics captures the arithmetic of one update.
type Metrics struct {
	Param     string  `json:"param"`
	OldValue  float64 `json:"old_value"`
	NewValue  float64 `json:"new_value"`
	Requested float64 `json:"requested_delta"`
	Delta     float64 `json:"applied_delta"`
	Remaining float64 `json:"daily_remaining"` // daily budget left before this update
	Clamped   bool    `json:"clamped"`
}

// #endregion metrics

// #region update-config
// UpdateConfig holds the step size limits for weight adjustments.
type UpdateConfig struct {
	MaxDailyDelta float64 `yaml:"max_daily_delta"` // total |change| per param per 24h, reverts included
}

// DefaultUpdateConfig returns sensible defaults.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{MaxDailyDelta: 0.02}
}

// #endregion update-config

// #region update-result
// UpdateResult bundles everything returned by Update and Revert.
type UpdateResult struct {
	NewWeights weights.RouterWeights
	Decision   Decision
	Metrics    Metrics
}

// #endregion update-result
