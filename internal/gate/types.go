package gate

import "time"

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoCooldown     VetoType = "cooldown"
	VetoDailyDelta   VetoType = "daily_delta"
	VetoBounds       VetoType = "bounds"
	VetoStaleVersion VetoType = "stale_version"
	VetoMultiParam   VetoType = "multi_param"
	VetoNoChange     VetoType = "no_change"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds thresholds for gate decisions.
type GateConfig struct {
	Cooldown      time.Duration `yaml:"cooldown"`        // min time between adjustments of one param
	MaxDailyDelta float64       `yaml:"max_daily_delta"` // total |change| per param per 24h
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Cooldown:      48 * time.Hour,
		MaxDailyDelta: 0.02,
	}
}

// #endregion gate-config

// #region gate-context
// Context is the history the gate judges a proposal against.
type Context struct {
	ActiveVersionID string    // version currently active in the store
	LastAdjusted    time.Time // last change of the param, zero if never
	SpentToday      float64   // |change| of the param in the last 24h
	Revert          bool      // reverts skip the cooldown
	Now             time.Time
}

// #endregion gate-context

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "commit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
	SoftScore   float64      // 0-1, smaller steps score higher (for logging)
}

// #endregion gate-decision
