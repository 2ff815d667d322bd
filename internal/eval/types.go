package eval

// #region eval-config
// EvalConfig holds thresholds for post-commit validation.
type EvalConfig struct {
	MinSamples       int     `yaml:"min_samples"`        // behavioral checks need at least this many snapshots
	MaxDominantShare float64 `yaml:"max_dominant_share"` // reject if one mode wins more than this share
	MaxRouteChange   float64 `yaml:"max_route_change"`   // reject if more than this share of routes flip
}

// DefaultEvalConfig returns sensible defaults.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinSamples:       20,
		MaxDominantShare: 0.95,
		MaxRouteChange:   0.5,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-commit validation.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// #endregion eval-result
