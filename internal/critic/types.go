package critic

import (
	"context"
	"time"
)

// #region category
// Category splits actions by how much damage an unchecked mistake does.
type Category string

const (
	// Safe actions are read-only and deterministic; mistakes are corrected
	// silently.
	Safe Category = "safe"
	// Consequential actions mutate state or reach the user; mistakes pause
	// the loop for confirmation.
	Consequential Category = "consequential"
)

// #endregion category

// #region check
// Check is one executed action presented for review.
type Check struct {
	UserInput  string
	ActionType string
	Category   Category
	Params     map[string]any
	Status     string
	Output     string
	Error      string
}

// Verdict is the critic's opinion of one result. A zero Verdict is "no issue".
type Verdict struct {
	Issue      string         `json:"issue,omitempty"`
	Correction map[string]any `json:"correction,omitempty"`
	Confidence float64        `json:"confidence"`
	FailedOpen bool           `json:"failed_open,omitempty"`
}

// Flagged reports whether the verdict raised an issue.
func (v Verdict) Flagged() bool {
	return v.Issue != ""
}

// Critic reviews action results. Implementations must fail open: an error
// is treated by callers as "no issue".
type Critic interface {
	Review(ctx context.Context, c Check) (Verdict, error)
}

// #endregion check

// #region config
// Config holds critic tuning. Thresholds are tunable defaults.
type Config struct {
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"` // safe-action flags below this are ignored
	EMAAlpha      float64       `yaml:"ema_alpha"`      // weight of the newest calibration outcome
	MaxOutputLen  int           `yaml:"max_output_len"` // chars of output shown to the model
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Second,
		MinConfidence: 0.3,
		EMAAlpha:      0.2,
		MaxOutputLen:  1500,
	}
}

// #endregion config
