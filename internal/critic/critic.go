package critic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/llm"
)

// ErrMalformed is returned when the model's reply is not a verdict.
var ErrMalformed = errors.New("critic: malformed verdict")

// #region model-critic
// ModelCritic asks the classification model to review each result and
// scales its confidence by a per-action calibration EMA.
type ModelCritic struct {
	model      llm.Classifier
	fallback   Critic
	config     Config
	logger     *zap.Logger
	calibrator *Calibrator
}

// NewModelCritic creates a ModelCritic. When the model is unavailable the
// heuristic critic answers instead.
func NewModelCritic(model llm.Classifier, config Config, logger *zap.Logger) *ModelCritic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelCritic{
		model:      model,
		fallback:   Heuristic{},
		config:     config,
		logger:     logger.Named("critic"),
		calibrator: NewCalibrator(config.EMAAlpha),
	}
}

type modelVerdict struct {
	OK         bool           `json:"ok"`
	Issue      string         `json:"issue"`
	Correction map[string]any `json:"correction"`
	Confidence *float64       `json:"confidence"`
}

// Review returns the calibrated verdict. Model failures fall back to the
// heuristic critic, and that never errors.
func (c *ModelCritic) Review(ctx context.Context, chk Check) (Verdict, error) {
	if c.model == nil {
		return c.fallback.Review(ctx, chk)
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	reply, err := c.model.Classify(ctx, c.prompt(chk))
	if err == nil {
		var v Verdict
		v, err = parseVerdict(reply)
		if err == nil {
			return c.calibrate(chk, v), nil
		}
	}
	c.logger.Warn("critic model unavailable, using heuristics",
		zap.String("action", chk.ActionType), zap.Error(err))
	return c.fallback.Review(ctx, chk)
}

// Observe feeds back whether a flagged, corrected action then succeeded.
func (c *ModelCritic) Observe(actionType string, correctionHelped bool) {
	c.calibrator.Observe(actionType, correctionHelped)
}

// calibrate scales a flag by the action's trust and drops low-confidence
// flags on safe actions. Consequential flags always reach the loop.
func (c *ModelCritic) calibrate(chk Check, v Verdict) Verdict {
	if !v.Flagged() {
		return v
	}
	v.Confidence *= c.calibrator.Trust(chk.ActionType)
	if chk.Category != Consequential && v.Confidence < c.config.MinConfidence {
		return Verdict{Confidence: v.Confidence}
	}
	return v
}

func (c *ModelCritic) prompt(chk Check) string {
	out := chk.Output
	if c.config.MaxOutputLen > 0 && len(out) > c.config.MaxOutputLen {
		out = out[:c.config.MaxOutputLen] + "..."
	}
	params, _ := json.Marshal(chk.Params)

	var b strings.Builder
	b.WriteString("Review one tool result produced while serving the user's request.\n")
	fmt.Fprintf(&b, "Request: %s\n", chk.UserInput)
	fmt.Fprintf(&b, "Action: %s (%s) params=%s\n", chk.ActionType, chk.Category, params)
	fmt.Fprintf(&b, "Status: %s\n", chk.Status)
	if chk.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", chk.Error)
	}
	fmt.Fprintf(&b, "Output: %s\n", out)
	b.WriteString(`Reply with JSON only: {"ok": bool, "issue": "<empty if ok>", "correction": {<corrected params or omit>}, "confidence": 0..1}`)
	return b.String()
}

func parseVerdict(reply string) (Verdict, error) {
	body := llm.ExtractJSON(reply)
	if body == "" {
		return Verdict{}, ErrMalformed
	}
	var mv modelVerdict
	if err := json.Unmarshal([]byte(body), &mv); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	conf := 1.0
	if mv.Confidence != nil {
		conf = clamp01(*mv.Confidence)
	}
	if mv.OK {
		return Verdict{Confidence: conf}, nil
	}
	issue := strings.TrimSpace(mv.Issue)
	if issue == "" {
		issue = "unspecified issue"
	}
	return Verdict{Issue: issue, Correction: mv.Correction, Confidence: conf}, nil
}

// #endregion model-critic

// #region calibrator
// Calibrator keeps an EMA per action type of how often acting on a flag
// actually helped. It starts fully trusting.
type Calibrator struct {
	mu    sync.Mutex
	alpha float64
	trust map[string]float64
}

// NewCalibrator creates a Calibrator with smoothing factor alpha.
func NewCalibrator(alpha float64) *Calibrator {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultConfig().EMAAlpha
	}
	return &Calibrator{alpha: alpha, trust: make(map[string]float64)}
}

// Trust returns the current multiplier for actionType.
func (c *Calibrator) Trust(actionType string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.trust[actionType]; ok {
		return t
	}
	return 1
}

// Observe folds one outcome into the EMA.
func (c *Calibrator) Observe(actionType string, helped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trust[actionType]
	if !ok {
		t = 1
	}
	x := 0.0
	if helped {
		x = 1
	}
	c.trust[actionType] = t + c.alpha*(x-t)
}

// #endregion calibrator

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
