package router

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

const confidenceEpsilon = 1e-6

// Ambiguity bonuses added to the effective margin.
const (
	implicitReferenceBonus = 0.03
	lowDensityBonus        = 0.02
	bareInterrogativeBonus = 0.02
	lowDensityCutoff       = 0.3
)

// #region score
// Score computes the full score vector for sig under w, including penalties
// and the per-request ephemeral adjustments. It is pure.
func Score(sig signals.RoutingSignals, w weights.RouterWeights) mode.Scores {
	scores := make(mode.Scores, len(mode.All))
	if sig.EmptyInput {
		for _, m := range mode.All {
			scores[m] = -1.0
		}
		scores[mode.Ignore] = 1.0
		return scores
	}

	features := sig.Features()
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names) // fixed summation order keeps scores bit-identical

	for _, m := range mode.All {
		mw := w.Modes[m]
		s := mw.Base
		for _, name := range names {
			s += mw.Signals[name] * features[name]
		}
		scores[m] = s
	}

	p := w.Penalties
	if sig.ContextWarmth < p.ColdThreshold {
		scores[mode.Respond] -= p.RespondCold
	}
	if sig.ContextWarmth > p.WarmThreshold {
		scores[mode.Clarify] -= p.ClarifyWarm
	}
	if sig.HasQuestionMark {
		scores[mode.Acknowledge] -= p.AcknowledgeQuestion
	}

	// ephemeral: never written back to weights
	if sig.PreviousMode == mode.Act && sig.PriorActUseless {
		scores[mode.Act] -= p.ActNoResult
	}
	if sig.PreviousMode == mode.Clarify {
		scores[mode.Respond] += p.ClarifyFollowup
	}
	return scores
}

// #endregion score

// #region margin
// SemanticUncertainty sums the fixed ambiguity bonuses present in sig.
func SemanticUncertainty(sig signals.RoutingSignals) float64 {
	u := 0.0
	if sig.ImplicitReference {
		u += implicitReferenceBonus
	}
	if sig.InformationDensity < lowDensityCutoff {
		u += lowDensityBonus
	}
	if sig.InterrogativeWording && !sig.HasQuestionMark {
		u += bareInterrogativeBonus
	}
	return u
}

// EffectiveMargin is the tie-break threshold for sig: the base margin relaxed
// toward the minimum as context warms, plus ambiguity and hysteresis.
func EffectiveMargin(sig signals.RoutingSignals, w weights.RouterWeights, widening float64) float64 {
	warmth := math.Max(0, math.Min(1, sig.ContextWarmth))
	base := w.Margin.Base - (w.Margin.Base-w.Margin.Min)*warmth
	return base + SemanticUncertainty(sig) + widening
}

// Confidence is the normalized gap between the top two scores.
func Confidence(top, second float64) float64 {
	return (top - second) / math.Max(math.Abs(top), confidenceEpsilon)
}

// #endregion margin

// #region summary
// Summarize renders the few signals a tie-breaker needs, in fixed order.
func Summarize(sig signals.RoutingSignals) string {
	var b strings.Builder
	fmt.Fprintf(&b, "warmth=%.2f density=%.2f tokens=%d", sig.ContextWarmth, sig.InformationDensity, sig.PromptTokenCount)
	fmt.Fprintf(&b, " question=%t implicit_reference=%t imperative=%t", sig.HasQuestionMark, sig.ImplicitReference, sig.Imperative)
	fmt.Fprintf(&b, " new_topic=%t feedback=%s", sig.IsNewTopic, sig.ExplicitFeedback)
	prev := string(sig.PreviousMode)
	if prev == "" {
		prev = "NONE"
	}
	fmt.Fprintf(&b, " previous_mode=%s", prev)
	return b.String()
}

// #endregion summary
