package gate

import (
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/update"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// deltaTolerance absorbs float noise in daily-delta sums.
const deltaTolerance = 1e-9

// #region gate
// Gate evaluates whether a proposed weights change may be committed.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate checks every hard veto against the current record, the proposed
// weights and the adjustment arithmetic. Any veto rejects.
func (g *Gate) Evaluate(
	current weights.Record,
	proposed weights.RouterWeights,
	metrics update.Metrics,
	ctx Context,
) GateDecision {
	var vetoes []VetoSignal

	// 1. Stale version: someone committed since the proposal was computed
	if ctx.ActiveVersionID != "" && current.VersionID != ctx.ActiveVersionID {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoStaleVersion,
			Reason: fmt.Sprintf("proposal based on %s, active is %s", current.VersionID, ctx.ActiveVersionID),
		})
	}

	// 2. Nothing to commit
	if math.Abs(metrics.Delta) == 0 {
		vetoes = append(vetoes, VetoSignal{Type: VetoNoChange, Reason: "zero delta"})
	}

	// 3. Cooldown, except for reverts
	if !ctx.Revert && !ctx.LastAdjusted.IsZero() && ctx.Now.Sub(ctx.LastAdjusted) < g.config.Cooldown {
		vetoes = append(vetoes, VetoSignal{
			Type: VetoCooldown,
			Reason: fmt.Sprintf("%s adjusted %s ago, cooldown %s",
				metrics.Param, ctx.Now.Sub(ctx.LastAdjusted).Round(time.Second), g.config.Cooldown),
		})
	}

	// 4. Daily delta, reverts included
	if total := ctx.SpentToday + math.Abs(metrics.Delta); total > g.config.MaxDailyDelta+deltaTolerance {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoDailyDelta,
			Reason: fmt.Sprintf("%s daily change %.4f exceeds %.4f", metrics.Param, total, g.config.MaxDailyDelta),
		})
	}

	// 5. Bounds and structure of the full proposed record
	if err := proposed.Validate(); err != nil {
		vetoes = append(vetoes, VetoSignal{Type: VetoBounds, Reason: err.Error()})
	}

	// 6. Exactly one parameter may change per cycle
	if changed := changedParams(current.Weights, proposed); len(changed) > 1 {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoMultiParam,
			Reason: fmt.Sprintf("%d params changed: %v", len(changed), changed),
		})
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      "reject",
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
			SoftScore:   0,
		}
	}

	softScore := computeSoftScore(metrics, g.config.MaxDailyDelta)
	return GateDecision{
		Action:    "commit",
		Reason:    fmt.Sprintf("passed gate: soft_score=%.4f", softScore),
		SoftScore: softScore,
	}
}

// #endregion gate

// #region helpers
// changedParams lists params whose value differs between a and b.
func changedParams(a, b weights.RouterWeights) []string {
	var out []string
	for _, p := range weights.Params() {
		va, errA := a.Get(p.Name)
		vb, errB := b.Get(p.Name)
		if errA != nil || errB != nil || va != vb {
			out = append(out, p.Name)
		}
	}
	return out
}

// computeSoftScore rewards small, unclamped steps. Logged, never blocks.
func computeSoftScore(metrics update.Metrics, maxDaily float64) float64 {
	score := 1.0
	if maxDaily > 0 {
		score -= 0.7 * math.Min(1, math.Abs(metrics.Delta)/maxDaily)
	}
	if metrics.Clamped {
		score -= 0.3
	}
	return math.Max(0, score)
}

// #endregion helpers
