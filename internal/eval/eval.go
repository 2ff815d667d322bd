package eval

import (
	"fmt"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/router"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// #region eval-harness
// EvalHarness runs post-commit validation on committed weights.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates committed weights structurally, then re-scores recent signal
// snapshots under both the committed and the parent weights. A failed run
// means the commit should be rolled back.
func (h *EvalHarness) Run(committed, parent weights.RouterWeights, samples []signals.RoutingSignals) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	// 1. Bounds and structure
	boundsErr := committed.Validate()
	metrics = append(metrics, EvalMetric{Name: "bounds", Value: b2f(boundsErr == nil), Pass: boundsErr == nil})
	if boundsErr != nil {
		failReasons = append(failReasons, boundsErr.Error())
	}

	// 2. Behavioral checks, only with enough evidence
	if len(samples) >= h.config.MinSamples && len(samples) > 0 {
		newTop := topModes(committed, samples)
		oldTop := topModes(parent, samples)

		share := dominantShare(newTop)
		oldShare := dominantShare(oldTop)
		// a collapse the parent already had is not this commit's fault
		sharePass := share <= h.config.MaxDominantShare || share <= oldShare
		metrics = append(metrics, EvalMetric{Name: "dominant_share", Value: share, Pass: sharePass})
		if !sharePass {
			failReasons = append(failReasons, fmt.Sprintf("dominant mode share %.3f exceeds %.3f", share, h.config.MaxDominantShare))
		}

		flipped := 0
		for i := range newTop {
			if newTop[i] != oldTop[i] {
				flipped++
			}
		}
		change := float64(flipped) / float64(len(samples))
		changePass := change <= h.config.MaxRouteChange
		metrics = append(metrics, EvalMetric{Name: "route_change", Value: change, Pass: changePass})
		if !changePass {
			failReasons = append(failReasons, fmt.Sprintf("route change %.3f exceeds %.3f", change, h.config.MaxRouteChange))
		}
	}

	reason := "all checks passed"
	if len(failReasons) > 0 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
func topModes(w weights.RouterWeights, samples []signals.RoutingSignals) []mode.Mode {
	out := make([]mode.Mode, len(samples))
	for i, s := range samples {
		out[i], _, _, _ = router.Score(s, w).Top()
	}
	return out
}

func dominantShare(modes []mode.Mode) float64 {
	if len(modes) == 0 {
		return 0
	}
	counts := make(map[mode.Mode]int)
	best := 0
	for _, m := range modes {
		counts[m]++
		if counts[m] > best {
			best = counts[m]
		}
	}
	return float64(best) / float64(len(modes))
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
