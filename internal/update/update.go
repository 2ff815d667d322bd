package update

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// deltaEpsilon treats smaller changes as no change.
const deltaEpsilon = 1e-12

// #region update-function
// Update is a pure function that moves one parameter by a pressure-scaled
// step. spentToday is the |change| already applied to the parameter in the
// last 24h; the step never pushes that total past MaxDailyDelta.
func Update(old weights.RouterWeights, p Proposal, spentToday float64, config UpdateConfig) UpdateResult {
	pressure := math.Max(0, math.Min(1, p.Pressure))
	dir := 1.0
	if p.Direction < 0 {
		dir = -1.0
	}
	requested := dir * math.Min(config.MaxDailyDelta, pressure*config.MaxDailyDelta)
	return apply(old, p.Param, requested, spentToday, config)
}

// Revert computes the step that moves param back to target, under the same
// daily limit as any other change. A revert that does not fit is a no_op.
func Revert(old weights.RouterWeights, param string, target, spentToday float64, config UpdateConfig) UpdateResult {
	cur, err := old.Get(param)
	if err != nil {
		return UpdateResult{NewWeights: old.Clone(), Decision: Decision{Action: "no_op", Reason: err.Error()}}
	}
	need := target - cur
	if math.Abs(need) > config.MaxDailyDelta-spentToday+deltaEpsilon {
		return UpdateResult{
			NewWeights: old.Clone(),
			Decision: Decision{Action: "no_op", Reason: fmt.Sprintf(
				"revert of %.4f exceeds daily remaining %.4f", math.Abs(need), config.MaxDailyDelta-spentToday)},
			Metrics: Metrics{Param: param, OldValue: cur, NewValue: cur, Requested: need},
		}
	}
	return apply(old, param, need, spentToday, config)
}

func apply(old weights.RouterWeights, param string, requested, spentToday float64, config UpdateConfig) UpdateResult {
	next := old.Clone()
	cur, err := next.Get(param)
	if err != nil {
		return UpdateResult{NewWeights: next, Decision: Decision{Action: "no_op", Reason: err.Error()}}
	}

	remaining := math.Max(0, config.MaxDailyDelta-spentToday)
	m := Metrics{Param: param, OldValue: cur, NewValue: cur, Requested: requested, Remaining: remaining}

	step := requested
	if math.Abs(step) > remaining {
		step = math.Copysign(remaining, step)
	}
	target := weights.Clamp(param, cur+step)
	m.Clamped = target != cur+step
	m.Delta = target - cur
	m.NewValue = target

	if math.Abs(m.Delta) < deltaEpsilon {
		reason := "no change"
		switch {
		case remaining <= 0:
			reason = "daily delta exhausted"
		case m.Clamped:
			reason = "parameter at bound"
		}
		m.Delta, m.NewValue = 0, cur
		return UpdateResult{NewWeights: next, Decision: Decision{Action: "no_op", Reason: reason}, Metrics: m}
	}

	if err := next.Set(param, target); err != nil {
		return UpdateResult{NewWeights: old.Clone(), Decision: Decision{Action: "no_op", Reason: err.Error()}, Metrics: m}
	}
	return UpdateResult{
		NewWeights: next,
		Decision: Decision{
			Action: "commit",
			Reason: fmt.Sprintf("%s %.4f -> %.4f (delta %+.4f)", param, cur, target, m.Delta),
		},
		Metrics: m,
	}
}

// #endregion update-function
