package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/pressure"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/router"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// #region types
// Case is one recorded signal snapshot to re-route.
type Case struct {
	ID       string
	Topic    string
	Signals  signals.RoutingSignals
	Recorded mode.Mode // mode chosen when the decision was made, if known
	Expected mode.Mode // mode a regression test expects, if any
}

// ReplayResult captures the outcome of re-routing one case.
type ReplayResult struct {
	ID              string      `json:"id"`
	Mode            mode.Mode   `json:"mode"`
	RunnerUp        mode.Mode   `json:"runner_up,omitempty"`
	Recorded        mode.Mode   `json:"recorded,omitempty"`
	Expected        mode.Mode   `json:"expected,omitempty"`
	Confidence      float64     `json:"confidence"`
	Margin          float64     `json:"margin"`
	EffectiveMargin float64     `json:"effective_margin"`
	CloseCall       bool        `json:"close_call"` // would have gone to the tie-breaker
	Changed         bool        `json:"changed"`    // differs from the recorded mode
	Scores          mode.Scores `json:"scores"`
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total        int               `json:"total"`
	Changed      int               `json:"changed"`
	CloseCalls   int               `json:"close_calls"`
	Mismatches   int               `json:"mismatches"` // results differing from Expected
	Distribution map[mode.Mode]int `json:"distribution"`
	Entropy      float64           `json:"entropy"` // normalized Shannon entropy of the modes
}

// #endregion types

// #region replay
// Replay re-routes every case in order under w without a tie-breaker, so
// the result is deterministic. Hysteresis runs per topic as it would live.
func Replay(w weights.RouterWeights, cases []Case) ([]ReplayResult, error) {
	rt, err := router.New(nil, router.DefaultConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("replay router: %w", err)
	}
	ctx := context.Background()
	results := make([]ReplayResult, 0, len(cases))
	for _, c := range cases {
		res := rt.Route(ctx, router.Request{Signals: c.Signals, Weights: w, Topic: c.Topic})
		results = append(results, ReplayResult{
			ID:              c.ID,
			Mode:            res.Mode,
			RunnerUp:        res.RunnerUp,
			Recorded:        c.Recorded,
			Expected:        c.Expected,
			Confidence:      res.Confidence,
			Margin:          res.Margin,
			EffectiveMargin: res.EffectiveMargin,
			CloseCall:       res.Tiebreak != router.TiebreakNone,
			Changed:         c.Recorded != mode.None && c.Recorded != res.Mode,
			Scores:          res.Scores,
		})
	}
	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{
		Total:        len(results),
		Distribution: make(map[mode.Mode]int),
	}
	modes := make([]mode.Mode, 0, len(results))
	for _, r := range results {
		s.Distribution[r.Mode]++
		modes = append(modes, r.Mode)
		if r.Changed {
			s.Changed++
		}
		if r.CloseCall {
			s.CloseCalls++
		}
		if r.Expected != mode.None && r.Expected != r.Mode {
			s.Mismatches++
		}
	}
	_, s.Entropy, _ = pressure.ModeEntropy(modes)
	return s
}

// Diff pairs two runs over the same cases and returns the cases whose mode
// differs, as (baseline, candidate) pairs.
func Diff(baseline, candidate []ReplayResult) [][2]ReplayResult {
	var out [][2]ReplayResult
	for i := range baseline {
		if i >= len(candidate) {
			break
		}
		if baseline[i].Mode != candidate[i].Mode {
			out = append(out, [2]ReplayResult{baseline[i], candidate[i]})
		}
	}
	return out
}

// #endregion replay
