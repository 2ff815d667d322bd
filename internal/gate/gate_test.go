package gate

import (
	"testing"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/update"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func proposal(t *testing.T, param string, delta float64) (weights.Record, weights.RouterWeights, update.Metrics) {
	t.Helper()
	cur := weights.Record{VersionID: "v1", Weights: weights.Default()}
	next := cur.Weights.Clone()
	old, err := next.Get(param)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := next.Set(param, old+delta); err != nil {
		t.Fatalf("set: %v", err)
	}
	return cur, next, update.Metrics{Param: param, OldValue: old, NewValue: old + delta, Delta: delta}
}

func hasVeto(d GateDecision, v VetoType) bool {
	for _, s := range d.VetoSignals {
		if s.Type == v {
			return true
		}
	}
	return false
}

func TestGateCommitOnCleanProposal(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	cur, next, m := proposal(t, "margin.base", -0.01)

	d := g.Evaluate(cur, next, m, Context{ActiveVersionID: "v1", Now: now})
	if d.Action != "commit" || d.Vetoed {
		t.Fatalf("expected commit, got %s: %s", d.Action, d.Reason)
	}
	if d.SoftScore <= 0 || d.SoftScore > 1 {
		t.Errorf("soft score out of range: %v", d.SoftScore)
	}
}

func TestGateRejectOnCooldown(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	cur, next, m := proposal(t, "margin.base", -0.01)

	d := g.Evaluate(cur, next, m, Context{ActiveVersionID: "v1", LastAdjusted: now.Add(-47 * time.Hour), Now: now})
	if !hasVeto(d, VetoCooldown) {
		t.Fatalf("expected cooldown veto, got %s", d.Reason)
	}

	d = g.Evaluate(cur, next, m, Context{ActiveVersionID: "v1", LastAdjusted: now.Add(-49 * time.Hour), Now: now})
	if d.Vetoed {
		t.Fatalf("cooldown elapsed, got %s", d.Reason)
	}
}

func TestGateRevertSkipsCooldown(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	cur, next, m := proposal(t, "margin.base", 0.01)
	d := g.Evaluate(cur, next, m, Context{ActiveVersionID: "v1", LastAdjusted: now.Add(-time.Hour), Revert: true, Now: now})
	if d.Vetoed {
		t.Fatalf("revert should pass, got %s", d.Reason)
	}
}

func TestGateRejectOnDailyDelta(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	cur, next, m := proposal(t, "margin.base", 0.01)
	d := g.Evaluate(cur, next, m, Context{ActiveVersionID: "v1", SpentToday: 0.015, Revert: true, Now: now})
	if !hasVeto(d, VetoDailyDelta) {
		t.Fatalf("expected daily delta veto, got %s", d.Reason)
	}

	d = g.Evaluate(cur, next, m, Context{ActiveVersionID: "v1", SpentToday: 0.01, Now: now})
	if d.Vetoed {
		t.Fatalf("exactly at the limit should pass, got %s", d.Reason)
	}
}

func TestGateRejectOnStaleVersion(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	cur, next, m := proposal(t, "margin.base", -0.01)
	d := g.Evaluate(cur, next, m, Context{ActiveVersionID: "v2", Now: now})
	if !hasVeto(d, VetoStaleVersion) {
		t.Fatalf("expected stale version veto, got %s", d.Reason)
	}
}

func TestGateRejectOnBounds(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	cur, next, m := proposal(t, "margin.min", 0.01)
	next.Margin.Base = 0.9 // written around Set to simulate a corrupt proposal
	d := g.Evaluate(cur, next, m, Context{ActiveVersionID: "v1", Now: now})
	if !hasVeto(d, VetoBounds) {
		t.Fatalf("expected bounds veto, got %s", d.Reason)
	}
	if !hasVeto(d, VetoMultiParam) {
		t.Fatalf("expected multi-param veto, got %v", d.VetoSignals)
	}
}

func TestGateRejectOnNoChange(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	cur := weights.Record{VersionID: "v1", Weights: weights.Default()}
	d := g.Evaluate(cur, cur.Weights.Clone(), update.Metrics{Param: "margin.base"}, Context{ActiveVersionID: "v1", Now: now})
	if !hasVeto(d, VetoNoChange) {
		t.Fatalf("expected no-change veto, got %s", d.Reason)
	}
}

func TestSoftScore(t *testing.T) {
	if s := computeSoftScore(update.Metrics{Delta: 0.02}, 0.02); s < 0.299 || s > 0.301 {
		t.Errorf("full step score = %v, want 0.3", s)
	}
	if s := computeSoftScore(update.Metrics{Delta: 0.005}, 0.02); s < 0.82 || s > 0.83 {
		t.Errorf("quarter step score = %v, want 0.825", s)
	}
	if s := computeSoftScore(update.Metrics{Delta: 0.02, Clamped: true}, 0.02); s > 1e-9 {
		t.Errorf("clamped full step score = %v, want 0", s)
	}
}
