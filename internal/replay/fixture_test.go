package replay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// #region fixture-tests

// TestFixture_LiveSession loads the live_session fixture, re-routes it under
// the default weights and compares every decision with an expected mode.
// This is the primary regression test: if scoring or default weights drift,
// the clear-cut cases catch it.
func TestFixture_LiveSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "live_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	w, err := f.RouterWeights()
	if err != nil {
		t.Fatalf("RouterWeights: %v", err)
	}

	results, err := Replay(w, f.Cases())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(f.Decisions) {
		t.Fatalf("expected %d results, got %d", len(f.Decisions), len(results))
	}
	for _, r := range results {
		if r.Expected != mode.None && r.Mode != r.Expected {
			t.Errorf("%s: expected %s, got %s (scores %v)", r.ID, r.Expected, r.Mode, r.Scores)
		}
	}
	if s := Summarize(results); s.Mismatches != 0 {
		t.Errorf("expected no mismatches, got %d", s.Mismatches)
	}
}

func TestFixture_OverridesApply(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "live_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	f.Overrides = map[string]float64{"act.base": -1.0}
	w, err := f.RouterWeights()
	if err != nil {
		t.Fatalf("RouterWeights: %v", err)
	}
	if w.Modes[mode.Act].Base != -1.0 {
		t.Fatalf("override not applied: %v", w.Modes[mode.Act].Base)
	}

	f.Overrides = map[string]float64{"act.base": 5}
	if _, err := f.RouterWeights(); err == nil {
		t.Error("expected out-of-bounds override to fail")
	}
}

func TestFixture_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	ds := []audit.Decision{
		{ID: "a", ThreadID: "t1", Topic: "t1#0", Phase: audit.PhaseInitial, Mode: mode.Act,
			Signals: signals.RoutingSignals{Imperative: true}, CreatedAt: time.Now()},
		{ID: "b", ThreadID: "t1", Topic: "t1#0", Phase: audit.PhaseTerminal, Mode: mode.Respond},
	}
	if err := SaveFixture(path, FromDecisions("export", ds)); err != nil {
		t.Fatalf("SaveFixture: %v", err)
	}

	f, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(f.Decisions) != 1 {
		t.Fatalf("expected terminal decisions to be dropped, got %d", len(f.Decisions))
	}
	d := f.Decisions[0]
	if d.ID != "a" || d.RecordedMode != mode.Act || !d.Signals.Imperative {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestLoadFixture_Missing(t *testing.T) {
	if _, err := LoadFixture(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

// #endregion fixture-tests
