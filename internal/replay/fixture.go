package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string                 `json:"description"`
	Weights     *weights.RouterWeights `json:"weights,omitempty"`   // nil means the defaults
	Overrides   map[string]float64     `json:"overrides,omitempty"` // param name -> value, applied on top
	Decisions   []FixtureDecision      `json:"decisions"`
}

// FixtureDecision is one recorded routing decision. ExpectedMode, when set,
// is asserted by regression tests.
type FixtureDecision struct {
	ID           string                 `json:"id"`
	ThreadID     string                 `json:"thread_id,omitempty"`
	Topic        string                 `json:"topic,omitempty"`
	Signals      signals.RoutingSignals `json:"signals"`
	RecordedMode mode.Mode              `json:"recorded_mode,omitempty"`
	ExpectedMode mode.Mode              `json:"expected_mode,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// SaveFixture writes f as indented JSON.
func SaveFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// FromDecisions builds a fixture from audit decisions. Only initial-phase
// decisions are kept; terminal re-routes depend on ACT outcomes a replay
// cannot reproduce.
func FromDecisions(description string, ds []audit.Decision) *Fixture {
	f := &Fixture{Description: description}
	for _, d := range ds {
		if d.Phase != audit.PhaseInitial {
			continue
		}
		f.Decisions = append(f.Decisions, FixtureDecision{
			ID:           d.ID,
			ThreadID:     d.ThreadID,
			Topic:        d.Topic,
			Signals:      d.Signals,
			RecordedMode: d.Mode,
		})
	}
	return f
}

// RouterWeights resolves the fixture's weights: the embedded record or the
// defaults, with overrides applied.
func (f *Fixture) RouterWeights() (weights.RouterWeights, error) {
	w := weights.Default()
	if f.Weights != nil {
		w = f.Weights.Clone()
	}
	for name, v := range f.Overrides {
		if err := w.Set(name, v); err != nil {
			return w, fmt.Errorf("override %s: %w", name, err)
		}
	}
	return w, nil
}

// Cases converts the fixture decisions to replay cases.
func (f *Fixture) Cases() []Case {
	out := make([]Case, len(f.Decisions))
	for i, d := range f.Decisions {
		out[i] = Case{ID: d.ID, Topic: d.Topic, Signals: d.Signals, Recorded: d.RecordedMode, Expected: d.ExpectedMode}
	}
	return out
}

// #endregion fixture-loader
