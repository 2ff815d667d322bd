package pressure

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// #region helpers
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *audit.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := audit.NewStore(db)
	require.NoError(t, err)
	return s
}

func record(t *testing.T, s *audit.Store, d audit.Decision) audit.Decision {
	t.Helper()
	if d.Scores == nil {
		d.Scores = mode.Scores{d.Mode: 0.6, mode.Act: 0.1}
	}
	if d.Phase == "" {
		d.Phase = audit.PhaseInitial
	}
	saved, err := s.RecordDecision(context.Background(), d)
	require.NoError(t, err)
	return saved
}

func dimensions(sigs []Signal) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.Dimension
	}
	return out
}

// #endregion helpers

// #region entropy-tests
func TestModeEntropy(t *testing.T) {
	bits, norm, dom := ModeEntropy([]mode.Mode{mode.Respond, mode.Respond, mode.Respond, mode.Respond})
	assert.Zero(t, bits)
	assert.Zero(t, norm)
	assert.Equal(t, mode.Respond, dom)

	bits, _, _ = ModeEntropy([]mode.Mode{mode.Respond, mode.Act})
	assert.InDelta(t, 1.0, bits, 1e-9)

	_, norm, _ = ModeEntropy(mode.All)
	assert.InDelta(t, 1.0, norm, 1e-9)

	bits, norm, dom = ModeEntropy(nil)
	assert.Zero(t, bits)
	assert.Zero(t, norm)
	assert.Empty(t, dom)
}

func TestEntropyCollapseEmitsPressure(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 20; i++ {
		record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Respond, CreatedAt: t0.Add(time.Duration(i) * time.Hour)})
	}
	cfg := DefaultConfig()
	rep, err := NewMonitor(s, cfg, nil).Scan(context.Background(), t0)
	require.NoError(t, err)

	require.Equal(t, []string{audit.DimensionEntropy}, dimensions(rep.Signals))
	assert.InDelta(t, 1.0, rep.Signals[0].Magnitude, 1e-9)
	assert.Equal(t, string(mode.Respond), rep.Signals[0].Ref)
}

func TestEntropyNeedsEnoughDecisions(t *testing.T) {
	s := newStore(t)
	record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Respond, CreatedAt: t0})
	rep, err := NewMonitor(s, DefaultConfig(), nil).Scan(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, rep.Signals)
}

// #endregion entropy-tests

// #region misroute-tests
func TestNegativeFollowupIsMisroute(t *testing.T) {
	s := newStore(t)
	first := record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Respond, CreatedAt: t0})
	record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Clarify, CreatedAt: t0.Add(time.Minute),
		Signals: signals.RoutingSignals{ExplicitFeedback: signals.FeedbackNegative}})

	m := NewMonitor(s, DefaultConfig(), nil)
	rep, err := m.Scan(context.Background(), t0)
	require.NoError(t, err)
	require.Equal(t, []string{audit.DimensionMisroute}, dimensions(rep.Signals))
	assert.Equal(t, first.ID, rep.Signals[0].Ref)
	assert.Equal(t, 1, rep.Feedback)

	got, err := s.Decision(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, signals.FeedbackNegative, got.Feedback)

	// rescanning the same window emits nothing new
	rep, err = m.Scan(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, rep.Signals)
}

func TestReaskAfterNonAnswer(t *testing.T) {
	s := newStore(t)
	first := record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Acknowledge, CreatedAt: t0})
	record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Respond, CreatedAt: t0.Add(30 * time.Second),
		Signals: signals.RoutingSignals{HasQuestionMark: true, ImplicitReference: true}})

	rep, err := NewMonitor(s, DefaultConfig(), nil).Scan(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, rep.Signals, 1)
	assert.Equal(t, 0.5, rep.Signals[0].Magnitude)
	assert.Zero(t, rep.Feedback, "re-asks do not write feedback by default")

	got, err := s.Decision(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Feedback)
}

func TestSlowFollowupIgnored(t *testing.T) {
	s := newStore(t)
	record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Respond, CreatedAt: t0})
	record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Respond, CreatedAt: t0.Add(time.Hour),
		Signals: signals.RoutingSignals{ExplicitFeedback: signals.FeedbackNegative}})

	rep, err := NewMonitor(s, DefaultConfig(), nil).Scan(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, rep.Signals)
}

func TestFollowupIsPerThread(t *testing.T) {
	s := newStore(t)
	record(t, s, audit.Decision{ThreadID: "a", Mode: mode.Respond, CreatedAt: t0})
	record(t, s, audit.Decision{ThreadID: "b", Mode: mode.Respond, CreatedAt: t0.Add(time.Second),
		Signals: signals.RoutingSignals{ExplicitFeedback: signals.FeedbackNegative}})

	rep, err := NewMonitor(s, DefaultConfig(), nil).Scan(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, rep.Signals)
}

func TestMissedContinuation(t *testing.T) {
	s := newStore(t)
	d := record(t, s, audit.Decision{ThreadID: "t", Mode: mode.Respond, CreatedAt: t0, EffectiveMargin: 0.2,
		Scores:  mode.Scores{mode.Respond: 0.5, mode.Act: 0.45},
		Signals: signals.RoutingSignals{Imperative: true}})
	// terminal phases are skipped
	record(t, s, audit.Decision{ThreadID: "u", Mode: mode.Respond, Phase: audit.PhaseTerminal, CreatedAt: t0,
		EffectiveMargin: 0.2, Scores: mode.Scores{mode.Respond: 0.5, mode.Act: 0.45},
		Signals: signals.RoutingSignals{Imperative: true}})

	rep, err := NewMonitor(s, DefaultConfig(), nil).Scan(context.Background(), t0)
	require.NoError(t, err)
	require.Equal(t, []string{audit.DimensionMissedContinuation}, dimensions(rep.Signals))
	assert.Equal(t, d.ID, rep.Signals[0].Ref)
	assert.InDelta(t, 0.75, rep.Signals[0].Magnitude, 1e-9)
}

func TestMissedContinuationHeuristic(t *testing.T) {
	base := audit.Decision{Mode: mode.Respond, EffectiveMargin: 0.1,
		Scores: mode.Scores{mode.Respond: 0.5, mode.Act: 0.5}, Signals: signals.RoutingSignals{Imperative: true}}
	sig, ok := missedContinuation(base)
	require.True(t, ok)
	assert.Equal(t, 1.0, sig.Magnitude)

	notImperative := base
	notImperative.Signals.Imperative = false
	_, ok = missedContinuation(notImperative)
	assert.False(t, ok)

	wide := base
	wide.Scores = mode.Scores{mode.Respond: 0.9, mode.Act: 0.1}
	_, ok = missedContinuation(wide)
	assert.False(t, ok)

	assert.False(t, math.IsNaN(sig.Magnitude))
}

// #endregion misroute-tests
