package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/act"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// #region helpers
func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	require.NoError(t, err)
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func decision(thread string, m mode.Mode, at time.Time) Decision {
	return Decision{
		ThreadID:        thread,
		Topic:           thread + "#0",
		Mode:            m,
		RunnerUp:        mode.Clarify,
		Confidence:      0.4,
		Scores:          mode.Scores{m: 0.7, mode.Clarify: 0.42, mode.Act: 0.1},
		Margin:          0.28,
		EffectiveMargin: 0.15,
		Signals:         signals.RoutingSignals{ContextWarmth: 0.6, HasQuestionMark: true, ExplicitFeedback: signals.FeedbackAbsent},
		WeightsVersion:  "v1",
		RoutingTime:     3 * time.Millisecond,
		CreatedAt:       at,
	}
}

// #endregion helpers

// #region decision-tests
func TestRecordAndLoadDecision(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	d := decision("t1", mode.Respond, t0)
	d.Excluded = []mode.Mode{mode.Act}
	d.Phase = PhaseTerminal
	d.TiebreakerUsed = true
	d.TiebreakOutcome = "decided"
	saved, err := s.RecordDecision(ctx, d)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	got, err := s.Decision(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, mode.Respond, got.Mode)
	assert.Equal(t, mode.Clarify, got.RunnerUp)
	assert.Equal(t, PhaseTerminal, got.Phase)
	assert.True(t, got.TiebreakerUsed)
	assert.Equal(t, "decided", got.TiebreakOutcome)
	assert.Equal(t, []mode.Mode{mode.Act}, got.Excluded)
	assert.InDelta(t, 0.42, got.Scores[mode.Clarify], 1e-12)
	assert.Equal(t, 0.6, got.Signals.ContextWarmth)
	assert.True(t, got.Signals.HasQuestionMark)
	assert.Equal(t, 3*time.Millisecond, got.RoutingTime)
	assert.True(t, t0.Equal(got.CreatedAt))
	assert.Empty(t, got.Feedback)
}

func TestDecisionDefaults(t *testing.T) {
	s := newStore(t)
	d := decision("t1", mode.Respond, time.Time{})
	saved, err := s.RecordDecision(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, PhaseInitial, saved.Phase)
	assert.False(t, saved.CreatedAt.IsZero())
}

func TestDecisionNotFound(t *testing.T) {
	_, err := newStore(t).Decision(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFeedbackIsWriteOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d, err := s.RecordDecision(ctx, decision("t1", mode.Respond, t0))
	require.NoError(t, err)

	require.NoError(t, s.SetFeedback(ctx, d.ID, signals.FeedbackNegative))
	assert.ErrorIs(t, s.SetFeedback(ctx, d.ID, signals.FeedbackPositive), ErrFeedbackSet)

	got, err := s.Decision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, signals.FeedbackNegative, got.Feedback)

	assert.ErrorIs(t, s.SetFeedback(ctx, "missing", signals.FeedbackPositive), ErrNotFound)
	assert.Error(t, s.SetFeedback(ctx, d.ID, signals.FeedbackAbsent))
}

func TestDecisionQueries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		thread := "a"
		if i%2 == 1 {
			thread = "b"
		}
		_, err := s.RecordDecision(ctx, decision(thread, mode.Respond, t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	since, err := s.DecisionsSince(ctx, t0.Add(2*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, since, 3)
	assert.True(t, since[0].CreatedAt.Before(since[2].CreatedAt))

	limited, err := s.DecisionsSince(ctx, t0, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	recent, err := s.RecentDecisions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].CreatedAt.After(recent[1].CreatedAt))

	thread, err := s.ThreadDecisions(ctx, "b", t0)
	require.NoError(t, err)
	assert.Len(t, thread, 2)
}

func TestLastDecision(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.LastDecision(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RecordDecision(ctx, decision("a", mode.Respond, t0))
	require.NoError(t, err)
	_, err = s.RecordDecision(ctx, decision("b", mode.Ignore, t0.Add(time.Minute)))
	require.NoError(t, err)

	// initial and terminal rows of one exchange share a timestamp
	initial := decision("a", mode.Act, t0.Add(2*time.Minute))
	initial.ID = "z-initial"
	_, err = s.RecordDecision(ctx, initial)
	require.NoError(t, err)
	terminal := decision("a", mode.Acknowledge, t0.Add(2*time.Minute))
	terminal.ID = "a-terminal"
	terminal.Phase = PhaseTerminal
	_, err = s.RecordDecision(ctx, terminal)
	require.NoError(t, err)

	got, err := s.LastDecision(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a-terminal", got.ID)
	assert.Equal(t, PhaseTerminal, got.Phase)

	got, err = s.LastDecision(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, mode.Ignore, got.Mode)
}

func TestActWithinMargin(t *testing.T) {
	d := Decision{Mode: mode.Respond, EffectiveMargin: 0.15,
		Scores: mode.Scores{mode.Respond: 0.5, mode.Act: 0.4}}
	assert.True(t, d.ActWithinMargin())

	d.Scores[mode.Act] = 0.2
	assert.False(t, d.ActWithinMargin())

	d.Mode = mode.Act
	assert.False(t, d.ActWithinMargin())
}

// #endregion decision-tests

// #region iteration-tests
func TestRecordIterationsAndFatigue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	its := []act.Iteration{
		{CycleID: "c1", ThreadID: "t1", Number: 1, Cost: 0.66, FatigueAfter: 0.66, StartedAt: t0,
			Planned:  []act.Action{{Type: "search", Params: map[string]any{"q": "x"}}},
			Executed: []act.Result{{Action: act.Action{Type: "search"}, Status: act.StatusOK, Output: "hit"}}},
		{CycleID: "c1", ThreadID: "t1", Number: 2, Cost: 0, FatigueAfter: 0.66, StartedAt: t0.Add(time.Second),
			Termination: act.ReasonNoActions},
		{CycleID: "c0", ThreadID: "t1", Number: 1, Cost: 0.5, StartedAt: t0.Add(-2 * time.Hour)},
		{CycleID: "c2", ThreadID: "t2", Number: 1, Cost: 0.9, StartedAt: t0},
	}
	for _, it := range its {
		require.NoError(t, s.RecordIteration(ctx, it))
	}

	got, err := s.Iterations(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "search", got[0].Planned[0].Type)
	assert.Equal(t, "hit", got[0].Executed[0].Output)
	assert.Equal(t, act.ReasonNoActions, got[1].Termination)

	spent, err := s.FatigueSince(ctx, "t1", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.66, spent, 1e-12)

	none, err := s.FatigueSince(ctx, "nobody", t0)
	require.NoError(t, err)
	assert.Zero(t, none)

	recent, err := s.RecentIterations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].Number)

	assert.Error(t, s.RecordIteration(ctx, its[0]), "duplicate iteration must be rejected")
}

// #endregion iteration-tests

// #region pressure-tests
func TestPressureSignals(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p, err := s.RecordPressure(ctx, PressureSignal{Dimension: DimensionMisroute, Magnitude: 0.8,
		Source: "misroute_detector", Ref: "d1", CreatedAt: t0})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	_, err = s.RecordPressure(ctx, PressureSignal{Dimension: DimensionEntropy, Magnitude: 0.3,
		Source: "entropy_monitor", CreatedAt: t0.Add(-time.Hour)})
	require.NoError(t, err)

	_, err = s.RecordPressure(ctx, PressureSignal{Magnitude: 1})
	assert.Error(t, err)

	got, err := s.PressureSince(ctx, t0.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, DimensionMisroute, got[0].Dimension)
	assert.Equal(t, "d1", got[0].Ref)

	seen, err := s.HasPressure(ctx, "misroute_detector", "d1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = s.HasPressure(ctx, "misroute_detector", "d2")
	require.NoError(t, err)
	assert.False(t, seen)
}

// #endregion pressure-tests
