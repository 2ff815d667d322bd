package regulator

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/logging"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// #region helpers
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ at time.Time }

func (c *clock) Now() time.Time          { return c.at }
func (c *clock) Advance(d time.Duration) { c.at = c.at.Add(d) }

type fixture struct {
	reg     *Regulator
	audit   *audit.Store
	weights *weights.Store
	initial weights.Record
	clock   *clock
}

func setup(t *testing.T, config Config) *fixture {
	t.Helper()
	ws, err := weights.NewStore(filepath.Join(t.TempDir(), "cogctl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	initial, err := ws.EnsureInitial(weights.Default())
	require.NoError(t, err)
	as, err := audit.NewStore(ws.DB())
	require.NoError(t, err)

	r, err := New(ws, as, nil, config, nil)
	require.NoError(t, err)
	clk := &clock{at: t0}
	r.now, r.history.now, r.lease.now = clk.Now, clk.Now, clk.Now
	return &fixture{reg: r, audit: as, weights: ws, initial: initial, clock: clk}
}

// seed records n initial decisions spread evenly over the five modes, so
// entropy stays at its maximum. Tie-break decisions have a margin below the
// effective margin.
func (f *fixture) seed(t *testing.T, at time.Time, n int, tiebreak func(i int) bool) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		d := audit.Decision{
			ThreadID:        "t1",
			Mode:            mode.All[i%len(mode.All)],
			Margin:          0.30,
			EffectiveMargin: 0.10,
			Scores:          mode.Scores{mode.Respond: 0.5, mode.Act: 0.1},
			CreatedAt:       at.Add(time.Duration(i) * time.Second),
		}
		if tiebreak(i) {
			d.Margin = 0.02
		}
		_, err := f.audit.RecordDecision(ctx, d)
		require.NoError(t, err)
	}
}

// seedCollapsed records n initial decisions that all pick m with a clear
// margin, so only the entropy metric is under pressure.
func (f *fixture) seedCollapsed(t *testing.T, at time.Time, n int, m mode.Mode) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.audit.RecordDecision(context.Background(), audit.Decision{
			ThreadID:        "t1",
			Mode:            m,
			Margin:          0.30,
			EffectiveMargin: 0.10,
			Scores:          mode.Scores{m: 0.5, mode.Clarify: 0.2},
			CreatedAt:       at.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
}

func always(int) bool { return true }
func never(int) bool  { return false }

func (f *fixture) param(t *testing.T, name string) float64 {
	t.Helper()
	cur, err := f.weights.GetCurrent()
	require.NoError(t, err)
	v, err := cur.Weights.Get(name)
	require.NoError(t, err)
	return v
}

// #endregion helpers

// #region metrics-tests
func TestComputePressures(t *testing.T) {
	config := DefaultConfig()
	var ds []audit.Decision
	for i := 0; i < 20; i++ {
		d := audit.Decision{Phase: audit.PhaseInitial, Mode: mode.Respond, Margin: 0.3, EffectiveMargin: 0.1,
			Scores: mode.Scores{mode.Respond: 0.5, mode.Act: 0.45}}
		if i < 4 {
			d.Feedback = signals.FeedbackNegative
		}
		if i < 2 {
			d.Signals.Imperative = true
		}
		ds = append(ds, d)
	}
	ds = append(ds, audit.Decision{Phase: audit.PhaseTerminal, Mode: mode.Act, Margin: 0})

	snap := Compute(Inputs{Decisions: ds, DisagreementRate: 0.9, Reviews: 2}, config)
	assert.Equal(t, 20, snap.Decisions)
	assert.InDelta(t, 0.2, snap.Values[audit.DimensionMisroute], 1e-9)
	assert.InDelta(t, 0.1, snap.Values[audit.DimensionMissedContinuation], 1e-9)
	assert.InDelta(t, 0, snap.Values[audit.DimensionTiebreak], 1e-9)
	// one mode only
	assert.InDelta(t, 1, snap.Pressures[audit.DimensionEntropy], 1e-9)
	assert.InDelta(t, (0.2-0.05)/0.25, snap.Pressures[audit.DimensionMisroute], 1e-9)
	assert.InDelta(t, (0.1-0.05)/0.25, snap.Pressures[audit.DimensionMissedContinuation], 1e-9)
	// too few reviews to count
	assert.Zero(t, snap.Pressures[audit.DimensionDisagreement])
}

func TestComputeAddsSignalMagnitude(t *testing.T) {
	config := DefaultConfig()
	var ds []audit.Decision
	for i := 0; i < 10; i++ {
		ds = append(ds, audit.Decision{Phase: audit.PhaseInitial, Mode: mode.All[i%5], Margin: 0.3, EffectiveMargin: 0.1})
	}
	sigs := []audit.PressureSignal{
		{Dimension: audit.DimensionMisroute, Magnitude: 1},
		{Dimension: audit.DimensionMisroute, Magnitude: 0.5},
	}
	snap := Compute(Inputs{Decisions: ds, Signals: sigs}, config)
	assert.InDelta(t, 0.5*0.75, snap.Pressures[audit.DimensionMisroute], 1e-9)
	assert.Zero(t, snap.Pressures[audit.DimensionTiebreak])
	assert.Zero(t, snap.Pressures[audit.DimensionEntropy])
}

func TestComputeEmpty(t *testing.T) {
	snap := Compute(Inputs{}, DefaultConfig())
	assert.Zero(t, snap.Decisions)
	assert.Empty(t, snap.Pressures)
}

func TestRankedBreaksTiesInFixedOrder(t *testing.T) {
	got := ranked(map[string]float64{
		audit.DimensionDisagreement: 1,
		audit.DimensionTiebreak:     1,
		audit.DimensionMisroute:     0.5,
	})
	assert.Equal(t, []string{
		audit.DimensionTiebreak, audit.DimensionDisagreement, audit.DimensionMisroute,
		audit.DimensionEntropy, audit.DimensionMissedContinuation,
	}, got)
}

// #endregion metrics-tests

// #region lease-tests
func TestLeaseExclusion(t *testing.T) {
	f := setup(t, DefaultConfig())
	ctx := context.Background()
	l := f.reg.lease

	ok, err := l.Acquire(ctx, LeaseName, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Acquire(ctx, LeaseName, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	// renewal by the holder
	ok, err = l.Acquire(ctx, LeaseName, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(2 * time.Minute)
	ok, err = l.Acquire(ctx, LeaseName, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, l.Release(ctx, LeaseName, "a"))
	ok, err = l.Acquire(ctx, LeaseName, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-holder is a no-op")
}

func TestRegulateSkipsWhenLeaseHeld(t *testing.T) {
	f := setup(t, DefaultConfig())
	f.seed(t, t0.Add(-time.Hour), 30, always)
	_, err := f.reg.lease.Acquire(context.Background(), LeaseName, "other", 10*time.Minute)
	require.NoError(t, err)

	res := f.reg.Regulate(context.Background())
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Equal(t, weights.Default().Margin.Base, f.param(t, "margin.base"))
}

// #endregion lease-tests

// #region regulate-tests
func TestRegulateInsufficientDecisions(t *testing.T) {
	f := setup(t, DefaultConfig())
	f.seed(t, t0.Add(-time.Hour), 5, always)

	res := f.reg.Regulate(context.Background())
	assert.Equal(t, ActionNoOp, res.Action)
	assert.Contains(t, res.Reason, "insufficient decisions")
}

func TestRegulateNoPressure(t *testing.T) {
	f := setup(t, DefaultConfig())
	f.seed(t, t0.Add(-time.Hour), 30, never)

	res := f.reg.Regulate(context.Background())
	assert.Equal(t, ActionNoOp, res.Action)
	assert.Equal(t, "no pressure above threshold", res.Reason)
}

func TestRegulateAdjustsWorstMetric(t *testing.T) {
	f := setup(t, DefaultConfig())
	f.seed(t, t0.Add(-time.Hour), 30, always)
	base := f.param(t, "margin.base")

	res := f.reg.Regulate(context.Background())
	require.Equal(t, ActionAdjusted, res.Action, res.Reason)
	require.NotNil(t, res.Adjustment)
	assert.Equal(t, "margin.base", res.Adjustment.Param)
	assert.Equal(t, audit.DimensionTiebreak, res.Adjustment.Metric)
	assert.InDelta(t, -0.02, res.Adjustment.Delta, 1e-9)
	assert.Equal(t, StatusPending, res.Adjustment.Status)
	assert.InDelta(t, base-0.02, f.param(t, "margin.base"), 1e-9)

	entries, err := logging.Recent(f.weights.DB(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "commit", entries[0].Decision)
	assert.Equal(t, res.Adjustment.VersionID, entries[0].VersionID)
}

func TestRegulateWaitsForVerification(t *testing.T) {
	f := setup(t, DefaultConfig())
	f.seed(t, t0.Add(-time.Hour), 30, always)
	require.Equal(t, ActionAdjusted, f.reg.Regulate(context.Background()).Action)

	f.clock.Advance(time.Hour)
	res := f.reg.Regulate(context.Background())
	assert.Equal(t, ActionNoOp, res.Action)
	assert.Contains(t, res.Reason, "verifying adjustment")
}

func TestRegulateRevertsWhenPressureDoesNotImprove(t *testing.T) {
	f := setup(t, DefaultConfig())
	ctx := context.Background()
	base := f.param(t, "margin.base")
	f.seed(t, t0.Add(-time.Hour), 30, always)
	first := f.reg.Regulate(ctx)
	require.Equal(t, ActionAdjusted, first.Action, first.Reason)

	f.clock.Advance(25 * time.Hour)
	f.seed(t, t0.Add(2*time.Hour), 30, always)

	res := f.reg.Regulate(ctx)
	require.Equal(t, ActionReverted, res.Action, res.Reason)
	require.NotNil(t, res.Adjustment)
	assert.Equal(t, KindRevert, res.Adjustment.Kind)
	assert.Equal(t, first.Adjustment.ID, res.Adjustment.RevertOf)
	assert.InDelta(t, 0.02, res.Adjustment.Delta, 1e-9)
	assert.InDelta(t, base, f.param(t, "margin.base"), 1e-9)

	hist, err := f.reg.History().Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	statuses := map[string]string{hist[0].ID: hist[0].Status, hist[1].ID: hist[1].Status}
	assert.Equal(t, StatusReverted, statuses[first.Adjustment.ID])
	assert.Equal(t, StatusApplied, statuses[res.Adjustment.ID])
}

func TestRegulateRevertsWhenEntropyDoesNotImprove(t *testing.T) {
	f := setup(t, DefaultConfig())
	ctx := context.Background()
	base := f.param(t, "respond.base")
	f.seedCollapsed(t, t0.Add(-time.Hour), 30, mode.Respond)

	first := f.reg.Regulate(ctx)
	require.Equal(t, ActionAdjusted, first.Action, first.Reason)
	require.NotNil(t, first.Adjustment)
	assert.Equal(t, audit.DimensionEntropy, first.Adjustment.Metric)
	assert.Equal(t, "respond.base", first.Adjustment.Param)
	assert.Less(t, f.param(t, "respond.base"), base)

	// routing stays collapsed on RESPOND after the change
	f.clock.Advance(25 * time.Hour)
	f.seedCollapsed(t, t0.Add(2*time.Hour), 30, mode.Respond)

	res := f.reg.Regulate(ctx)
	require.Equal(t, ActionReverted, res.Action, res.Reason)
	require.NotNil(t, res.Adjustment)
	assert.Equal(t, "respond.base", res.Adjustment.Param)
	assert.Equal(t, first.Adjustment.ID, res.Adjustment.RevertOf)
	assert.InDelta(t, base, f.param(t, "respond.base"), 1e-9)
}

func TestRegulateKeepsImprovingAdjustment(t *testing.T) {
	f := setup(t, DefaultConfig())
	ctx := context.Background()
	f.seed(t, t0.Add(-time.Hour), 30, always)
	first := f.reg.Regulate(ctx)
	require.Equal(t, ActionAdjusted, first.Action)

	f.clock.Advance(25 * time.Hour)
	f.seed(t, t0.Add(2*time.Hour), 30, never)

	res := f.reg.Regulate(ctx)
	assert.Equal(t, ActionNoOp, res.Action)
	assert.Equal(t, "no pressure above threshold", res.Reason)

	hist, err := f.reg.History().Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusKept, hist[0].Status)
	assert.False(t, hist[0].VerifiedAt.IsZero())
}

func TestRegulateRespectsCooldown(t *testing.T) {
	f := setup(t, DefaultConfig())
	ctx := context.Background()
	f.seed(t, t0.Add(-time.Hour), 30, func(i int) bool { return i%10 < 3 })
	first := f.reg.Regulate(ctx)
	require.Equal(t, ActionAdjusted, first.Action)
	require.Less(t, first.Adjustment.PressureBefore, 1.0)

	// calm right after the change, then tie-breaks return inside the cooldown
	f.clock.Advance(25 * time.Hour)
	f.seed(t, t0.Add(30*time.Minute), 60, never)
	f.seed(t, t0.Add(2*time.Hour), 30, func(i int) bool { return i%5 < 2 })

	res := f.reg.Regulate(ctx)
	assert.Equal(t, ActionNoOp, res.Action)
	assert.Equal(t, "1 pressured params in cooldown", res.Reason)

	hist, err := f.reg.History().Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusKept, hist[0].Status)
}

func TestRegulateRollsBackOnFailedEval(t *testing.T) {
	config := DefaultConfig()
	config.Eval.MaxRouteChange = -1
	f := setup(t, config)
	f.seed(t, t0.Add(-time.Hour), 30, always)

	res := f.reg.Regulate(context.Background())
	assert.Equal(t, ActionNoOp, res.Action)
	require.NotNil(t, res.Adjustment)
	assert.Equal(t, StatusRolledBack, res.Adjustment.Status)

	cur, err := f.weights.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, f.initial.VersionID, cur.VersionID)

	// the parameter moved out and back inside the window
	spent, err := f.reg.History().SpentSince(context.Background(), res.Adjustment.Param, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Abs(res.Adjustment.Delta), spent, 1e-12)
}

func TestManualRollback(t *testing.T) {
	f := setup(t, DefaultConfig())
	ctx := context.Background()
	f.seed(t, t0.Add(-time.Hour), 30, always)
	require.Equal(t, ActionAdjusted, f.reg.Regulate(ctx).Action)

	require.NoError(t, f.reg.Rollback(ctx, f.initial.VersionID))
	cur, err := f.weights.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, f.initial.VersionID, cur.VersionID)

	entries, err := logging.Recent(f.weights.DB(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manual", entries[0].TriggerType)

	_, err = f.reg.lease.Acquire(ctx, LeaseName, "other", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, f.reg.Rollback(ctx, f.initial.VersionID), ErrLeaseHeld)
}

// #endregion regulate-tests

// #region property-tests
func TestBoundsAndDailyLimitHoldOverManyCycles(t *testing.T) {
	config := DefaultConfig()
	config.Gate.Cooldown = 0
	config.VerifyAfter = time.Hour
	config.MetricsWindow = 3 * time.Hour
	f := setup(t, config)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	versions := 1
	for cycle := 0; cycle < 200; cycle++ {
		rate := rng.Float64()
		f.seed(t, f.clock.Now().Add(-30*time.Minute), 20, func(int) bool { return rng.Float64() < rate })

		res := f.reg.Regulate(ctx)
		assert.NotEqual(t, ActionConflict, res.Action)

		cur, err := f.weights.GetCurrent()
		require.NoError(t, err)
		require.NoError(t, cur.Weights.Validate(), "cycle %d", cycle)

		all, err := f.weights.ListVersions(1000)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(all)-versions, 1, "at most one write per cycle")
		versions = len(all)

		f.clock.Advance(time.Hour)
	}

	hist, err := f.reg.History().Recent(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hist)
	for _, a := range hist {
		spent := 0.0
		for _, b := range hist {
			if b.Param == a.Param && b.CreatedAt.After(a.CreatedAt.Add(-24*time.Hour)) && !b.CreatedAt.After(a.CreatedAt) {
				spent += math.Abs(b.Delta)
			}
		}
		assert.LessOrEqual(t, spent, config.Update.MaxDailyDelta+1e-9, "param %s at %s", a.Param, a.CreatedAt)
	}
}

// #endregion property-tests
