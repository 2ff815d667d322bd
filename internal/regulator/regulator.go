package regulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/eval"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/gate"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/logging"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/review"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/update"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// LeaseName is the lease every regulation cycle and manual rollback holds.
const LeaseName = "regulator"

// ErrLeaseHeld is returned by operator actions while a cycle is running.
var ErrLeaseHeld = errors.New("regulator: lease held by another process")

// #region regulator
// Regulator is the only writer of RouterWeights. Each cycle makes at most
// one weights write.
type Regulator struct {
	weights *weights.Store
	audit   *audit.Store
	reviews *review.Store
	history *History
	lease   *Lease
	gate    *gate.Gate
	eval    *eval.EvalHarness
	config  Config
	logger  *zap.Logger
	holder  string
	now     func() time.Time
}

// New creates a Regulator. History, lease and provenance tables live in the
// weights database. reviews may be nil, in which case disagreement is 0.
func New(ws *weights.Store, as *audit.Store, reviews *review.Store, config Config, logger *zap.Logger) (*Regulator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := ws.DB()
	history, err := NewHistory(db)
	if err != nil {
		return nil, err
	}
	lease, err := NewLease(db)
	if err != nil {
		return nil, err
	}
	if err := logging.Migrate(db); err != nil {
		return nil, err
	}
	return &Regulator{
		weights: ws,
		audit:   as,
		reviews: reviews,
		history: history,
		lease:   lease,
		gate:    gate.NewGate(config.Gate),
		eval:    eval.NewEvalHarness(config.Eval),
		config:  config,
		logger:  logger.Named("regulator"),
		holder:  uuid.New().String(),
		now:     time.Now,
	}, nil
}

// History exposes the adjustment history for inspection.
func (r *Regulator) History() *History {
	return r.history
}

// Regulate runs one regulation cycle. Failures become skipped or no_op
// results; nothing is returned as an error.
func (r *Regulator) Regulate(ctx context.Context) Result {
	ok, err := r.lease.Acquire(ctx, LeaseName, r.holder, r.config.LeaseTTL)
	if err != nil {
		r.logger.Warn("lease unavailable", zap.Error(err))
		return r.finish(Result{Action: ActionSkipped, Reason: "lease unavailable: " + err.Error()})
	}
	if !ok {
		return r.finish(Result{Action: ActionSkipped, Reason: "lease held by another regulator"})
	}
	defer func() {
		if err := r.lease.Release(context.WithoutCancel(ctx), LeaseName, r.holder); err != nil {
			r.logger.Warn("lease release failed", zap.Error(err))
		}
	}()
	return r.finish(r.cycle(ctx))
}

func (r *Regulator) finish(res Result) Result {
	cyclesTotal.WithLabelValues(string(res.Action)).Inc()
	for metric, p := range res.Metrics.Pressures {
		pressureGauge.WithLabelValues(metric).Set(p)
	}
	fields := []zap.Field{zap.String("action", string(res.Action)), zap.String("reason", res.Reason)}
	if a := res.Adjustment; a != nil {
		fields = append(fields, zap.String("param", a.Param), zap.Float64("delta", a.Delta), zap.String("status", a.Status))
	}
	r.logger.Info("regulation cycle", fields...)
	return res
}

func (r *Regulator) cycle(ctx context.Context) Result {
	now := r.now()
	current, err := r.weights.GetCurrent()
	if err != nil {
		return r.fail("load weights", err)
	}

	pending, err := r.history.Pending(ctx)
	if err != nil {
		return r.fail("load pending adjustment", err)
	}
	if pending != nil {
		if res, done := r.verify(ctx, current, *pending, now); done {
			return res
		}
	}

	snap, samples, err := r.gather(ctx, now.Add(-r.config.MetricsWindow))
	if err != nil {
		return r.fail("gather metrics", err)
	}
	if snap.Decisions < r.config.MinDecisions {
		return Result{Action: ActionNoOp, Metrics: snap,
			Reason: fmt.Sprintf("insufficient decisions: %d < %d", snap.Decisions, r.config.MinDecisions)}
	}
	return r.adjust(ctx, current, snap, samples, now)
}

func (r *Regulator) fail(what string, err error) Result {
	r.logger.Error(what, zap.Error(err))
	return Result{Action: ActionNoOp, Reason: fmt.Sprintf("%s: %v", what, err)}
}

// #endregion regulator

// #region gather
// gather computes the metric snapshot from evidence recorded since a point
// in time, and returns the signal snapshots of those decisions for eval.
func (r *Regulator) gather(ctx context.Context, since time.Time) (Snapshot, []signals.RoutingSignals, error) {
	decisions, err := r.audit.DecisionsSince(ctx, since, 0)
	if err != nil {
		return Snapshot{}, nil, err
	}
	sigs, err := r.audit.PressureSince(ctx, since)
	if err != nil {
		return Snapshot{}, nil, err
	}
	in := Inputs{Decisions: decisions, Signals: sigs}
	if r.reviews != nil {
		if in.DisagreementRate, in.Reviews, err = r.reviews.DisagreementRate(ctx, since); err != nil {
			return Snapshot{}, nil, err
		}
	}

	var samples []signals.RoutingSignals
	for _, d := range decisions {
		if d.Phase == audit.PhaseInitial {
			samples = append(samples, d.Signals)
		}
	}
	return Compute(in, r.config), samples, nil
}

// #endregion gather

// #region verify
// verify judges the pending adjustment once it is old enough. It reports
// done when the cycle must stop here; a kept adjustment lets the cycle go on.
func (r *Regulator) verify(ctx context.Context, current weights.Record, p Adjustment, now time.Time) (Result, bool) {
	if now.Sub(p.CreatedAt) < r.config.VerifyAfter {
		return Result{Action: ActionNoOp, Adjustment: &p,
			Reason: fmt.Sprintf("verifying adjustment %s of %s", p.ID, p.Param)}, true
	}

	snap, _, err := r.gather(ctx, p.CreatedAt)
	if err != nil {
		return r.fail("gather verification metrics", err), true
	}
	if snap.Decisions < r.config.MinDecisions {
		return Result{Action: ActionNoOp, Adjustment: &p, Metrics: snap,
			Reason: fmt.Sprintf("awaiting evidence for adjustment %s: %d decisions", p.ID, snap.Decisions)}, true
	}

	after := snap.Pressures[p.Metric]
	if after < p.PressureBefore {
		if err := r.history.Resolve(ctx, p.ID, StatusKept, after); err != nil {
			return r.fail("resolve adjustment", err), true
		}
		r.logger.Info("adjustment kept",
			zap.String("id", p.ID), zap.String("metric", p.Metric),
			zap.Float64("before", p.PressureBefore), zap.Float64("after", after))
		return Result{}, false
	}
	return r.revert(ctx, current, p, after, snap, now), true
}

func (r *Regulator) revert(ctx context.Context, current weights.Record, p Adjustment, after float64, snap Snapshot, now time.Time) Result {
	rec := logging.RegulationRecord{
		CycleID:   uuid.New().String(),
		Metrics:   snap.Values,
		Pressures: snap.Pressures,
		Decisions: snap.Decisions,
		Metric:    p.Metric,
		Param:     p.Param,
		ParentID:  current.VersionID,
		Verifying: p.ID,
	}

	cur, err := current.Weights.Get(p.Param)
	if err != nil {
		return r.fail("read param", err)
	}
	if math.Abs(cur-p.OldValue) < 1e-12 {
		if err := r.history.Resolve(ctx, p.ID, StatusReverted, after); err != nil {
			return r.fail("resolve adjustment", err)
		}
		return Result{Action: ActionNoOp, Adjustment: &p, Metrics: snap,
			Reason: fmt.Sprintf("%s already at prior value %.4f", p.Param, p.OldValue)}
	}

	spent, err := r.history.SpentSince(ctx, p.Param, now.Add(-24*time.Hour))
	if err != nil {
		return r.fail("daily spend", err)
	}
	ur := update.Revert(current.Weights, p.Param, p.OldValue, spent, r.config.Update)
	r.fillUpdate(&rec, ur.Metrics)
	if ur.Decision.Action != "commit" {
		reason := "revert deferred: " + ur.Decision.Reason
		r.provenance(current.VersionID, "revert", "no_op", reason, p.ID, rec)
		return Result{Action: ActionNoOp, Adjustment: &p, Metrics: snap, Reason: reason}
	}

	last, err := r.history.LastAdjusted(ctx, p.Param)
	if err != nil {
		return r.fail("last adjusted", err)
	}
	gd := r.gate.Evaluate(current, ur.NewWeights, ur.Metrics, gate.Context{
		ActiveVersionID: r.activeID(current),
		LastAdjusted:    last,
		SpentToday:      spent,
		Revert:          true,
		Now:             now,
	})
	rec.GateAction, rec.GateReason, rec.GateSoftScore = gd.Action, gd.Reason, gd.SoftScore
	if gd.Action != "commit" {
		reason := "revert rejected: " + gd.Reason
		r.provenance(current.VersionID, "revert", "reject", reason, p.ID, rec)
		return Result{Action: ActionNoOp, Adjustment: &p, Metrics: snap, Reason: reason}
	}

	reason := fmt.Sprintf("revert %s: %s pressure %.3f did not improve on %.3f", p.ID, p.Metric, after, p.PressureBefore)
	committed, err := r.weights.Commit(current.VersionID, ur.NewWeights, marshal(rec), reason)
	if errors.Is(err, weights.ErrVersionConflict) {
		return Result{Action: ActionConflict, Metrics: snap, Reason: "version conflict on revert"}
	}
	if err != nil {
		return r.fail("commit revert", err)
	}

	adj, err := r.history.Record(ctx, Adjustment{
		Kind:           KindRevert,
		Metric:         p.Metric,
		Param:          p.Param,
		OldValue:       ur.Metrics.OldValue,
		NewValue:       ur.Metrics.NewValue,
		Delta:          ur.Metrics.Delta,
		PressureBefore: after,
		VersionID:      committed.VersionID,
		ParentID:       current.VersionID,
		RevertOf:       p.ID,
		Status:         StatusApplied,
		CreatedAt:      now,
	})
	if err != nil {
		return r.fail("record revert", err)
	}
	if err := r.history.Resolve(ctx, p.ID, StatusReverted, after); err != nil {
		return r.fail("resolve adjustment", err)
	}
	deltaHistogram.WithLabelValues(adj.Param, adj.Kind).Observe(math.Abs(adj.Delta))
	r.provenance(committed.VersionID, "revert", "commit", reason, p.ID, rec)
	return Result{Action: ActionReverted, Adjustment: &adj, Metrics: snap, Reason: reason}
}

// #endregion verify

// #region adjust
// adjust walks metrics from the highest pressure down and moves the first
// parameter that is out of cooldown.
func (r *Regulator) adjust(ctx context.Context, current weights.Record, snap Snapshot, samples []signals.RoutingSignals, now time.Time) Result {
	cooling := 0
	for _, metric := range ranked(snap.Pressures) {
		pressure := snap.Pressures[metric]
		if pressure <= r.config.MinPressure {
			break
		}
		target := Targets[metric]
		last, err := r.history.LastAdjusted(ctx, target.Param)
		if err != nil {
			return r.fail("last adjusted", err)
		}
		if !last.IsZero() && now.Sub(last) < r.config.Gate.Cooldown {
			cooling++
			continue
		}
		return r.apply(ctx, current, snap, samples, metric, target, last, now)
	}
	if cooling > 0 {
		return Result{Action: ActionNoOp, Metrics: snap, Reason: fmt.Sprintf("%d pressured params in cooldown", cooling)}
	}
	return Result{Action: ActionNoOp, Metrics: snap, Reason: "no pressure above threshold"}
}

func (r *Regulator) apply(
	ctx context.Context,
	current weights.Record,
	snap Snapshot,
	samples []signals.RoutingSignals,
	metric string,
	target Target,
	last time.Time,
	now time.Time,
) Result {
	pressure := snap.Pressures[metric]
	rec := logging.RegulationRecord{
		CycleID:   uuid.New().String(),
		Metrics:   snap.Values,
		Pressures: snap.Pressures,
		Decisions: snap.Decisions,
		Metric:    metric,
		Param:     target.Param,
		ParentID:  current.VersionID,
	}

	spent, err := r.history.SpentSince(ctx, target.Param, now.Add(-24*time.Hour))
	if err != nil {
		return r.fail("daily spend", err)
	}
	ur := update.Update(current.Weights, update.Proposal{
		Metric:    metric,
		Param:     target.Param,
		Direction: target.Direction,
		Pressure:  pressure,
	}, spent, r.config.Update)
	r.fillUpdate(&rec, ur.Metrics)
	if ur.Decision.Action != "commit" {
		r.provenance(current.VersionID, "regulator", "no_op", ur.Decision.Reason, "", rec)
		return Result{Action: ActionNoOp, Metrics: snap, Reason: fmt.Sprintf("%s: %s", target.Param, ur.Decision.Reason)}
	}

	gd := r.gate.Evaluate(current, ur.NewWeights, ur.Metrics, gate.Context{
		ActiveVersionID: r.activeID(current),
		LastAdjusted:    last,
		SpentToday:      spent,
		Now:             now,
	})
	rec.GateAction, rec.GateReason, rec.GateSoftScore = gd.Action, gd.Reason, gd.SoftScore
	if gd.Action != "commit" {
		r.provenance(current.VersionID, "regulator", "reject", gd.Reason, "", rec)
		return Result{Action: ActionNoOp, Metrics: snap, Reason: "gate: " + gd.Reason}
	}

	reason := fmt.Sprintf("%s pressure %.3f: %s", metric, pressure, ur.Decision.Reason)
	committed, err := r.weights.Commit(current.VersionID, ur.NewWeights, marshal(rec), reason)
	if errors.Is(err, weights.ErrVersionConflict) {
		return Result{Action: ActionConflict, Metrics: snap, Reason: "version conflict on commit"}
	}
	if err != nil {
		return r.fail("commit", err)
	}

	ev := r.eval.Run(committed.Weights, current.Weights, samples)
	passed := ev.Passed
	rec.EvalPassed, rec.EvalReason = &passed, ev.Reason

	adj := Adjustment{
		Kind:           KindAdjust,
		Metric:         metric,
		Param:          target.Param,
		OldValue:       ur.Metrics.OldValue,
		NewValue:       ur.Metrics.NewValue,
		Delta:          ur.Metrics.Delta,
		PressureBefore: pressure,
		VersionID:      committed.VersionID,
		ParentID:       current.VersionID,
		Status:         StatusPending,
		CreatedAt:      now,
	}
	if !ev.Passed {
		if err := r.weights.Rollback(current.VersionID, committed.VersionID); err != nil {
			r.logger.Error("rollback after failed eval", zap.String("version", committed.VersionID), zap.Error(err))
			if errors.Is(err, weights.ErrVersionConflict) {
				return Result{Action: ActionConflict, Metrics: snap, Reason: "version conflict on rollback"}
			}
			return r.fail("rollback", err)
		}
		adj.Status = StatusRolledBack
		if adj, err = r.history.Record(ctx, adj); err != nil {
			return r.fail("record adjustment", err)
		}
		r.provenance(current.VersionID, "rollback", "rollback", ev.Reason, committed.VersionID, rec)
		return Result{Action: ActionNoOp, Adjustment: &adj, Metrics: snap, Reason: ev.Reason}
	}

	if adj, err = r.history.Record(ctx, adj); err != nil {
		return r.fail("record adjustment", err)
	}
	deltaHistogram.WithLabelValues(adj.Param, adj.Kind).Observe(math.Abs(adj.Delta))
	r.provenance(committed.VersionID, "regulator", "commit", reason, "", rec)
	return Result{Action: ActionAdjusted, Adjustment: &adj, Metrics: snap, Reason: reason}
}

// ranked orders metrics by descending pressure, ties in fixed metric order.
func ranked(pressures map[string]float64) []string {
	out := append([]string(nil), metricOrder...)
	sort.SliceStable(out, func(i, j int) bool {
		return pressures[out[i]] > pressures[out[j]]
	})
	return out
}

// #endregion adjust

// #region rollback
// Rollback makes targetID the active version again. It holds the lease so
// it cannot interleave with a cycle, and goes through the same
// compare-and-swap as every other write.
func (r *Regulator) Rollback(ctx context.Context, targetID string) error {
	ok, err := r.lease.Acquire(ctx, LeaseName, r.holder, r.config.LeaseTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseHeld
	}
	defer func() {
		if err := r.lease.Release(context.WithoutCancel(ctx), LeaseName, r.holder); err != nil {
			r.logger.Warn("lease release failed", zap.Error(err))
		}
	}()

	current, err := r.weights.GetCurrent()
	if err != nil {
		return err
	}
	if err := r.weights.Rollback(targetID, current.VersionID); err != nil {
		return fmt.Errorf("rollback to %s: %w", targetID, err)
	}
	reason := fmt.Sprintf("manual rollback from %s", current.VersionID)
	r.provenance(targetID, "manual", "rollback", reason, current.VersionID, logging.RegulationRecord{
		CycleID:  uuid.New().String(),
		ParentID: current.VersionID,
	})
	r.logger.Info("manual rollback", zap.String("from", current.VersionID), zap.String("to", targetID))
	return nil
}

// #endregion rollback

// #region helpers
func (r *Regulator) activeID(fallback weights.Record) string {
	active, err := r.weights.GetCurrent()
	if err != nil {
		return fallback.VersionID
	}
	return active.VersionID
}

func (r *Regulator) fillUpdate(rec *logging.RegulationRecord, m update.Metrics) {
	rec.OldValue, rec.NewValue, rec.Delta = m.OldValue, m.NewValue, m.Delta
}

func (r *Regulator) provenance(versionID, trigger, decision, reason, refs string, rec logging.RegulationRecord) {
	err := logging.LogDecision(r.weights.DB(), logging.ProvenanceEntry{
		VersionID:    versionID,
		TriggerType:  trigger,
		SignalsJSON:  marshal(rec),
		EvidenceRefs: refs,
		Decision:     decision,
		Reason:       reason,
		CreatedAt:    r.now(),
	})
	if err != nil {
		r.logger.Warn("provenance not written", zap.Error(err))
	}
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// #endregion helpers
