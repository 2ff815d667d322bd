package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/act"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/boundary"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/memory"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/router"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var (
	// exchangesTotal counts handled messages.
	// Labels: mode (terminal mode), act (true when an ACT cycle ran)
	exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "engine",
		Name:      "exchanges_total",
		Help:      "Handled messages by terminal mode",
	}, []string{"mode", "act"})

	exchangeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cogctl",
		Subsystem: "engine",
		Name:      "exchange_seconds",
		Help:      "Wall time from message to terminal mode",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	auditErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "engine",
		Name:      "audit_errors_total",
		Help:      "Routing decisions that could not be written",
	})
)

// #region engine
// threadState is what routing needs from a thread's previous message. The
// audit log is its source of truth; the cache only serves engines without
// one and reads that fail.
type threadState struct {
	previous   mode.Mode
	actUseless bool
}

// Engine runs the per-message pipeline: signals, topic boundary, routing,
// the ACT loop when selected, the terminal re-route and the audit write.
type Engine struct {
	weights   WeightsSource
	collector *signals.Collector
	memory    Memory
	tracker   *boundary.Tracker
	router    *router.Router
	loop      *act.Loop
	audit     *audit.Store
	threads   *lru.Cache[string, threadState]
	config    Config
	logger    *zap.Logger
}

// Deps are the engine's collaborators. Memory, Loop and Audit may be nil:
// without memory the detector runs on its cold-start path, without a loop
// ACT resolves straight to a terminal re-route, and without an audit store
// decisions are only logged.
type Deps struct {
	Weights   WeightsSource
	Collector *signals.Collector
	Memory    Memory
	Tracker   *boundary.Tracker
	Router    *router.Router
	Loop      *act.Loop
	Audit     *audit.Store
}

// New creates an Engine.
func New(deps Deps, config Config, logger *zap.Logger) (*Engine, error) {
	if deps.Weights == nil || deps.Collector == nil || deps.Router == nil {
		return nil, errors.New("engine: weights, collector and router are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracker == nil {
		deps.Tracker = boundary.NewTracker(nil, logger)
	}
	size := config.ThreadCache
	if size <= 0 {
		size = DefaultConfig().ThreadCache
	}
	threads, err := lru.New[string, threadState](size)
	if err != nil {
		return nil, fmt.Errorf("thread cache: %w", err)
	}
	return &Engine{
		weights:   deps.Weights,
		collector: deps.Collector,
		memory:    deps.Memory,
		tracker:   deps.Tracker,
		router:    deps.Router,
		loop:      deps.Loop,
		audit:     deps.Audit,
		threads:   threads,
		config:    config,
		logger:    logger.Named("engine"),
	}, nil
}

// #endregion engine

// #region handle
// Handle decides the terminal mode for one message. It never fails; the
// worst case is RESPOND with confidence 0.
func (e *Engine) Handle(ctx context.Context, msg Message) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline panic, falling back to RESPOND",
				zap.String("thread", msg.ThreadID), zap.Any("panic", r))
			resp = Response{Mode: mode.Respond, Reason: "internal fallback"}
		}
		exchangeLatency.Observe(time.Since(start).Seconds())
		exchangesTotal.WithLabelValues(string(resp.Mode), boolLabel(resp.Act != nil)).Inc()
	}()

	rec := e.weights.Current(ctx)
	ts := e.lastState(ctx, msg.ThreadID)

	probe := memory.Probe{BestMatch: math.NaN()}
	if e.memory != nil {
		probe = e.memory.Probe(ctx, msg.ThreadID, msg.Text)
	}
	isBoundary, st, diag := e.tracker.Observe(rec.Weights.Detector, msg.ThreadID, probe.Embedding, probe.BestMatch)
	topic := fmt.Sprintf("%s#%d", msg.ThreadID, st.TopicSeq)

	sig := e.collector.Collect(ctx, signals.CollectInput{
		ThreadID:        msg.ThreadID,
		Text:            msg.Text,
		PreviousMode:    ts.previous,
		PriorActUseless: ts.actUseless,
		IsNewTopic:      isBoundary,
		TopicConfidence: topicConfidence(diag),
	})

	res := e.router.Route(ctx, router.Request{Signals: sig, Weights: rec.Weights, Topic: topic})
	initial := e.record(ctx, msg, audit.PhaseInitial, topic, res, sig, rec, ts.previous, nil, time.Since(start))
	resp = Response{
		Mode:       res.Mode,
		Confidence: res.Confidence,
		Topic:      topic,
		Boundary:   isBoundary,
		Detector:   diag,
		Initial:    initial,
		Reason:     res.Reason,
	}
	next := threadState{previous: res.Mode}

	if res.Mode == mode.Act {
		resp, next = e.resolveAct(ctx, msg, resp, sig, rec, start)
	}

	e.threads.Add(msg.ThreadID, next)
	e.remember(ctx, msg, st.TopicSeq)
	return resp
}

// resolveAct runs the ACT loop and turns its outcome into a terminal mode.
func (e *Engine) resolveAct(
	ctx context.Context,
	msg Message,
	resp Response,
	sig signals.RoutingSignals,
	rec weights.Record,
	start time.Time,
) (Response, threadState) {
	var outcome act.Outcome
	if e.loop != nil {
		outcome = e.loop.Run(ctx, act.Input{ThreadID: msg.ThreadID, UserInput: msg.Text})
		resp.Act = &outcome
	} else {
		outcome = act.Outcome{Reason: act.ReasonNoActions, TerminalHint: mode.Respond}
	}
	next := threadState{previous: mode.Act, actUseless: outcome.Learned.Successes == 0}
	exclude := mode.NewSet(mode.Act)
	after := AfterAct(sig, outcome.Learned, e.config.WarmthBoost)

	if outcome.Reason == act.ReasonAwaitingConfirmation {
		res := router.Result{
			Mode:       mode.Clarify,
			Confidence: 1,
			Scores:     mode.Scores{},
			Reason:     "awaiting confirmation",
		}
		terminal := e.record(ctx, msg, audit.PhaseTerminal, resp.Topic, res, after, rec, mode.Act, exclude, time.Since(start))
		resp.Mode, resp.Confidence, resp.Terminal, resp.Reason = mode.Clarify, 1, &terminal, res.Reason
		return resp, next
	}

	res := e.router.Route(ctx, router.Request{Signals: after, Weights: rec.Weights, Topic: resp.Topic, Exclude: exclude})
	terminal := e.record(ctx, msg, audit.PhaseTerminal, resp.Topic, res, after, rec, mode.Act, exclude, time.Since(start))
	resp.Mode, resp.Confidence, resp.Terminal = res.Mode, res.Confidence, &terminal
	resp.Reason = fmt.Sprintf("act %s; %s", outcome.Reason, res.Reason)
	return resp, next
}

// lastState loads the previous exchange of a thread from the audit log.
func (e *Engine) lastState(ctx context.Context, threadID string) threadState {
	if e.audit != nil {
		rctx, cancel := context.WithTimeout(ctx, e.auditTimeout())
		defer cancel()
		d, err := e.audit.LastDecision(rctx, threadID)
		switch {
		case err == nil:
			return stateFromDecision(d)
		case errors.Is(err, audit.ErrNotFound):
			return threadState{}
		}
		auditErrors.Inc()
		e.logger.Warn("thread history unavailable, using local state",
			zap.String("thread", threadID), zap.Error(err))
	}
	ts, _ := e.threads.Get(threadID)
	return ts
}

// stateFromDecision rebuilds thread state from the last recorded decision.
// A terminal row always follows an ACT cycle and carries its fold-in.
func stateFromDecision(d audit.Decision) threadState {
	if d.Phase == audit.PhaseTerminal {
		return threadState{previous: mode.Act, actUseless: d.Signals.PriorActUseless}
	}
	return threadState{previous: d.Mode}
}

// #endregion handle

// #region after-act
// AfterAct updates the routing signals with what an ACT cycle learned.
// Productive cycles warm the context and mark world state as present; a
// cycle with no successful action marks ACT as useless for this exchange.
func AfterAct(sig signals.RoutingSignals, learned act.Learned, warmthBoost float64) signals.RoutingSignals {
	out := sig
	out.PreviousMode = mode.Act
	if learned.Successes > 0 {
		out.ContextWarmth = math.Min(1, sig.ContextWarmth+warmthBoost)
		out.WorldStatePresent = true
		out.PriorActUseless = false
		return out
	}
	out.PriorActUseless = true
	return out
}

// #endregion after-act

// #region helpers
func (e *Engine) record(
	ctx context.Context,
	msg Message,
	phase, topic string,
	res router.Result,
	sig signals.RoutingSignals,
	rec weights.Record,
	previous mode.Mode,
	exclude mode.Set,
	elapsed time.Duration,
) audit.Decision {
	d := audit.Decision{
		ThreadID:        msg.ThreadID,
		Topic:           topic,
		ExchangeID:      msg.ExchangeID,
		Phase:           phase,
		Mode:            res.Mode,
		RunnerUp:        res.RunnerUp,
		Confidence:      res.Confidence,
		Scores:          res.Scores,
		TiebreakerUsed:  res.TiebreakerUsed,
		TiebreakOutcome: res.Tiebreak,
		Margin:          res.Margin,
		EffectiveMargin: res.EffectiveMargin,
		Signals:         sig,
		WeightsVersion:  rec.VersionID,
		RoutingTime:     elapsed,
		PreviousMode:    previous,
		Excluded:        exclude.Slice(),
	}
	if e.audit == nil {
		return d
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.auditTimeout())
	defer cancel()
	saved, err := e.audit.RecordDecision(wctx, d)
	if err != nil {
		auditErrors.Inc()
		e.logger.Warn("routing decision not recorded",
			zap.String("thread", msg.ThreadID), zap.String("phase", phase), zap.Error(err))
		return d
	}
	return saved
}

func (e *Engine) auditTimeout() time.Duration {
	if e.config.AuditTimeout <= 0 {
		return DefaultConfig().AuditTimeout
	}
	return e.config.AuditTimeout
}

func (e *Engine) remember(ctx context.Context, msg Message, topicSeq int) {
	if e.memory == nil || !e.config.RememberAfter {
		return
	}
	if err := e.memory.Remember(ctx, msg.ThreadID, msg.Text, topicSeq); err != nil {
		e.logger.Warn("message not remembered", zap.String("thread", msg.ThreadID), zap.Error(err))
		return
	}
	e.collector.Invalidate(msg.ThreadID)
}

// topicConfidence is the best-match similarity when it is usable, and a
// neutral 0.5 otherwise.
func topicConfidence(diag boundary.Diagnostics) float64 {
	if diag.Path == boundary.PathInvalid || diag.Path == boundary.PathFirst {
		return 0.5
	}
	return math.Max(0, math.Min(1, diag.Similarity))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// #endregion helpers
