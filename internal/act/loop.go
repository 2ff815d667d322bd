package act

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/critic"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
)

// prevPlaceholder in a string param is replaced with the previous
// successful action's output.
const prevPlaceholder = "{{prev}}"

// #region loop
// Deps are the collaborators of a Loop. Planner and Executor are required.
type Deps struct {
	Planner  Planner
	Executor Executor
	Registry *Registry
	Critic   critic.Critic
	Recorder Recorder
	Ledger   FatigueLedger
}

// Loop runs bounded plan, execute, observe cycles.
type Loop struct {
	planner  Planner
	executor Executor
	registry *Registry
	critic   critic.Critic
	recorder Recorder
	ledger   FatigueLedger
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewLoop creates a Loop. A nil Registry means DefaultRegistry; a nil
// Critic means the heuristic critic.
func NewLoop(deps Deps, config Config, logger *zap.Logger) (*Loop, error) {
	if deps.Planner == nil || deps.Executor == nil {
		return nil, errors.New("act: planner and executor are required")
	}
	if config.MaxIterations <= 0 || config.MaxDuration <= 0 || config.FatigueBudget <= 0 {
		return nil, fmt.Errorf("act: invalid bounds %+v", config)
	}
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	if deps.Critic == nil {
		deps.Critic = critic.Heuristic{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		planner:  deps.Planner,
		executor: deps.Executor,
		registry: deps.Registry,
		critic:   deps.Critic,
		recorder: deps.Recorder,
		ledger:   deps.Ledger,
		config:   config,
		logger:   logger.Named("act"),
		now:      time.Now,
	}, nil
}

// Input starts a cycle.
type Input struct {
	ThreadID  string
	UserInput string
}

// cycle is the mutable state of one Run.
type cycle struct {
	in      Input
	start   time.Time
	out     Outcome
	rep     repetition
	prev    string
	hasPrev bool
}

// Run executes one cycle. It always terminates, with the reason set on
// the last recorded iteration and on the Outcome.
func (l *Loop) Run(ctx context.Context, in Input) Outcome {
	c := &cycle{
		in:    in,
		start: l.now(),
		rep:   repetition{limit: l.config.RepetitionLimit},
	}
	c.out.CycleID = uuid.New().String()
	c.out.Fatigue = l.carriedFatigue(ctx, in.ThreadID, c.start)
	carried := c.out.Fatigue

	runCtx, cancel := context.WithTimeout(ctx, l.config.MaxDuration)
	defer cancel()

	for n := 1; ; n++ {
		it := Iteration{
			CycleID:   c.out.CycleID,
			ThreadID:  in.ThreadID,
			Number:    n,
			StartedAt: l.now(),
		}
		it.Termination = l.iterate(ctx, runCtx, c, &it)
		it.FatigueAfter = c.out.Fatigue
		it.Duration = l.now().Sub(it.StartedAt)
		c.out.History = append(c.out.History, it)
		l.record(ctx, it)

		if it.Termination != ReasonNone {
			c.out.Reason = it.Termination
			break
		}
	}

	c.out.TerminalHint = mode.Respond
	if c.out.Reason == ReasonAwaitingConfirmation {
		c.out.TerminalHint = mode.Clarify
	}

	cyclesTotal.WithLabelValues(string(c.out.Reason)).Inc()
	iterationsPerCycle.Observe(float64(len(c.out.History)))
	fatigueSpent.Observe(c.out.Fatigue - carried)
	l.logger.Info("act cycle finished",
		zap.String("cycle", c.out.CycleID),
		zap.String("thread", in.ThreadID),
		zap.String("reason", string(c.out.Reason)),
		zap.Int("iterations", len(c.out.History)),
		zap.Float64("fatigue", c.out.Fatigue),
	)
	return c.out
}

// iterate runs one iteration and returns its termination reason, checked
// in fixed priority order.
func (l *Loop) iterate(ctx, runCtx context.Context, c *cycle, it *Iteration) Reason {
	switch {
	case ctx.Err() != nil:
		return ReasonCancelled
	case runCtx.Err() != nil || l.now().Sub(c.start) >= l.config.MaxDuration:
		return ReasonTimeout
	case it.Number > l.config.MaxIterations:
		return ReasonMaxIterations
	}

	actions, err := l.planner.Plan(runCtx, PlanRequest{
		ThreadID:  c.in.ThreadID,
		UserInput: c.in.UserInput,
		History:   c.out.History,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ReasonCancelled
		case runCtx.Err() != nil:
			return ReasonTimeout
		}
		it.PlanError = err.Error()
		l.logger.Warn("planner failed", zap.String("cycle", c.out.CycleID), zap.Error(err))
		return ReasonNoActions
	}
	it.Planned = actions
	if len(actions) == 0 {
		return ReasonNoActions
	}

	rep, repeated := c.rep.feed(actions)
	if repeated {
		return ReasonRepetition
	}
	if c.out.Fatigue+l.projectedCost(actions, it.Number) > l.config.FatigueBudget {
		return ReasonFatigueExhausted
	}
	c.rep = rep

	for _, a := range actions {
		res, spec, known := l.execute(runCtx, c, a)
		it.Executed = append(it.Executed, res)
		cost := l.actionCost(a, it.Number)
		it.Cost += cost
		c.out.Fatigue += cost

		if res.OK() {
			c.out.Learned.Successes++
			c.out.Learned.Outputs = append(c.out.Learned.Outputs, res.Output)
		} else {
			c.out.Learned.Failures++
		}

		// failed actions are left to the next planning round
		if known && res.OK() && spec.Category == critic.Consequential && res.Verdict.Flagged() {
			criticFlagsTotal.WithLabelValues(string(spec.Category), "paused").Inc()
			c.out.Confirmation = &Confirmation{
				Action: res.Action,
				Issue:  res.Verdict.Issue,
				Output: res.Output,
			}
			return ReasonAwaitingConfirmation
		}
	}

	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return ReasonNone
}

// execute runs one action, reviews the result, and applies a silent
// correction to flagged safe actions.
func (l *Loop) execute(ctx context.Context, c *cycle, a Action) (Result, Spec, bool) {
	spec, err := l.registry.Lookup(a.Type)
	if err != nil {
		actionsTotal.WithLabelValues("unknown", StatusError).Inc()
		return Result{Action: a, Status: StatusError, Error: err.Error()}, Spec{}, false
	}

	a.Params = l.chain(c, a.Params)
	res := l.run(ctx, a)
	res.Verdict = l.review(ctx, c, spec, res)

	if res.Verdict.Flagged() && spec.Category == critic.Safe {
		if len(res.Verdict.Correction) > 0 {
			fixed := Action{Type: a.Type, Params: maps.Clone(a.Params)}
			if fixed.Params == nil {
				fixed.Params = make(map[string]any, len(res.Verdict.Correction))
			}
			maps.Copy(fixed.Params, res.Verdict.Correction)
			retry := l.run(ctx, fixed)
			retry.Verdict = res.Verdict
			retry.Corrected = true
			if o, ok := l.critic.(Observer); ok {
				o.Observe(a.Type, retry.OK())
			}
			criticFlagsTotal.WithLabelValues(string(spec.Category), "corrected").Inc()
			res = retry
		} else {
			criticFlagsTotal.WithLabelValues(string(spec.Category), "kept").Inc()
		}
	}

	if res.OK() {
		c.prev = res.Output
		c.hasPrev = true
	}
	return res, spec, true
}

// run calls the executor under the per-action deadline.
func (l *Loop) run(ctx context.Context, a Action) Result {
	actx, cancel := context.WithTimeout(ctx, l.config.ActionTimeout)
	defer cancel()

	start := l.now()
	r, err := l.executor.Execute(actx, a.Type, a.Params)
	res := Result{Action: a, Status: r.Status, Output: r.Output, Error: r.Error, Duration: l.now().Sub(start)}
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
	}
	if res.Status == "" {
		res.Status = StatusOK
	}
	if res.Status != StatusOK && res.Error == "" {
		res.Error = "status " + res.Status
		res.Status = StatusError
	}
	if l.config.MaxOutputLen > 0 && len(res.Output) > l.config.MaxOutputLen {
		res.Output = res.Output[:l.config.MaxOutputLen]
	}
	actionsTotal.WithLabelValues(a.Type, res.Status).Inc()
	return res
}

// review asks the critic about a result. Critic errors fail open.
func (l *Loop) review(ctx context.Context, c *cycle, spec Spec, res Result) critic.Verdict {
	v, err := l.critic.Review(ctx, critic.Check{
		UserInput:  c.in.UserInput,
		ActionType: res.Action.Type,
		Category:   spec.Category,
		Params:     res.Action.Params,
		Status:     res.Status,
		Output:     res.Output,
		Error:      res.Error,
	})
	if err != nil {
		l.logger.Warn("critic failed open", zap.String("action", res.Action.Type), zap.Error(err))
		return critic.Verdict{FailedOpen: true}
	}
	return v
}

// chain substitutes the previous output into placeholder params.
func (l *Loop) chain(c *cycle, params map[string]any) map[string]any {
	if !c.hasPrev || len(params) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok && s == prevPlaceholder {
			out[k] = c.prev
			continue
		}
		out[k] = v
	}
	return out
}

func (l *Loop) carriedFatigue(ctx context.Context, threadID string, now time.Time) float64 {
	if l.ledger == nil || threadID == "" || l.config.FatigueWindow <= 0 {
		return 0
	}
	spent, err := l.ledger.FatigueSince(ctx, threadID, now.Add(-l.config.FatigueWindow))
	if err != nil {
		l.logger.Warn("fatigue ledger unavailable", zap.String("thread", threadID), zap.Error(err))
		return 0
	}
	return spent
}

func (l *Loop) record(ctx context.Context, it Iteration) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordIteration(context.WithoutCancel(ctx), it); err != nil {
		l.logger.Warn("iteration not recorded",
			zap.String("cycle", it.CycleID), zap.Int("iteration", it.Number), zap.Error(err))
	}
}

// #endregion loop
