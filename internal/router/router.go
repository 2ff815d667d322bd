package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/llm"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
)

// #region router
// Router selects one engagement mode per request. It never fails: every
// path resolves to a mode, worst case RESPOND with confidence 0.
type Router struct {
	tiebreaker llm.Classifier
	limiter    *rate.Limiter
	hysteresis *Hysteresis
	config     Config
	logger     *zap.Logger
}

// New creates a Router. tiebreaker may be nil, in which case close calls
// always resolve to the deterministic winner.
func New(tiebreaker llm.Classifier, config Config, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if config.TiebreakPerSecond > 0 {
		limit = rate.Limit(config.TiebreakPerSecond)
	}
	burst := config.TiebreakBurst
	if burst <= 0 {
		burst = 1
	}
	topics := config.HysteresisTopics
	if topics <= 0 {
		topics = DefaultConfig().HysteresisTopics
	}
	h, err := NewHysteresis(topics, config.HysteresisWindow, config.MaxWidening)
	if err != nil {
		return nil, fmt.Errorf("hysteresis: %w", err)
	}
	return &Router{
		tiebreaker: tiebreaker,
		limiter:    rate.NewLimiter(limit, burst),
		hysteresis: h,
		config:     config,
		logger:     logger.Named("router"),
	}, nil
}

// #endregion router

// #region route
// Route scores the candidates, consults the tie-breaker on a close call and
// updates the topic's hysteresis trail.
func (r *Router) Route(ctx context.Context, req Request) Result {
	start := time.Now()
	defer func() { routingLatency.Observe(time.Since(start).Seconds()) }()

	all := Score(req.Signals, req.Weights)
	scores := make(mode.Scores, len(all))
	for m, s := range all {
		if !req.Exclude.Has(m) {
			scores[m] = s
		}
	}
	phase := "initial"
	if len(req.Exclude) > 0 {
		phase = "terminal"
	}

	if len(scores) == 0 {
		res := Result{Mode: mode.Respond, Scores: scores, Reason: "no candidates"}
		decisionsTotal.WithLabelValues(string(res.Mode), phase).Inc()
		return res
	}

	first, top, second, runnerScore := scores.Top()
	widening := r.hysteresis.Widening(req.Topic)
	res := Result{
		Mode:            first,
		RunnerUp:        second,
		Scores:          scores,
		EffectiveMargin: EffectiveMargin(req.Signals, req.Weights, widening),
		Widening:        widening,
		Reason:          "highest score",
	}
	if second != mode.None {
		res.Margin = top - runnerScore
		res.Confidence = Confidence(top, runnerScore)
	} else {
		res.Margin = top
		res.Confidence = 1
	}

	switch {
	case req.Signals.EmptyInput:
		res.Reason = "empty input"
	case second != mode.None && res.Margin < res.EffectiveMargin:
		summary := req.Summary
		if summary == "" {
			summary = Summarize(req.Signals)
		}
		picked, outcome := r.tiebreak(ctx, first, second, summary)
		res.Tiebreak = outcome
		tiebreaksTotal.WithLabelValues(outcome).Inc()
		if outcome == TiebreakDecided {
			res.TiebreakerUsed = true
			res.Mode = picked
			if picked == second {
				res.RunnerUp = first
			}
			res.Reason = "tie-break"
		} else {
			res.Reason = "tie-break fallback: " + outcome
		}
	}

	if phase == "initial" {
		r.hysteresis.Record(req.Topic, res.Confidence, req.Weights.Hysteresis.Floor, req.Weights.Hysteresis.Increment)
	}
	decisionsTotal.WithLabelValues(string(res.Mode), phase).Inc()
	routingConfidence.Observe(res.Confidence)
	return res
}

// #endregion route

// #region tiebreak
type tiebreakReply struct {
	Mode string `json:"mode"`
}

// tiebreak asks the classifier to choose between exactly two candidates.
// Anything but a reply naming one of them resolves to first, without retry.
func (r *Router) tiebreak(ctx context.Context, first, second mode.Mode, summary string) (mode.Mode, string) {
	if r.tiebreaker == nil {
		return first, TiebreakUnavailable
	}
	if !r.limiter.Allow() {
		r.logger.Warn("tie-break rate limited", zap.String("first", string(first)), zap.String("second", string(second)))
		return first, TiebreakLimited
	}

	timeout := r.config.TiebreakTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().TiebreakTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := r.tiebreaker.Classify(callCtx, tiebreakPrompt(first, second, summary))
	if err != nil {
		r.logger.Warn("tie-break unavailable, using deterministic winner", zap.Error(err))
		return first, TiebreakFailed
	}

	var reply tiebreakReply
	body := llm.ExtractJSON(out)
	if body == "" || json.Unmarshal([]byte(body), &reply) != nil {
		r.logger.Warn("tie-break reply malformed", zap.String("reply", truncate(out, 120)))
		return first, TiebreakMalformed
	}
	picked, err := mode.Parse(reply.Mode)
	if err != nil || (picked != first && picked != second) {
		r.logger.Warn("tie-break picked a mode outside the candidates", zap.String("mode", reply.Mode))
		return first, TiebreakOffList
	}
	return picked, TiebreakDecided
}

func tiebreakPrompt(first, second mode.Mode, summary string) string {
	var b strings.Builder
	b.WriteString("Two engagement modes scored almost equally for the user's latest message.\n")
	fmt.Fprintf(&b, "Candidates: %s, %s\n", first, second)
	fmt.Fprintf(&b, "Context: %s\n", summary)
	b.WriteString("RESPOND answers, CLARIFY asks a question back, ACT runs internal actions first, ")
	b.WriteString("ACKNOWLEDGE replies briefly, IGNORE stays silent.\n")
	b.WriteString(`Reply with JSON only: {"mode": "<one of the candidates>"}`)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// #endregion tiebreak
