package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/llm"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/router"
)

// #region config
// Config bounds one review pass.
type Config struct {
	BatchSize int           `yaml:"batch_size"` // decisions reviewed per pass
	Lookback  time.Duration `yaml:"lookback"`   // oldest decision considered
	Timeout   time.Duration `yaml:"timeout"`    // per model call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 10, Lookback: 24 * time.Hour, Timeout: 3 * time.Second}
}

// #endregion config

// #region reviewer
// Reviewer asks the model for a second opinion on recent decisions while
// the request path is idle.
type Reviewer struct {
	store  *Store
	audit  *audit.Store
	model  llm.Classifier
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// NewReviewer creates a Reviewer.
func NewReviewer(store *Store, auditStore *audit.Store, model llm.Classifier, config Config, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{
		store:  store,
		audit:  auditStore,
		model:  model,
		config: config,
		logger: logger.Named("review"),
		now:    time.Now,
	}
}

// Summary counts one pass.
type Summary struct {
	Reviewed      int
	Disagreements int
	Skipped       int
}

type reply struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// RunOnce reviews up to BatchSize unreviewed initial decisions, newest
// first. Model failures skip the decision; it is retried next pass.
func (r *Reviewer) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	if r.model == nil {
		return sum, nil
	}
	decisions, err := r.audit.DecisionsSince(ctx, r.now().Add(-r.config.Lookback), 0)
	if err != nil {
		return sum, fmt.Errorf("review: %w", err)
	}

	for i := len(decisions) - 1; i >= 0 && sum.Reviewed < r.config.BatchSize; i-- {
		if ctx.Err() != nil {
			break
		}
		d := decisions[i]
		if d.Phase != audit.PhaseInitial {
			continue
		}
		done, err := r.store.Reviewed(ctx, d.ID)
		if err != nil {
			return sum, err
		}
		if done {
			continue
		}

		suggested, reason, err := r.ask(ctx, d)
		if err != nil {
			sum.Skipped++
			r.logger.Warn("peer review skipped", zap.String("decision", d.ID), zap.Error(err))
			continue
		}
		rev, err := r.store.Save(ctx, Review{
			DecisionID: d.ID,
			Routed:     d.Mode,
			Suggested:  suggested,
			Reason:     reason,
			CreatedAt:  r.now().UTC(),
		})
		if err != nil {
			return sum, err
		}
		sum.Reviewed++
		if !rev.Agrees() {
			sum.Disagreements++
		}
	}
	return sum, nil
}

func (r *Reviewer) ask(ctx context.Context, d audit.Decision) (mode.Mode, string, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	out, err := r.model.Classify(ctx, prompt(d))
	if err != nil {
		return "", "", err
	}
	var rep reply
	body := llm.ExtractJSON(out)
	if body == "" {
		return "", "", fmt.Errorf("no JSON in reply")
	}
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return "", "", fmt.Errorf("decode reply: %w", err)
	}
	m, err := mode.Parse(rep.Mode)
	if err != nil {
		return "", "", err
	}
	return m, strings.TrimSpace(rep.Reason), nil
}

func prompt(d audit.Decision) string {
	var b strings.Builder
	b.WriteString("Decide how an assistant should engage with a user's message.\n")
	fmt.Fprintf(&b, "Context: %s\n", router.Summarize(d.Signals))
	b.WriteString("Modes: RESPOND answers, CLARIFY asks a question back, ACT runs internal actions first, ")
	b.WriteString("ACKNOWLEDGE replies briefly, IGNORE stays silent.\n")
	b.WriteString(`Reply with JSON only: {"mode": "<mode>", "reason": "<one sentence>"}`)
	return b.String()
}

// #endregion reviewer
