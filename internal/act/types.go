package act

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/critic"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
)

// ErrUnknownAction is returned for action types outside the registry.
var ErrUnknownAction = errors.New("act: unknown action type")

// #region reason
// Reason is why a loop cycle ended. Empty means the cycle continues.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonCancelled            Reason = "cancelled"
	ReasonTimeout              Reason = "timeout"
	ReasonMaxIterations        Reason = "max_iterations"
	ReasonNoActions            Reason = "no_actions"
	ReasonRepetition           Reason = "repetition"
	ReasonFatigueExhausted     Reason = "fatigue_exhausted"
	ReasonAwaitingConfirmation Reason = "awaiting_confirmation"
)

// #endregion reason

// #region action
// Action is one planned tool call.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Signature identifies an action for repetition detection. Params are
// marshaled with sorted keys.
func (a Action) Signature() string {
	p, err := json.Marshal(a.Params)
	if err != nil {
		return a.Type
	}
	return a.Type + ":" + string(p)
}

// Result is the outcome of executing one action.
type Result struct {
	Action    Action         `json:"action"`
	Status    string         `json:"status"` // ok | error
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Corrected bool           `json:"corrected,omitempty"`
	Verdict   critic.Verdict `json:"verdict"`
}

// OK reports a successful execution.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// #endregion action

// #region iteration
// Iteration is the durable record of one pass through the loop.
type Iteration struct {
	CycleID      string        `json:"cycle_id"`
	ThreadID     string        `json:"thread_id"`
	Number       int           `json:"iteration_number"`
	Planned      []Action      `json:"actions_planned"`
	Executed     []Result      `json:"actions_executed"`
	PlanError    string        `json:"plan_error,omitempty"`
	Cost         float64       `json:"cost"`
	FatigueAfter float64       `json:"fatigue_after"`
	Termination  Reason        `json:"termination_reason,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	StartedAt    time.Time     `json:"started_at"`
}

// Confirmation asks the user to approve continuing after a consequential
// action the critic flagged.
type Confirmation struct {
	Action Action `json:"action"`
	Issue  string `json:"issue"`
	Output string `json:"output,omitempty"`
}

// Learned summarizes what the cycle produced for the next routing pass.
type Learned struct {
	Successes int      `json:"successes"`
	Failures  int      `json:"failures"`
	Outputs   []string `json:"outputs,omitempty"`
}

// Outcome is what a finished cycle hands back to the pipeline.
type Outcome struct {
	CycleID      string        `json:"cycle_id"`
	TerminalHint mode.Mode     `json:"terminal_hint"`
	Reason       Reason        `json:"reason"`
	History      []Iteration   `json:"history"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Learned      Learned       `json:"learned"`
	Fatigue      float64       `json:"fatigue"`
}

// #endregion iteration

// #region interfaces
// PlanRequest is what the planner sees each iteration.
type PlanRequest struct {
	ThreadID  string
	UserInput string
	History   []Iteration
}

// Planner proposes the next batch of actions. An empty batch ends the cycle.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) ([]Action, error)
}

// ExecResult is the raw output of an executor.
type ExecResult struct {
	Status string
	Output string
	Error  string
}

// Executor runs one action. The context carries the per-action deadline.
type Executor interface {
	Execute(ctx context.Context, actionType string, params map[string]any) (ExecResult, error)
}

// Recorder persists iteration records. Failures are logged, not fatal.
type Recorder interface {
	RecordIteration(ctx context.Context, it Iteration) error
}

// FatigueLedger reports fatigue already spent by a thread since a point in
// time, so the budget spans cycles.
type FatigueLedger interface {
	FatigueSince(ctx context.Context, threadID string, since time.Time) (float64, error)
}

// Observer receives critic calibration feedback. critic.ModelCritic
// implements it.
type Observer interface {
	Observe(actionType string, correctionHelped bool)
}

// #endregion interfaces

// #region config
// Config bounds one cycle.
type Config struct {
	MaxIterations     int           `yaml:"max_iterations"`
	MaxDuration       time.Duration `yaml:"max_duration"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	FatigueBudget     float64       `yaml:"fatigue_budget"`
	GrowthRate        float64       `yaml:"growth_rate"`
	FatigueWindow     time.Duration `yaml:"fatigue_window"`
	RepetitionLimit   int           `yaml:"repetition_limit"`
	UnknownActionCost float64       `yaml:"unknown_action_cost"`
	MaxOutputLen      int           `yaml:"max_output_len"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     6,
		MaxDuration:       60 * time.Second,
		ActionTimeout:     9 * time.Second,
		FatigueBudget:     2.5,
		GrowthRate:        0.1,
		FatigueWindow:     time.Hour,
		RepetitionLimit:   3,
		UnknownActionCost: 0.1,
		MaxOutputLen:      4000,
	}
}

// #endregion config
