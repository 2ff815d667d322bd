package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/act"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/codec"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/websearch"
)

// webSearchAction is shaped into evidence after execution.
const webSearchAction = "web_search"

// #region planner
// PlanClient is the slice of codec.CodecClient the planner adapter calls.
type PlanClient interface {
	Plan(ctx context.Context, userInput, historyJSON string) ([]codec.PlannedAction, error)
}

// CodecPlanner implements act.Planner over the remote planner RPC.
type CodecPlanner struct {
	client PlanClient
}

// NewCodecPlanner creates a CodecPlanner.
func NewCodecPlanner(client PlanClient) *CodecPlanner {
	return &CodecPlanner{client: client}
}

// Plan sends the user input and the iteration history as JSON.
func (p *CodecPlanner) Plan(ctx context.Context, req act.PlanRequest) ([]act.Action, error) {
	history, err := json.Marshal(req.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	planned, err := p.client.Plan(ctx, req.UserInput, string(history))
	if err != nil {
		return nil, err
	}
	actions := make([]act.Action, 0, len(planned))
	for _, pa := range planned {
		if pa.Type == "" {
			continue
		}
		actions = append(actions, act.Action{Type: pa.Type, Params: pa.Params})
	}
	return actions, nil
}

// #endregion planner

// #region executor
// ExecClient is the slice of codec.CodecClient the executor adapter calls.
type ExecClient interface {
	Execute(ctx context.Context, actionType string, params map[string]any, timeout time.Duration) (codec.ExecuteResult, error)
}

// CodecExecutor implements act.Executor over the sandbox RPC.
type CodecExecutor struct {
	client ExecClient
	search websearch.Config
}

// NewCodecExecutor creates a CodecExecutor with the default web search
// settings.
func NewCodecExecutor(client ExecClient) *CodecExecutor {
	return &CodecExecutor{client: client, search: websearch.DefaultConfig()}
}

// WithWebSearch replaces the web search settings.
func (e *CodecExecutor) WithWebSearch(cfg websearch.Config) *CodecExecutor {
	e.search = cfg
	return e
}

// Execute forwards the remaining context deadline as the sandbox timeout.
func (e *CodecExecutor) Execute(ctx context.Context, actionType string, params map[string]any) (act.ExecResult, error) {
	if actionType == webSearchAction && !e.search.Enabled {
		return act.ExecResult{Status: act.StatusError, Error: "web search disabled"}, nil
	}
	var timeout time.Duration
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	res, err := e.client.Execute(ctx, actionType, params, timeout)
	if err != nil {
		return act.ExecResult{}, err
	}
	out := act.ExecResult{Status: res.Status, Output: res.Output, Error: res.Error}
	if actionType == webSearchAction && out.Status == act.StatusOK {
		if shaped, ok := websearch.Shape(out.Output, e.search); ok {
			out.Output = shaped
		}
	}
	return out, nil
}

// #endregion executor
