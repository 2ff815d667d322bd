package codec

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// Fully qualified RPC names on the collaborator service. Requests and
// responses are google.protobuf.Struct so no generated stubs are needed.
const (
	serviceName         = "/cogctl.codec.v1.CodecService/"
	methodClassify      = serviceName + "Classify"
	methodEmbed         = serviceName + "Embed"
	methodSearch        = serviceName + "Search"
	methodStoreEvidence = serviceName + "StoreEvidence"
	methodFetchSignals  = serviceName + "FetchSignals"
	methodPlan          = serviceName + "Plan"
	methodExecute       = serviceName + "Execute"
)

// #region types
// SearchResult holds a single result from a Search RPC call.
type SearchResult struct {
	ID           string
	Text         string
	Score        float32
	MetadataJSON string
}

// PlannedAction is one action proposed by the remote planner.
type PlannedAction struct {
	Type   string
	Params map[string]any
}

// ExecuteResult is the sandbox's answer for one action.
type ExecuteResult struct {
	Status   string
	Output   string
	Error    string
	Duration time.Duration
}
// #endregion types

// #region client-struct
// CodecClient wraps the gRPC connection to the collaborator service that
// hosts the models, the memory store and the tool sandbox.
type CodecClient struct {
	conn   *grpc.ClientConn
	invoke grpc.ClientConnInterface
}
// #endregion client-struct

// #region constructor
// NewCodecClient connects to the collaborator gRPC server.
func NewCodecClient(addr string) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, invoke: conn}, nil
}

// NewCodecClientWithConn creates a CodecClient over an injected connection.
// Used for testing without a real gRPC server.
func NewCodecClientWithConn(conn grpc.ClientConnInterface) *CodecClient {
	return &CodecClient{invoke: conn}
}
// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

// #region call
func (c *CodecClient) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	out := &structpb.Struct{}
	if err := c.invoke.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func str(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func num(s *structpb.Struct, key string) float64 {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetNumberValue()
	}
	return 0
}

func flag(s *structpb.Struct, key string) bool {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

func list(s *structpb.Struct, key string) []*structpb.Value {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetListValue().GetValues()
	}
	return nil
}
// #endregion call

// #region classify
// Classify sends a prompt to the small classification model and returns its
// raw reply text.
func (c *CodecClient) Classify(ctx context.Context, prompt string) (string, error) {
	resp, err := c.call(ctx, methodClassify, map[string]any{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("classify rpc: %w", err)
	}
	return str(resp, "text"), nil
}
// #endregion classify

// #region embed
// Embed sends text to the inference service for embedding.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.call(ctx, methodEmbed, map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	values := list(resp, "embedding")
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v.GetNumberValue())
	}
	return out, nil
}
// #endregion embed

// #region search
// Search queries a thread's message memory by similarity.
func (c *CodecClient) Search(ctx context.Context, threadID, queryText string, topK int, similarityThreshold float32) ([]SearchResult, error) {
	resp, err := c.call(ctx, methodSearch, map[string]any{
		"thread_id":            threadID,
		"query_text":           queryText,
		"top_k":                topK,
		"similarity_threshold": float64(similarityThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("search rpc: %w", err)
	}

	values := list(resp, "results")
	results := make([]SearchResult, 0, len(values))
	for _, v := range values {
		r := v.GetStructValue()
		if r == nil {
			continue
		}
		results = append(results, SearchResult{
			ID:           str(r, "id"),
			Text:         str(r, "text"),
			Score:        float32(num(r, "score")),
			MetadataJSON: str(r, "metadata_json"),
		})
	}
	return results, nil
}
// #endregion search

// #region store-evidence
// StoreEvidence appends a message to a thread's memory.
func (c *CodecClient) StoreEvidence(ctx context.Context, threadID, text, metadataJSON string) (string, error) {
	resp, err := c.call(ctx, methodStoreEvidence, map[string]any{
		"thread_id":     threadID,
		"text":          text,
		"metadata_json": metadataJSON,
	})
	if err != nil {
		return "", fmt.Errorf("store evidence rpc: %w", err)
	}
	return str(resp, "id"), nil
}
// #endregion store-evidence

// #region fetch-signals
// FetchSignals reads the memory-derived routing signals of a thread.
func (c *CodecClient) FetchSignals(ctx context.Context, threadID string) (signals.ContextSnapshot, error) {
	resp, err := c.call(ctx, methodFetchSignals, map[string]any{"thread_id": threadID})
	if err != nil {
		return signals.ContextSnapshot{}, fmt.Errorf("fetch signals rpc: %w", err)
	}
	return signals.ContextSnapshot{
		ContextWarmth:        num(resp, "context_warmth"),
		WorkingMemoryTurns:   int(num(resp, "working_memory_turns")),
		GistCount:            int(num(resp, "gist_count")),
		FactCount:            int(num(resp, "fact_count")),
		WorldStatePresent:    flag(resp, "world_state_present"),
		SessionExchangeCount: int(num(resp, "session_exchange_count")),
	}, nil
}
// #endregion fetch-signals

// #region plan
// Plan asks the remote planner for the next actions given the user input and
// a JSON rendering of the history so far.
func (c *CodecClient) Plan(ctx context.Context, userInput, historyJSON string) ([]PlannedAction, error) {
	resp, err := c.call(ctx, methodPlan, map[string]any{
		"user_input":   userInput,
		"history_json": historyJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("plan rpc: %w", err)
	}
	values := list(resp, "actions")
	actions := make([]PlannedAction, 0, len(values))
	for _, v := range values {
		a := v.GetStructValue()
		if a == nil {
			continue
		}
		pa := PlannedAction{Type: str(a, "type")}
		if p, ok := a.GetFields()["params"]; ok && p.GetStructValue() != nil {
			pa.Params = p.GetStructValue().AsMap()
		}
		actions = append(actions, pa)
	}
	return actions, nil
}
// #endregion plan

// #region execute
// Execute runs one action in the sandbox. The timeout travels with the
// request and bounds the call.
func (c *CodecClient) Execute(ctx context.Context, actionType string, params map[string]any, timeout time.Duration) (ExecuteResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if params == nil {
		params = map[string]any{}
	}
	start := time.Now()
	resp, err := c.call(ctx, methodExecute, map[string]any{
		"action_type": actionType,
		"params":      params,
		"timeout_ms":  timeout.Milliseconds(),
	})
	if err != nil {
		return ExecuteResult{Status: "error", Error: err.Error(), Duration: time.Since(start)}, fmt.Errorf("execute rpc: %w", err)
	}
	res := ExecuteResult{
		Status:   str(resp, "status"),
		Output:   str(resp, "output"),
		Error:    str(resp, "error"),
		Duration: time.Duration(num(resp, "duration_ms")) * time.Millisecond,
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res, nil
}
// #endregion execute
