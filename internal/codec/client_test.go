package codec

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region mock
// mockConn answers Invoke from a per-method table and records requests.
type mockConn struct {
	responses map[string]map[string]any
	errs      map[string]error
	requests  map[string]*structpb.Struct
}

func newMockConn() *mockConn {
	return &mockConn{
		responses: map[string]map[string]any{},
		errs:      map[string]error{},
		requests:  map[string]*structpb.Struct{},
	}
}

func (m *mockConn) Invoke(_ context.Context, method string, args any, reply any, _ ...grpc.CallOption) error {
	m.requests[method] = args.(*structpb.Struct)
	if err := m.errs[method]; err != nil {
		return err
	}
	resp, err := structpb.NewStruct(m.responses[method])
	if err != nil {
		return err
	}
	proto.Merge(reply.(proto.Message), resp)
	return nil
}

func (m *mockConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams not supported")
}

// #endregion mock

// #region constructor-tests
func TestNewCodecClientLazyDial(t *testing.T) {
	client, err := NewCodecClient("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer client.Close()
}

func TestCloseWithoutConn(t *testing.T) {
	c := NewCodecClientWithConn(newMockConn())
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// #endregion constructor-tests

// #region rpc-tests
func TestClassify(t *testing.T) {
	m := newMockConn()
	m.responses[methodClassify] = map[string]any{"text": `{"mode":"ACT"}`}
	c := NewCodecClientWithConn(m)

	out, err := c.Classify(context.Background(), "pick")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out != `{"mode":"ACT"}` {
		t.Errorf("unexpected reply %q", out)
	}
	if got := m.requests[methodClassify].GetFields()["prompt"].GetStringValue(); got != "pick" {
		t.Errorf("prompt not sent, got %q", got)
	}
}

func TestEmbed(t *testing.T) {
	m := newMockConn()
	m.responses[methodEmbed] = map[string]any{"embedding": []any{0.5, 0.25, -1.0}}
	c := NewCodecClientWithConn(m)

	emb, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(emb) != 3 || emb[0] != 0.5 || emb[2] != -1 {
		t.Errorf("unexpected embedding %v", emb)
	}
}

func TestEmbed_Error(t *testing.T) {
	m := newMockConn()
	m.errs[methodEmbed] = errors.New("unavailable")
	if _, err := NewCodecClientWithConn(m).Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch(t *testing.T) {
	m := newMockConn()
	m.responses[methodSearch] = map[string]any{"results": []any{
		map[string]any{"id": "a", "text": "first", "score": 0.9},
		"not-a-struct",
		map[string]any{"id": "b", "text": "second", "score": 0.4, "metadata_json": "{}"},
	}}
	c := NewCodecClientWithConn(m)

	res, err := c.Search(context.Background(), "t1", "query", 5, 0.3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	if res[0].ID != "a" || res[0].Score != 0.9 || res[1].MetadataJSON != "{}" {
		t.Errorf("unexpected results %+v", res)
	}
	req := m.requests[methodSearch].GetFields()
	if req["thread_id"].GetStringValue() != "t1" || req["top_k"].GetNumberValue() != 5 {
		t.Errorf("unexpected request %v", req)
	}
}

func TestStoreEvidence(t *testing.T) {
	m := newMockConn()
	m.responses[methodStoreEvidence] = map[string]any{"id": "ev-1"}
	id, err := NewCodecClientWithConn(m).StoreEvidence(context.Background(), "t1", "text", "")
	if err != nil || id != "ev-1" {
		t.Fatalf("expected ev-1, got %q (%v)", id, err)
	}
}

func TestFetchSignals(t *testing.T) {
	m := newMockConn()
	m.responses[methodFetchSignals] = map[string]any{
		"context_warmth": 0.6, "working_memory_turns": 3, "gist_count": 4,
		"fact_count": 7, "world_state_present": true, "session_exchange_count": 12,
	}
	snap, err := NewCodecClientWithConn(m).FetchSignals(context.Background(), "t1")
	if err != nil {
		t.Fatalf("FetchSignals: %v", err)
	}
	if snap.ContextWarmth != 0.6 || snap.WorkingMemoryTurns != 3 || snap.FactCount != 7 ||
		!snap.WorldStatePresent || snap.SessionExchangeCount != 12 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestPlan(t *testing.T) {
	m := newMockConn()
	m.responses[methodPlan] = map[string]any{"actions": []any{
		map[string]any{"type": "search", "params": map[string]any{"query": "go"}},
		map[string]any{"type": "read_file"},
	}}
	actions, err := NewCodecClientWithConn(m).Plan(context.Background(), "find go docs", "[]")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(actions) != 2 || actions[0].Type != "search" || actions[0].Params["query"] != "go" {
		t.Fatalf("unexpected actions %+v", actions)
	}
	if actions[1].Params != nil {
		t.Errorf("expected nil params, got %v", actions[1].Params)
	}
}

func TestExecute(t *testing.T) {
	m := newMockConn()
	m.responses[methodExecute] = map[string]any{"status": "ok", "output": "42", "duration_ms": 15}
	res, err := NewCodecClientWithConn(m).Execute(context.Background(), "calc", map[string]any{"expr": "6*7"}, 9*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" || res.Output != "42" || res.Duration != 15*time.Millisecond {
		t.Errorf("unexpected result %+v", res)
	}
	if got := m.requests[methodExecute].GetFields()["timeout_ms"].GetNumberValue(); got != 9000 {
		t.Errorf("expected timeout_ms 9000, got %v", got)
	}
}

func TestExecute_Error(t *testing.T) {
	m := newMockConn()
	m.errs[methodExecute] = errors.New("sandbox gone")
	res, err := NewCodecClientWithConn(m).Execute(context.Background(), "calc", nil, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Status != "error" || res.Error == "" {
		t.Errorf("expected error result, got %+v", res)
	}
}

// #endregion rpc-tests
