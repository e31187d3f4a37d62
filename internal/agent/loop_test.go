package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/toolexec"
)

// fakeAdapter returns a preconfigured sequence of delta channels, one per
// call to StreamCompletion, in order.
type fakeAdapter struct {
	batches [][]provider.StreamDelta
	calls   int
}

func (f *fakeAdapter) FormatMessages(req provider.CompletionRequest) any { return nil }
func (f *fakeAdapter) FormatTools(tools []provider.Tool) any             { return nil }
func (f *fakeAdapter) BuildURL(cfg provider.ProviderConfig, model provider.Model) string {
	return ""
}
func (f *fakeAdapter) BuildHeaders(cfg provider.ProviderConfig, model provider.Model) map[string]string {
	return nil
}
func (f *fakeAdapter) BuildRequestBody(cfg provider.ProviderConfig, model provider.Model, req provider.CompletionRequest) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) ParseError(status int, body []byte) *provider.ProviderError { return nil }

func (f *fakeAdapter) StreamCompletion(ctx context.Context, cfg provider.ProviderConfig, model provider.Model, req provider.CompletionRequest) (<-chan provider.StreamDelta, error) {
	if f.calls >= len(f.batches) {
		ch := make(chan provider.StreamDelta)
		close(ch)
		return ch, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	ch := make(chan provider.StreamDelta, len(batch))
	for _, d := range batch {
		ch <- d
	}
	close(ch)
	return ch, nil
}

type fakeResolver struct{ adapter provider.Adapter }

func (r *fakeResolver) Resolve(providerID string, model provider.Model) (provider.Adapter, provider.ProviderConfig, error) {
	return r.adapter, provider.ProviderConfig{ID: providerID}, nil
}

func testModel() provider.Model {
	return provider.Model{ID: "test-model", ContextWindow: 100000, MaxOutputTokens: 4096}
}

func baseRequest() AgentRequest {
	return AgentRequest{UserMessage: "Read README", Model: testModel(), Provider: provider.ProviderConfig{ID: "test"}}
}

func TestRunSingleToolCallSuccess(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	adapter := &fakeAdapter{batches: [][]provider.StreamDelta{
		{{ToolCalls: []provider.ToolCallDelta{{Index: 0, ID: "c1", Name: "read_file", Arguments: `{"path":"README.md"}`}}, FinishReason: provider.FinishToolCalls}},
		{{Content: "The README says hello.", FinishReason: provider.FinishStop}},
	}}

	runner := &Runner{
		Registry: &fakeResolver{adapter: adapter},
		Executor: &toolexec.Executor{PathValidator: &toolexec.PathValidator{Root: dir}},
	}

	resp := runner.Run(context.Background(), baseRequest(), nil, nil)

	if resp.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", resp.Iterations)
	}
	if len(resp.ToolCallsExecuted) != 1 {
		t.Fatalf("expected 1 tool call executed, got %d", len(resp.ToolCallsExecuted))
	}
	if !resp.ToolCallsExecuted[0].Success {
		t.Errorf("expected tool call to succeed, got %q", resp.ToolCallsExecuted[0].Output)
	}

	roles := make([]provider.Role, len(resp.ConversationHistory))
	for i, m := range resp.ConversationHistory {
		roles[i] = m.Role
	}
	want := []provider.Role{provider.RoleUser, provider.RoleAssistant, provider.RoleTool, provider.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("role[%d] = %s, want %s", i, roles[i], want[i])
		}
	}
}

func TestDrainStreamAssemblesFragmentedArguments(t *testing.T) {
	fragments := []string{`{"path"`, `:"/p/a.txt"`, `,"content"`, `:"x"`, `}`, ``}
	var deltas []provider.StreamDelta
	deltas = append(deltas, provider.StreamDelta{ToolCalls: []provider.ToolCallDelta{{Index: 0, ID: "c1", Name: "write_file", Arguments: fragments[0]}}})
	for _, frag := range fragments[1:] {
		deltas = append(deltas, provider.StreamDelta{ToolCalls: []provider.ToolCallDelta{{Index: 0, Arguments: frag}}})
	}
	deltas = append(deltas, provider.StreamDelta{FinishReason: provider.FinishToolCalls})

	ch := make(chan provider.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)

	r := &Runner{}
	result, err := r.drainStream(context.Background(), newEmitter(nil, nil), ch, nil)
	if err != nil {
		t.Fatalf("drainStream: %v", err)
	}
	if len(result.toolCalls) != 1 {
		t.Fatalf("expected 1 assembled tool call, got %d", len(result.toolCalls))
	}
	var parsed map[string]string
	if err := json.Unmarshal(result.toolCalls[0].Arguments, &parsed); err != nil {
		t.Fatalf("assembled arguments not valid JSON: %v (%s)", err, result.toolCalls[0].Arguments)
	}
	if parsed["path"] != "/p/a.txt" || parsed["content"] != "x" {
		t.Errorf("unexpected assembled arguments: %+v", parsed)
	}
}

// TestDrainStreamFinalAggregatedDeltaReplacesFragments reproduces the real
// adapters' pattern: per-chunk argument fragments followed by one final
// delta at the same index carrying the stream processor's complete,
// already-repaired arguments (see finalDeltaFromResult in the provider
// package). The final delta must replace the fragment buffer, not append to
// it, or the assembled arguments are invalid JSON.
func TestDrainStreamFinalAggregatedDeltaReplacesFragments(t *testing.T) {
	var deltas []provider.StreamDelta
	deltas = append(deltas, provider.StreamDelta{ToolCalls: []provider.ToolCallDelta{{Index: 0, ID: "c1", Name: "write_file", Arguments: `{"path"`}}})
	deltas = append(deltas, provider.StreamDelta{ToolCalls: []provider.ToolCallDelta{{Index: 0, Arguments: `:"/p"}`}}})
	// The adapter's terminal delta: complete, repaired arguments reappear at
	// the same index, carrying ID/Name again just as finalDeltaFromResult does.
	deltas = append(deltas, provider.StreamDelta{
		FinishReason: provider.FinishToolCalls,
		ToolCalls:    []provider.ToolCallDelta{{Index: 0, ID: "c1", Name: "write_file", Arguments: `{"path":"/p"}`}},
	})

	ch := make(chan provider.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)

	r := &Runner{}
	result, err := r.drainStream(context.Background(), newEmitter(nil, nil), ch, nil)
	if err != nil {
		t.Fatalf("drainStream: %v", err)
	}
	if len(result.toolCalls) != 1 {
		t.Fatalf("expected 1 assembled tool call, got %d", len(result.toolCalls))
	}
	var parsed map[string]string
	if err := json.Unmarshal(result.toolCalls[0].Arguments, &parsed); err != nil {
		t.Fatalf("assembled arguments not valid JSON: %v (%s)", err, result.toolCalls[0].Arguments)
	}
	if parsed["path"] != "/p" {
		t.Errorf("unexpected assembled arguments: %+v", parsed)
	}
}

func TestRunApprovalRejectionProducesDeclinedResult(t *testing.T) {
	dir := t.TempDir()
	adapter := &fakeAdapter{batches: [][]provider.StreamDelta{
		{{ToolCalls: []provider.ToolCallDelta{{Index: 0, ID: "c1", Name: "write_file", Arguments: `{"path":"a.txt","content":"x"}`}}, FinishReason: provider.FinishToolCalls}},
		{{Content: "done", FinishReason: provider.FinishStop}},
	}}

	runner := &Runner{
		Registry:     &fakeResolver{adapter: adapter},
		Executor:     &toolexec.Executor{PathValidator: &toolexec.PathValidator{Root: dir}},
		ToolApproval: func(ctx context.Context, toolName string, toolArgs json.RawMessage, toolCallID string) bool { return false },
	}

	resp := runner.Run(context.Background(), baseRequest(), nil, nil)

	if len(resp.ToolCallsExecuted) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(resp.ToolCallsExecuted))
	}
	result := resp.ToolCallsExecuted[0]
	if result.Success {
		t.Error("expected declined tool call to be unsuccessful")
	}
	if result.Output != "User declined this operation." {
		t.Errorf("unexpected decline message: %q", result.Output)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err == nil {
		t.Error("file should not have been written after a declined approval")
	}
}

// blockingAdapter lets the test control exactly when deltas arrive, so abort
// can be signaled deterministically mid-stream.
type blockingAdapter struct {
	ch chan provider.StreamDelta
}

func (b *blockingAdapter) FormatMessages(req provider.CompletionRequest) any { return nil }
func (b *blockingAdapter) FormatTools(tools []provider.Tool) any             { return nil }
func (b *blockingAdapter) BuildURL(cfg provider.ProviderConfig, model provider.Model) string {
	return ""
}
func (b *blockingAdapter) BuildHeaders(cfg provider.ProviderConfig, model provider.Model) map[string]string {
	return nil
}
func (b *blockingAdapter) BuildRequestBody(cfg provider.ProviderConfig, model provider.Model, req provider.CompletionRequest) ([]byte, error) {
	return nil, nil
}
func (b *blockingAdapter) ParseError(status int, body []byte) *provider.ProviderError { return nil }
func (b *blockingAdapter) StreamCompletion(ctx context.Context, cfg provider.ProviderConfig, model provider.Model, req provider.CompletionRequest) (<-chan provider.StreamDelta, error) {
	return b.ch, nil
}

func TestRunAbortMidStream(t *testing.T) {
	ch := make(chan provider.StreamDelta, 3)
	ch <- provider.StreamDelta{Content: "Hello"}
	ch <- provider.StreamDelta{Content: ", world"}
	ch <- provider.StreamDelta{Content: " (never read)"}
	close(ch)

	abort := NewAbort()

	runner := &Runner{Registry: &fakeResolver{adapter: &blockingAdapter{ch: ch}}}

	// The caller aborts as soon as the second text delta has been delivered,
	// so the third chunk is still pending when the flag is observed.
	var events []Event
	textDeltas := 0
	sink := SinkFunc(func(e Event) {
		events = append(events, e)
		if e.Type == EventTextDelta {
			textDeltas++
			if textDeltas == 2 {
				abort.Signal()
			}
		}
	})

	resp := runner.Run(context.Background(), baseRequest(), sink, abort)

	if !resp.Aborted {
		t.Error("expected Aborted=true")
	}
	if resp.Content != "Hello, world" {
		t.Errorf("expected accumulated content before abort, got %q", resp.Content)
	}
	found := false
	for _, e := range events {
		if e.Type == EventAgentAborted {
			found = true
		}
		if e.Type == EventAgentComplete {
			t.Error("agent_complete must not be emitted on an aborted run")
		}
	}
	if !found {
		t.Error("expected an agent_aborted event")
	}
}

func TestRunMaxIterationsZeroShortCircuits(t *testing.T) {
	adapter := &fakeAdapter{}
	zero := 0
	req := baseRequest()
	req.MaxIterations = &zero

	runner := &Runner{Registry: &fakeResolver{adapter: adapter}}
	resp := runner.Run(context.Background(), req, nil, nil)

	if resp.Iterations != 0 {
		t.Errorf("expected 0 iterations, got %d", resp.Iterations)
	}
	if resp.Error == "" {
		t.Error("expected an error describing the exhausted iteration budget")
	}
	if adapter.calls != 0 {
		t.Errorf("expected no StreamCompletion calls, got %d", adapter.calls)
	}
}

func TestRunMaxIterationsExhaustedAppendsWarning(t *testing.T) {
	one := 1
	req := baseRequest()
	req.MaxIterations = &one

	adapter := &fakeAdapter{batches: [][]provider.StreamDelta{
		{{ToolCalls: []provider.ToolCallDelta{{Index: 0, ID: "c1", Name: "read_file", Arguments: `{"path":"x"}`}}, FinishReason: provider.FinishToolCalls}},
	}}
	dir := t.TempDir()
	runner := &Runner{
		Registry: &fakeResolver{adapter: adapter},
		Executor: &toolexec.Executor{PathValidator: &toolexec.PathValidator{Root: dir}},
	}

	resp := runner.Run(context.Background(), req, nil, nil)

	if resp.Iterations != 1 {
		t.Errorf("expected iterations=1 (the budget), got %d", resp.Iterations)
	}
	if resp.Error == "" {
		t.Error("expected max-iterations error")
	}
	if !strings.Contains(resp.Content, "1-iteration limit") {
		t.Errorf("expected the iteration-limit warning appended to content, got %q", resp.Content)
	}
	if len(resp.ToolCallsExecuted) != 1 {
		t.Errorf("the one permitted tool call should still have executed, got %d", len(resp.ToolCallsExecuted))
	}
}

func TestModeToolsetRestrictsPlannerToReadOnly(t *testing.T) {
	set := modeToolset(ModePlanner)
	if set["execute_command"] {
		t.Error("planner mode must not include execute_command")
	}
	if !set["read_file"] {
		t.Error("planner mode must include read_file")
	}
}

func TestModeToolsetBuilderIsUnrestricted(t *testing.T) {
	if modeToolset(ModeBuilder) != nil {
		t.Error("builder mode should return a nil (unrestricted) set")
	}
}
