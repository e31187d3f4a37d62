// Package agent wires the provider adapter, conversation manager, and tool
// executor into the single-threaded iteration driver described as the agent
// loop: stream a completion, execute any tool calls it requests, feed the
// results back, and repeat until the model stops or an iteration/abort bound
// fires.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/conversation"
	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/toolexec"
)

const (
	toolResultDisplayCap     = 5000
	defaultRecitationInterval = 10
)

// mutatingTools mirrors toolexec.MutatingTools; kept as a package-level
// reference rather than re-declared so the gate and the executor can never
// drift apart.
var mutatingTools = toolexec.MutatingTools

// Resolver produces an Adapter for a (provider, model) pair. *provider.Registry
// satisfies this by structural typing; tests inject a stub instead of
// standing up a real HTTP-backed registry.
type Resolver interface {
	Resolve(providerID string, model provider.Model) (provider.Adapter, provider.ProviderConfig, error)
}

// Runner drives one agent loop. Per-run state lives in a fresh
// conversation.Manager and local counters, but Run mutates the shared
// Executor's path-approval hook for the duration of the call, so a single
// Runner must only be reused across sequential runs, never concurrent ones.
type Runner struct {
	Registry     Resolver
	Executor     *toolexec.Executor
	MCPTools     func() []provider.Tool
	ToolApproval ToolApprovalFunc
	PathApproval PathApprovalFunc
	Scratchpad   conversation.ScratchpadReader
	// RecitationInterval overrides how often (in iterations) the goal is
	// re-injected into the conversation. 0 means defaultRecitationInterval.
	RecitationInterval int
	Now                func() time.Time // overridable for tests; nil uses time.Now
}

func (r *Runner) recitationInterval() int {
	if r.RecitationInterval > 0 {
		return r.RecitationInterval
	}
	return defaultRecitationInterval
}

// Abort is a cooperative cancellation flag shared between the caller and a
// single in-flight Run. The next stream chunk, iteration boundary, or
// approval decision observes it; in-flight tool execution always completes.
type Abort struct {
	ch chan struct{}
}

// NewAbort creates an unset abort flag.
func NewAbort() *Abort { return &Abort{ch: make(chan struct{})} }

// Signal flips the flag. Safe to call more than once.
func (a *Abort) Signal() {
	select {
	case <-a.ch:
	default:
		close(a.ch)
	}
}

func (a *Abort) isSet() bool {
	if a == nil {
		return false
	}
	select {
	case <-a.ch:
		return true
	default:
		return false
	}
}

// Run executes one full agent loop and returns its final outcome. sink
// receives the strictly sequenced event stream as the run progresses; abort
// may be nil (never aborts).
func (r *Runner) Run(ctx context.Context, req AgentRequest, sink Sink, abort *Abort) AgentResponse {
	emitter := newEmitter(sink, r.Now)

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	adapter, providerCfg, err := r.Registry.Resolve(req.Provider.ID, req.Model)
	if err != nil {
		emitter.emit(EventAgentError, map[string]any{"error": err.Error()})
		return AgentResponse{Error: err.Error()}
	}

	// The path validator's approval hook is wired once per run rather than
	// built into the Executor at construction time, since it emits
	// path_approval_required through this run's emitter. A Runner is only
	// safe to reuse across sequential runs, never concurrent ones, for this
	// reason.
	if r.Executor != nil && r.Executor.PathValidator != nil && r.PathApproval != nil {
		approval := r.PathApproval
		r.Executor.PathValidator.Approve = func(resolvedPath, reason string) bool {
			emitter.emit(EventPathApprovalRequired, map[string]any{
				"approvalId": uuid.NewString(), "filePath": resolvedPath, "reason": reason,
			})
			return approval(resolvedPath, reason)
		}
	}

	tools := r.buildCatalog(req)
	conv := conversation.NewManager(req.Model.ContextWindow, req.Model.MaxOutputTokens)
	for _, m := range req.ConversationHistory {
		conv.Append(m)
	}
	// The system prompt travels solely via CompletionRequest.SystemPrompt
	// (passed to every adapter below); it is never appended to the
	// conversation history, since each adapter already hoists it into its
	// own wire-format system slot and would otherwise emit it twice.
	conv.Append(provider.Message{Role: provider.RoleUser, Content: joinUserMessage(req.UserMessage, req.FileContext)})

	emitter.emit(EventThinking, map[string]any{"message": "starting run"})

	maxIterations := req.maxIterations()
	var totalContent string
	var toolCallsExecuted []provider.ToolResult
	var usage provider.Usage
	iteration := 0

	for ; iteration < maxIterations; iteration++ {
		if abort.isSet() {
			emitter.emit(EventAgentAborted, map[string]any{"iteration": iteration, "content": totalContent})
			return AgentResponse{
				Content: totalContent, ToolCallsExecuted: toolCallsExecuted, Iterations: iteration,
				ConversationHistory: conv.Messages(), Aborted: true,
			}
		}
		emitter.emit(EventIterationStart, map[string]any{"iteration": iteration, "maxIterations": maxIterations})

		conv.InjectRecitation(iteration, r.recitationInterval(), r.Scratchpad)

		completionReq := provider.CompletionRequest{
			Messages:     conv.Messages(),
			SystemPrompt: req.SystemPrompt,
		}
		if req.Model.SupportsToolsOrDefault() && len(tools) > 0 {
			completionReq.Tools = tools
		}

		deltas, err := adapter.StreamCompletion(ctx, providerCfg, req.Model, completionReq)
		if err != nil {
			emitter.emit(EventAgentError, map[string]any{"error": err.Error(), "iteration": iteration})
			return AgentResponse{
				Content: totalContent, ToolCallsExecuted: toolCallsExecuted, Iterations: iteration,
				ConversationHistory: conv.Messages(), Error: err.Error(),
			}
		}

		result, streamErr := r.drainStream(ctx, emitter, deltas, abort)
		if abort.isSet() {
			totalContent += result.content
			emitter.emit(EventAgentAborted, map[string]any{"iteration": iteration, "content": totalContent})
			return AgentResponse{
				Content: totalContent, ToolCallsExecuted: toolCallsExecuted, Iterations: iteration,
				ConversationHistory: conv.Messages(), Aborted: true,
			}
		}
		if streamErr != nil {
			emitter.emit(EventAgentError, map[string]any{"error": streamErr.Error(), "iteration": iteration})
			return AgentResponse{
				Content: totalContent, ToolCallsExecuted: toolCallsExecuted, Iterations: iteration,
				ConversationHistory: conv.Messages(), Error: streamErr.Error(),
			}
		}

		totalContent += result.content
		addUsage(&usage, result.usage)

		if result.finishReason == provider.FinishToolCalls && len(result.toolCalls) > 0 {
			assistantMsg := provider.Message{Role: provider.RoleAssistant, Content: result.content, Reasoning: result.reasoning, ToolCalls: result.toolCalls}
			conv.Append(assistantMsg)

			calls := make([]provider.ToolCall, len(result.toolCalls))
			copy(calls, result.toolCalls)

			for _, call := range result.toolCalls {
				emitter.emit(EventToolCallStart, map[string]any{"id": call.ID, "name": call.Name, "arguments": string(call.Arguments)})

				toolResult := r.runOneTool(ctx, emitter, call, abort)
				toolCallsExecuted = append(toolCallsExecuted, toolResult)

				display := toolResult.Output
				if len(display) > toolResultDisplayCap {
					display = display[:toolResultDisplayCap]
				}
				emitter.emit(EventToolResult, map[string]any{
					"id": toolResult.ToolCallID, "name": toolResult.ToolName,
					"success": toolResult.Success, "output": display, "durationMs": toolResult.DurationMs,
				})

				conv.Append(provider.Message{
					Role: provider.RoleTool, Content: toolResult.Output,
					ToolCallID: toolResult.ToolCallID, ToolName: toolResult.ToolName,
				})
			}

			conv.RepeatGuard(calls)
			conv.EvictToFit()

			emitter.emit(EventIterationComplete, map[string]any{"iteration": iteration, "toolCallCount": len(result.toolCalls), "continuing": true})
			continue
		}

		if result.content != "" {
			conv.Append(provider.Message{Role: provider.RoleAssistant, Content: result.content, Reasoning: result.reasoning})
		}
		conv.EvictToFit()
		emitter.emit(EventIterationComplete, map[string]any{"iteration": iteration, "toolCallCount": 0, "continuing": false})

		emitter.emit(EventAgentComplete, map[string]any{
			"iterations": iteration + 1, "toolCallsExecuted": len(toolCallsExecuted),
			"contentLength": len(totalContent), "usage": usage,
		})
		return AgentResponse{
			Content: totalContent, ToolCallsExecuted: toolCallsExecuted, Iterations: iteration + 1,
			ConversationHistory: conv.Messages(),
		}
	}

	warning := fmt.Sprintf("\n\n[agent stopped: reached the %d-iteration limit for this run]", maxIterations)
	totalContent += warning
	emitter.emit(EventAgentError, map[string]any{"error": "max iterations reached", "iteration": iteration})
	emitter.emit(EventAgentComplete, map[string]any{
		"iterations": iteration, "toolCallsExecuted": len(toolCallsExecuted),
		"contentLength": len(totalContent), "usage": usage,
	})
	return AgentResponse{
		Content: totalContent, ToolCallsExecuted: toolCallsExecuted, Iterations: iteration,
		ConversationHistory: conv.Messages(), Error: "max iterations reached",
	}
}

// runOneTool honors the mutating-tool approval gate before dispatching to the
// executor. A declined call never reaches the executor at all; an abort
// signalled by the time the approval decision returns counts as a decline.
func (r *Runner) runOneTool(ctx context.Context, emitter *eventEmitter, call provider.ToolCall, abort *Abort) provider.ToolResult {
	if mutatingTools[call.Name] && r.ToolApproval != nil {
		emitter.emit(EventToolApprovalRequired, map[string]any{
			"approvalId": uuid.NewString(), "toolName": call.Name,
			"toolArgs": string(call.Arguments), "toolCallId": call.ID,
		})
		if !r.ToolApproval(ctx, call.Name, call.Arguments, call.ID) || abort.isSet() {
			return provider.ToolResult{
				ToolCallID: call.ID, ToolName: call.Name, Success: false,
				Output: "User declined this operation.",
			}
		}
	}
	return r.Executor.Execute(ctx, call.ID, call.Name, call.Arguments)
}

type drainResult struct {
	content      string
	reasoning    string
	toolCalls    []provider.ToolCall
	finishReason provider.FinishReason
	usage        provider.Usage
}

// drainStream consumes a completion's delta channel, emitting incremental
// text/reasoning/tool-call events, and assembles the final accumulated
// result. It checks the abort flag between every received delta.
func (r *Runner) drainStream(ctx context.Context, emitter *eventEmitter, deltas <-chan provider.StreamDelta, abort *Abort) (drainResult, error) {
	var res drainResult
	calls := map[int]*provider.ToolCall{}
	var order []int

	for delta := range deltas {
		if abort.isSet() {
			return res, nil
		}
		if delta.Content != "" {
			res.content += delta.Content
			emitter.emit(EventTextDelta, map[string]any{"content": delta.Content})
		}
		if delta.ReasoningContent != "" {
			res.reasoning += delta.ReasoningContent
			emitter.emit(EventReasoningDelta, map[string]any{"content": delta.ReasoningContent})
		}
		for _, tc := range delta.ToolCalls {
			existing, ok := calls[tc.Index]
			if !ok {
				existing = &provider.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: json.RawMessage(tc.Arguments)}
				calls[tc.Index] = existing
				order = append(order, tc.Index)
				emitter.emit(EventToolCallStart, map[string]any{"index": tc.Index, "id": tc.ID, "name": tc.Name, "arguments": tc.Arguments})
				continue
			}
			emitter.emit(EventToolCallDelta, map[string]any{"index": tc.Index, "arguments": tc.Arguments})
			if tc.ID != "" || tc.Name != "" {
				// The adapter's final delta carries the stream processor's
				// complete, already-repaired arguments for this index (see
				// finalDeltaFromResult) — replace rather than append, or the
				// fragments it already folded in would be duplicated.
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Name != "" {
					existing.Name = tc.Name
				}
				existing.Arguments = json.RawMessage(tc.Arguments)
				continue
			}
			existing.Arguments = json.RawMessage(string(existing.Arguments) + tc.Arguments)
		}
		if delta.FinishReason != "" {
			res.finishReason = delta.FinishReason
		}
		if delta.Usage != nil {
			res.usage.PromptTokens += delta.Usage.PromptTokens
			res.usage.CompletionTokens += delta.Usage.CompletionTokens
			res.usage.TotalTokens += delta.Usage.TotalTokens
		}
	}

	for _, idx := range order {
		call := calls[idx]
		if len(call.Arguments) == 0 {
			call.Arguments = json.RawMessage("{}")
		}
		res.toolCalls = append(res.toolCalls, *call)
	}
	return res, ctx.Err()
}

func addUsage(total *provider.Usage, delta provider.Usage) {
	total.PromptTokens += delta.PromptTokens
	total.CompletionTokens += delta.CompletionTokens
	total.TotalTokens += delta.TotalTokens
}

func joinUserMessage(userMessage, fileContext string) string {
	if fileContext == "" {
		return userMessage
	}
	return userMessage + "\n\n" + fileContext
}

// buildCatalog assembles the tool list for this run: built-in tools filtered
// by mode (or explicit ToolNames override), plus any MCP-discovered tools
// under their mcp_<server>_ prefixed names.
func (r *Runner) buildCatalog(req AgentRequest) []provider.Tool {
	builtins := toolexec.Catalog()

	var allowed map[string]bool
	if len(req.ToolNames) > 0 {
		allowed = make(map[string]bool, len(req.ToolNames))
		for _, n := range req.ToolNames {
			allowed[n] = true
		}
	} else {
		allowed = modeToolset(req.AgentMode)
	}

	var tools []provider.Tool
	for _, t := range builtins {
		if allowed == nil || allowed[t.Name] {
			tools = append(tools, t)
		}
	}
	if r.MCPTools != nil {
		tools = append(tools, r.MCPTools()...)
	}
	return tools
}

var readOnlyTools = map[string]bool{
	"read_file": true, "list_directory": true, "search_files": true,
	"get_git_diff": true, "list_code_definitions": true, "fetch_url": true,
	"web_search": true,
}

var chatTools = map[string]bool{
	"read_file": true, "list_directory": true, "search_files": true,
	"get_git_diff": true, "list_code_definitions": true, "fetch_url": true,
	"web_search": true, "write_file": true, "str_replace": true,
}

// modeToolset returns nil (meaning "every built-in tool") for builder mode,
// the only mode that reaches execute_command, delete_file, move_file and
// create_directory; chat mode adds write_file and str_replace to the
// read-only set.
func modeToolset(mode AgentMode) map[string]bool {
	switch mode {
	case ModePlanner:
		return readOnlyTools
	case ModeChat:
		return chatTools
	default:
		log.Debug().Str("mode", string(mode)).Msg("agent: defaulting to full builder tool catalog")
		return nil
	}
}
