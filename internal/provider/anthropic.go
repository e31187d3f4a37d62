package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/xonecas/agentrt/internal/streamproc"
)

// anthropicAdapter implements Adapter for the POST <base>/messages wire
// format.
type anthropicAdapter struct {
	client HTTPDoer
}

func newAnthropicAdapter(client HTTPDoer) *anthropicAdapter {
	return &anthropicAdapter{client: client}
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicCacheBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	InputSchema  json.RawMessage        `json:"input_schema"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicRequest struct {
	Model       string                `json:"model"`
	Messages    []anthropicMessage    `json:"messages"`
	System      []anthropicCacheBlock `json:"system,omitempty"`
	MaxTokens   int                   `json:"max_tokens"`
	Temperature float64               `json:"temperature,omitempty"`
	Stream      bool                  `json:"stream"`
	Tools       []anthropicTool       `json:"tools,omitempty"`
}

func (a *anthropicAdapter) FormatMessages(req CompletionRequest) any {
	_, msgs := toAnthropicMessages(req.Messages)
	return msgs
}

func (a *anthropicAdapter) FormatTools(tools []Tool) any {
	return toAnthropicTools(tools)
}

func (a *anthropicAdapter) BuildURL(cfg ProviderConfig, model Model) string {
	return strings.TrimRight(cfg.BaseURL, "/") + "/messages"
}

func (a *anthropicAdapter) BuildHeaders(cfg ProviderConfig, model Model) map[string]string {
	base := map[string]string{
		"anthropic-version": "2023-06-01",
	}
	if cfg.APIKey != "" {
		base["x-api-key"] = cfg.APIKey
	}
	return MergeHeaders(base, cfg.ExtraHeaders, model.ExtraHeaders)
}

func (a *anthropicAdapter) BuildRequestBody(cfg ProviderConfig, model Model, req CompletionRequest) ([]byte, error) {
	system, msgs := toAnthropicMessages(req.Messages)
	if req.SystemPrompt != "" {
		system = append([]anthropicCacheBlock{{Type: "text", Text: req.SystemPrompt}}, system...)
	}
	markLastSystemCacheable(system)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = minOutputTokens
	}

	body := anthropicRequest{
		Model:       modelWireID(model),
		Messages:    msgs,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		Tools:       toAnthropicTools(req.Tools),
	}
	return json.Marshal(body)
}

func (a *anthropicAdapter) ParseError(status int, respBody []byte) *ProviderError {
	pe := newProviderError(status, respBody)
	if pe.Class == ErrAuth {
		pe.Message += " (check your x-api-key)"
	}
	return pe
}

// toAnthropicMessages hoists system messages out to a separate list and
// converts the remainder to Anthropic's user/assistant content-block shape,
// then merges consecutive same-role messages so the result satisfies the
// wire format's strict alternation requirement — a step the conversation
// builder itself does not need to take, since only Anthropic's wire format
// enforces alternation.
func toAnthropicMessages(msgs []Message) ([]anthropicCacheBlock, []anthropicMessage) {
	var system []anthropicCacheBlock
	var converted []anthropicMessage

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropicCacheBlock{Type: "text", Text: m.Content})

		case RoleTool:
			converted = append(converted, anthropicMessage{
				Role: "user",
				Content: []anthropicToolResultBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})

		case RoleAssistant:
			var blocks []any
			if m.Content != "" {
				blocks = append(blocks, anthropicTextBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: rawOrEmptyObject(tc.Arguments),
				})
			}
			converted = append(converted, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			converted = append(converted, anthropicMessage{
				Role:    "user",
				Content: []anthropicTextBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	return system, mergeConsecutiveSameRole(converted)
}

// mergeConsecutiveSameRole concatenates the content arrays of adjacent
// same-role messages so the resulting sequence strictly alternates
// user/assistant, as Anthropic's API requires. The teacher's own
// toAnthropicMessages never performed this step; a tool-result turn (always
// emitted as "user") immediately followed or preceded by a plain user turn
// is the case that most commonly violates alternation without it.
func mergeConsecutiveSameRole(msgs []anthropicMessage) []anthropicMessage {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]anthropicMessage, 0, len(msgs))
	out = append(out, msgs[0])
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role {
			last.Content = append(toAnyBlocks(last.Content), toAnyBlocks(m.Content)...)
			continue
		}
		out = append(out, m)
	}
	return out
}

func toAnyBlocks(content any) []any {
	switch v := content.(type) {
	case []any:
		return v
	case []anthropicTextBlock:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}
		return out
	case []anthropicToolResultBlock:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}
		return out
	default:
		return nil
	}
}

func markLastSystemCacheable(blocks []anthropicCacheBlock) {
	if len(blocks) == 0 {
		return
	}
	blocks[len(blocks)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
}

// toAnthropicTools passes InputSchema through as raw JSON (not re-marshaled
// from a decoded map) for deterministic, KV-cache-friendly request bodies,
// and marks the last tool cacheable the same way the last system block is.
func toAnthropicTools(tools []Tool) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: rawOrEmptyObject(t.Parameters),
		})
	}
	if len(out) > 0 {
		out[len(out)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}
	return out
}

// Anthropic SSE event payload shapes.
type anthropicMessageStart struct {
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type anthropicMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicContentBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type anthropicContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

// anthropicBlockTracker maps Anthropic content-block indices (which include
// text blocks) to sequential universal tool-call indices.
type anthropicBlockTracker struct {
	toolCallCount  int
	blockIsToolUse map[int]bool
	blockToolIndex map[int]int
}

func newAnthropicBlockTracker() *anthropicBlockTracker {
	return &anthropicBlockTracker{
		blockIsToolUse: make(map[int]bool),
		blockToolIndex: make(map[int]int),
	}
}

func (a *anthropicAdapter) StreamCompletion(ctx context.Context, cfg ProviderConfig, model Model, req CompletionRequest) (<-chan StreamDelta, error) {
	body, err := a.BuildRequestBody(cfg, model, req)
	if err != nil {
		return nil, err
	}
	resp, err := httpDoSSE(ctx, httpRequestConfig{
		client:  a.client,
		url:     a.BuildURL(cfg, model),
		method:  "POST",
		body:    body,
		headers: a.BuildHeaders(cfg, model),
	})
	if err != nil {
		return nil, &ProviderError{Class: classifyTransportError(err), Message: "connecting to anthropic stream", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, a.ParseError(resp.StatusCode, errBody)
	}

	out := make(chan StreamDelta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reasm := streamproc.NewReassembler()
		acc := streamproc.NewAccumulator()
		bt := newAnthropicBlockTracker()

		process := func(frames []streamproc.Frame) bool {
			for _, f := range frames {
				delta, stop := handleAnthropicEvent(acc, bt, f)
				if delta != nil {
					if !trySend(ctx, out, *delta) {
						return false
					}
				}
				if stop {
					return false
				}
			}
			return true
		}

		_ = scanSSEBody(resp.Body, func(chunk []byte) bool {
			return process(reasm.Feed(chunk))
		})
		process(reasm.Flush())

		res := acc.Finish()
		trySend(ctx, out, finalDeltaFromResult(res))
	}()
	return out, nil
}

func handleAnthropicEvent(acc *streamproc.Accumulator, bt *anthropicBlockTracker, f streamproc.Frame) (*StreamDelta, bool) {
	switch f.EventType {
	case "message_start":
		var evt anthropicMessageStart
		streamproc.Decode(f.Data, &evt)
		acc.LatchUsage(evt.Message.Usage.InputTokens, 0)
		return nil, false

	case "message_delta":
		var evt anthropicMessageDelta
		streamproc.Decode(f.Data, &evt)
		acc.LatchUsage(0, evt.Usage.OutputTokens)
		if evt.Delta.StopReason != "" {
			acc.SetFinishReason(string(mapAnthropicStopReason(evt.Delta.StopReason)))
		}
		return nil, false

	case "content_block_start":
		var evt anthropicContentBlockStart
		if !streamproc.Decode(f.Data, &evt) {
			return nil, false
		}
		if evt.ContentBlock.Type == "tool_use" {
			idx := bt.toolCallCount
			bt.toolCallCount++
			bt.blockIsToolUse[evt.Index] = true
			bt.blockToolIndex[evt.Index] = idx
			acc.BeginToolCall(idx, evt.ContentBlock.ID, evt.ContentBlock.Name, "")
			return &StreamDelta{ToolCalls: []ToolCallDelta{{Index: idx, ID: evt.ContentBlock.ID, Name: evt.ContentBlock.Name}}}, false
		}
		return nil, false

	case "content_block_delta":
		var evt anthropicContentBlockDelta
		if !streamproc.Decode(f.Data, &evt) {
			return nil, false
		}
		switch evt.Delta.Type {
		case "text_delta":
			if evt.Delta.Text == "" {
				return nil, false
			}
			acc.AddContent(evt.Delta.Text)
			return &StreamDelta{Content: evt.Delta.Text}, false
		case "thinking_delta":
			if evt.Delta.Thinking == "" {
				return nil, false
			}
			acc.AddReasoning(evt.Delta.Thinking)
			return &StreamDelta{ReasoningContent: evt.Delta.Thinking}, false
		case "input_json_delta":
			if !bt.blockIsToolUse[evt.Index] {
				return nil, false
			}
			idx := bt.blockToolIndex[evt.Index]
			acc.AppendToolArgs(idx, evt.Delta.PartialJSON)
			return &StreamDelta{ToolCalls: []ToolCallDelta{{Index: idx, Arguments: evt.Delta.PartialJSON}}}, false
		default:
			return nil, false
		}

	case "message_stop":
		return nil, true

	case "ping", "content_block_stop":
		return nil, false

	default:
		return nil, false
	}
}

func mapAnthropicStopReason(reason string) FinishReason {
	switch reason {
	case "tool_use":
		return FinishToolCalls
	case "end_turn":
		return FinishStop
	default:
		return FinishReason(reason)
	}
}
