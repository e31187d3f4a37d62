package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/xonecas/agentrt/internal/streamproc"
)

// responsesAdapter implements Adapter for the OpenAI-style
// POST <base>/responses wire format.
type responsesAdapter struct {
	client HTTPDoer
}

func newResponsesAdapter(client HTTPDoer) *responsesAdapter {
	return &responsesAdapter{client: client}
}

type responsesInputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// function_call
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Args   string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

type responsesToolParam struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type responsesRequest struct {
	Model        string               `json:"model"`
	Instructions string               `json:"instructions,omitempty"`
	Input        []responsesInputItem `json:"input"`
	Tools        []responsesToolParam `json:"tools,omitempty"`
	Temperature  float64              `json:"temperature,omitempty"`
	Stream       bool                 `json:"stream"`
}

func (a *responsesAdapter) FormatMessages(req CompletionRequest) any {
	return toResponsesInput(req.Messages)
}

func (a *responsesAdapter) FormatTools(tools []Tool) any {
	return toResponsesTools(tools)
}

func (a *responsesAdapter) BuildURL(cfg ProviderConfig, model Model) string {
	return strings.TrimRight(cfg.BaseURL, "/") + "/responses"
}

func (a *responsesAdapter) BuildHeaders(cfg ProviderConfig, model Model) map[string]string {
	base := map[string]string{}
	if cfg.APIKey != "" {
		base["Authorization"] = "Bearer " + cfg.APIKey
	}
	return MergeHeaders(base, cfg.ExtraHeaders, model.ExtraHeaders)
}

func (a *responsesAdapter) BuildRequestBody(cfg ProviderConfig, model Model, req CompletionRequest) ([]byte, error) {
	body := responsesRequest{
		Model:        modelWireID(model),
		Instructions: req.SystemPrompt,
		Input:        toResponsesInput(req.Messages),
		Tools:        toResponsesTools(req.Tools),
		Temperature:  req.Temperature,
		Stream:       true,
	}
	return json.Marshal(body)
}

func (a *responsesAdapter) ParseError(status int, respBody []byte) *ProviderError {
	return newProviderError(status, respBody)
}

// toResponsesInput renders universal messages into the Responses API's
// polymorphic input-item list: tool messages become function_call_output
// items, assistant-with-tool-calls messages become an optional text item
// followed by one function_call item per call, system becomes a developer
// message, everything else passes through as a role+content message.
func toResponsesInput(msgs []Message) []responsesInputItem {
	var out []responsesInputItem
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, responsesInputItem{Type: "message", Role: "developer", Content: m.Content})
		case RoleTool:
			out = append(out, responsesInputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content})
		case RoleAssistant:
			if m.Content != "" {
				out = append(out, responsesInputItem{Type: "message", Role: "assistant", Content: m.Content})
			}
			for _, tc := range m.ToolCalls {
				out = append(out, responsesInputItem{
					Type:   "function_call",
					CallID: tc.ID,
					Name:   tc.Name,
					Args:   string(rawOrEmptyObject(tc.Arguments)),
				})
			}
		default:
			out = append(out, responsesInputItem{Type: "message", Role: "user", Content: m.Content})
		}
	}
	return out
}

func toResponsesTools(tools []Tool) []responsesToolParam {
	out := make([]responsesToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, responsesToolParam{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  rawOrEmptyObject(t.Parameters),
		})
	}
	return out
}

// Responses API SSE event payload shapes. Each typed event carries its own
// fields; only the ones this adapter consumes are modeled.
type responsesOutputTextDelta struct {
	Delta string `json:"delta"`
}

type responsesReasoningDeltaEvt struct {
	Delta string `json:"delta"`
}

type responsesOutputItemAdded struct {
	OutputIndex int                     `json:"output_index"`
	Item        responsesOutputItemInfo `json:"item"`
}

type responsesOutputItemInfo struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	CallID string `json:"call_id"`
}

type responsesFuncCallArgsDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type responsesCompletedPayload struct {
	Response struct {
		Usage  responsesUsage           `json:"usage"`
		Output []responsesOutputItemInfo `json:"output"`
	} `json:"response"`
}

type responsesFailedPayload struct {
	Response struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// responsesTracker maps this stream's output_index values to sequential
// universal tool-call indices, since the Responses API's output_index space
// includes non-function-call items too.
type responsesTracker struct {
	toolCallCount  int
	outputToToolIdx map[int]int
}

func (a *responsesAdapter) StreamCompletion(ctx context.Context, cfg ProviderConfig, model Model, req CompletionRequest) (<-chan StreamDelta, error) {
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
		return nil, &ProviderError{Class: classifyTransportError(err), Message: "connecting to responses stream", Cause: err}
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
		tracker := &responsesTracker{outputToToolIdx: make(map[int]int)}

		process := func(frames []streamproc.Frame) bool {
			for _, f := range frames {
				delta, stop := handleResponsesEvent(acc, tracker, f)
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

func handleResponsesEvent(acc *streamproc.Accumulator, tr *responsesTracker, f streamproc.Frame) (*StreamDelta, bool) {
	switch f.EventType {
	case "response.output_text.delta":
		var evt responsesOutputTextDelta
		if !streamproc.Decode(f.Data, &evt) || evt.Delta == "" {
			return nil, false
		}
		acc.AddContent(evt.Delta)
		return &StreamDelta{Content: evt.Delta}, false

	case "response.reasoning_summary_text.delta", "response.reasoning.delta":
		var evt responsesReasoningDeltaEvt
		if !streamproc.Decode(f.Data, &evt) || evt.Delta == "" {
			return nil, false
		}
		acc.AddReasoning(evt.Delta)
		return &StreamDelta{ReasoningContent: evt.Delta}, false

	case "response.output_item.added":
		var evt responsesOutputItemAdded
		if !streamproc.Decode(f.Data, &evt) || evt.Item.Type != "function_call" {
			return nil, false
		}
		idx := tr.toolCallCount
		tr.toolCallCount++
		tr.outputToToolIdx[evt.OutputIndex] = idx
		acc.BeginToolCall(idx, evt.Item.CallID, evt.Item.Name, "")
		return &StreamDelta{ToolCalls: []ToolCallDelta{{Index: idx, ID: evt.Item.CallID, Name: evt.Item.Name}}}, false

	case "response.function_call_arguments.delta":
		var evt responsesFuncCallArgsDelta
		if !streamproc.Decode(f.Data, &evt) {
			return nil, false
		}
		idx, ok := tr.outputToToolIdx[evt.OutputIndex]
		if !ok {
			return nil, false
		}
		acc.AppendToolArgs(idx, evt.Delta)
		return &StreamDelta{ToolCalls: []ToolCallDelta{{Index: idx, Arguments: evt.Delta}}}, false

	case "response.completed", "response.done":
		var evt responsesCompletedPayload
		streamproc.Decode(f.Data, &evt)
		acc.AddUsage(evt.Response.Usage.InputTokens, evt.Response.Usage.OutputTokens)
		hasCall := false
		for _, o := range evt.Response.Output {
			if o.Type == "function_call" {
				hasCall = true
				break
			}
		}
		if hasCall {
			acc.SetFinishReason(string(FinishToolCalls))
		} else {
			acc.SetFinishReason(string(FinishStop))
		}
		return nil, true

	case "response.failed":
		var evt responsesFailedPayload
		streamproc.Decode(f.Data, &evt)
		acc.SetFinishReason(string(FinishStop))
		return nil, true

	case "response.incomplete":
		acc.SetFinishReason(string(FinishLength))
		return nil, true

	default:
		return nil, false
	}
}
