package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xonecas/agentrt/internal/streamproc"
)

// chatCompletionsAdapter implements Adapter for the OpenAI-style
// POST <base>/chat/completions wire format. Message/tool shaping reuses the
// real github.com/sashabaranov/go-openai SDK types so request bodies match
// what that ecosystem's own clients produce.
type chatCompletionsAdapter struct {
	client HTTPDoer
}

func newChatCompletionsAdapter(client HTTPDoer) *chatCompletionsAdapter {
	return &chatCompletionsAdapter{client: client}
}

func (a *chatCompletionsAdapter) FormatMessages(req CompletionRequest) any {
	return toOpenAIMessages(req)
}

func (a *chatCompletionsAdapter) FormatTools(tools []Tool) any {
	return toOpenAITools(tools)
}

func (a *chatCompletionsAdapter) BuildURL(cfg ProviderConfig, model Model) string {
	return strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
}

func (a *chatCompletionsAdapter) BuildHeaders(cfg ProviderConfig, model Model) map[string]string {
	base := map[string]string{}
	if cfg.APIKey != "" {
		base["Authorization"] = "Bearer " + cfg.APIKey
	}
	return MergeHeaders(base, cfg.ExtraHeaders, model.ExtraHeaders)
}

type chatCompletionRequest struct {
	Model          string                         `json:"model"`
	Messages       []openai.ChatCompletionMessage `json:"messages"`
	Tools          []openai.Tool                  `json:"tools,omitempty"`
	Temperature    float64                        `json:"temperature,omitempty"`
	MaxTokens      int                             `json:"max_tokens,omitempty"`
	Stream         bool                            `json:"stream"`
	StreamOptions  *chatStreamOptions              `json:"stream_options,omitempty"`
}

type chatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (a *chatCompletionsAdapter) BuildRequestBody(cfg ProviderConfig, model Model, req CompletionRequest) ([]byte, error) {
	body := chatCompletionRequest{
		Model:         modelWireID(model),
		Messages:      toOpenAIMessages(req),
		Tools:         toOpenAITools(req.Tools),
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &chatStreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	return json.Marshal(body)
}

func (a *chatCompletionsAdapter) ParseError(status int, respBody []byte) *ProviderError {
	return newProviderError(status, respBody)
}

// toOpenAIMessages renders universal messages into the go-openai SDK's
// ChatCompletionMessage shape, merging any leading system messages into one
// (mergeSystemMessagesOpenAI) since multiple system turns are not meaningful
// to this wire format.
func toOpenAIMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	msgs := mergeSystemMessagesOpenAI(req.Messages)
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case RoleAssistant:
			cm := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(rawOrEmptyObject(tc.Arguments)),
					},
				})
			}
			out = append(out, cm)
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

// mergeSystemMessagesOpenAI joins every system-role message into one,
// separated by blank lines, and places it first; the other messages keep
// their relative order.
func mergeSystemMessagesOpenAI(msgs []Message) []Message {
	var systemParts []string
	var out []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		out = append(out, m)
	}
	if len(systemParts) > 0 {
		merged := Message{Role: RoleSystem, Content: strings.Join(systemParts, "\n\n")}
		result := make([]Message, 0, len(out)+1)
		result = append(result, merged)
		result = append(result, out...)
		return result
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(rawOrEmptyObject(t.Parameters)),
			},
		})
	}
	return out
}

func modelWireID(model Model) string {
	if model.ID != "" {
		return model.ID
	}
	return model.Name
}

// Chat-completions SSE delta shapes.
type chatCompletionStreamResponse struct {
	Choices []chatCompletionStreamChoice `json:"choices"`
	Usage   *chatCompletionUsage         `json:"usage"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionStreamChoice struct {
	Delta        chatCompletionStreamDelta `json:"delta"`
	FinishReason string                    `json:"finish_reason"`
}

type chatCompletionStreamDelta struct {
	Role             string                   `json:"role"`
	Content          string                   `json:"content"`
	Reasoning        string                   `json:"reasoning"`
	ReasoningContent string                   `json:"reasoning_content"`
	ToolCalls        []chatCompletionToolCall `json:"tool_calls"`
}

type chatCompletionToolCall struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function chatCompletionFunction `json:"function"`
}

type chatCompletionFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (a *chatCompletionsAdapter) StreamCompletion(ctx context.Context, cfg ProviderConfig, model Model, req CompletionRequest) (<-chan StreamDelta, error) {
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
		return nil, &ProviderError{Class: classifyTransportError(err), Message: "connecting to chat-completions stream", Cause: err}
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

		process := func(frames []streamproc.Frame) bool {
			for _, f := range frames {
				var chunk chatCompletionStreamResponse
				if !streamproc.Decode(f.Data, &chunk) {
					continue
				}
				delta := emitChatCompletionsDelta(acc, chunk)
				if !trySend(ctx, out, delta) {
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

func emitChatCompletionsDelta(acc *streamproc.Accumulator, chunk chatCompletionStreamResponse) StreamDelta {
	var delta StreamDelta
	if chunk.Usage != nil {
		acc.AddUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
	}
	if len(chunk.Choices) == 0 {
		return delta
	}
	choice := chunk.Choices[0]
	d := choice.Delta

	content := d.Content
	if content != "" {
		acc.AddContent(content)
		delta.Content = content
	}
	reasoning := d.Reasoning
	if reasoning == "" {
		reasoning = d.ReasoningContent
	}
	if reasoning != "" {
		acc.AddReasoning(reasoning)
		delta.ReasoningContent = reasoning
	}
	for _, tc := range d.ToolCalls {
		if tc.ID != "" || tc.Function.Name != "" {
			acc.BeginToolCall(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		} else {
			acc.AppendToolArgs(tc.Index, tc.Function.Arguments)
		}
		delta.ToolCalls = append(delta.ToolCalls, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if choice.FinishReason != "" {
		fr := mapFinishReason(choice.FinishReason)
		acc.SetFinishReason(string(fr))
		delta.FinishReason = fr
	}
	return delta
}

func mapFinishReason(s string) FinishReason {
	switch s {
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	default:
		return FinishStop
	}
}

func finalDeltaFromResult(res streamproc.Result) StreamDelta {
	d := StreamDelta{
		FinishReason: FinishReason(res.FinishReason),
		Usage: &Usage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalTokens:      res.TotalTokens,
		},
	}
	for _, tc := range res.ToolCalls {
		d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: string(tc.Arguments),
		})
	}
	return d
}
