// Package provider normalizes three distinct LLM wire protocols (OpenAI-style
// chat completions, OpenAI-style responses, and Anthropic messages) behind a
// single universal message and streaming-event model.
package provider

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the provider-agnostic conversation entry. Tool parameters and
// tool-call arguments travel as json.RawMessage end to end — never decoded
// into a map and re-marshaled — so repeated calls against the same schema
// produce byte-identical request bodies, which matters for providers that run
// a prefix cache over the request.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a single model-issued function invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall. It is always produced —
// failure is encoded in Success/Output, never as a propagated error.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Success    bool
	Output     string
	DurationMs int64
}

// Tool is a single callable exposed to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FinishReason classifies why a completion stopped producing tokens.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishLength         FinishReason = "length"
	FinishContentFilter  FinishReason = "content_filter"
)

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCallDelta is one incremental fragment of a tool call as it streams in.
// Index is the provider-assigned, monotonically increasing slot for this
// call within the current completion. ID and Name are present on the first
// delta for a given index, where Arguments is a fragment to append. The
// adapters' final aggregated delta repeats ID and Name together with the
// complete, repaired arguments, which replace the fragments seen so far.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamDelta is one incremental unit of a streaming completion, after
// provider-specific normalization.
type StreamDelta struct {
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCallDelta
	FinishReason     FinishReason
	Usage            *Usage
}

// CompletionRequest is the input to a single (possibly multi-iteration) model
// call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []Tool
	Temperature  float64
	MaxTokens    int
}

// Model describes a concrete model identifier and its capabilities.
type Model struct {
	ID             string
	Name           string
	EndpointFormat EndpointFormat
	ContextWindow  int
	MaxOutputTokens int
	SupportsTools  *bool // nil means "assume yes"
	ExtraHeaders   map[string]string
}

// SupportsToolsOrDefault reports whether the model accepts tool definitions,
// defaulting to true when unset.
func (m Model) SupportsToolsOrDefault() bool {
	return m.SupportsTools == nil || *m.SupportsTools
}
