package agent

import (
	"context"
	"encoding/json"

	"github.com/xonecas/agentrt/internal/provider"
)

// AgentMode selects which slice of the built-in tool catalog a run may use.
type AgentMode string

const (
	ModeBuilder AgentMode = "builder" // full filesystem + exec + web tools
	ModePlanner AgentMode = "planner" // read-only tools only
	ModeChat    AgentMode = "chat"    // a mid-sized subset: read tools plus write_file/str_replace
)

// ApprovalMode controls how mutating tool calls are gated.
type ApprovalMode string

const (
	ApprovalAllowAll     ApprovalMode = "allow-all"
	ApprovalSessionOnly  ApprovalMode = "session-only"
	ApprovalAsk          ApprovalMode = "ask"
)

const defaultMaxIterations = 50

// ToolApprovalFunc decides whether a gated mutating tool call may proceed. A
// false return produces a synthetic declined-tool-call result rather than
// aborting the run.
type ToolApprovalFunc func(ctx context.Context, toolName string, toolArgs json.RawMessage, toolCallID string) bool

// PathApprovalFunc decides whether a path outside the project root may be
// touched. Reused by the executor's PathValidator.
type PathApprovalFunc func(resolvedPath, reason string) bool

// AgentRequest is the input to one Run.
type AgentRequest struct {
	RequestID           string
	UserMessage         string
	FileContext         string
	Model               provider.Model
	Provider            provider.ProviderConfig
	SystemPrompt        string
	ToolNames           []string // explicit override; if empty, AgentMode decides
	AgentMode           AgentMode
	MaxIterations       *int // nil means "use the default"; explicit 0 runs zero iterations
	ProjectPath         string
	ConversationHistory []provider.Message
	EditApprovalMode    ApprovalMode
}

func (r AgentRequest) maxIterations() int {
	if r.MaxIterations == nil {
		return defaultMaxIterations
	}
	return *r.MaxIterations
}

// AgentResponse is the outcome of one Run.
type AgentResponse struct {
	Content             string
	ToolCallsExecuted   []provider.ToolResult
	Iterations          int
	ConversationHistory []provider.Message
	Aborted             bool
	Error               string
}
