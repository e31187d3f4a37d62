package conversation

import (
	"strings"

	"github.com/xonecas/agentrt/internal/provider"
)

// ScratchpadReader exposes an agent's current working notes, when it keeps
// one, so recitation can prefer the agent's own plan over a generic replay
// of the user's original request.
type ScratchpadReader interface {
	Content() string
}

const recitationTag = "\n\n<system-reminder>\n"

// InjectRecitation appends a goal-recitation block to the most recent tool
// result every recitationInterval rounds, so the original request (or the
// agent's own plan, if it keeps one) stays in the model's recent attention
// window during long tool-calling loops. Appending to an existing message
// instead of inserting a new one avoids shifting message positions, which
// would invalidate provider-side prompt caching.
func (m *Manager) InjectRecitation(round, recitationInterval int, pad ScratchpadReader) {
	if recitationInterval <= 0 || round == 0 || round%recitationInterval != 0 {
		return
	}

	var reminder string
	if pad != nil {
		reminder = pad.Content()
	}
	if reminder == "" {
		for _, msg := range m.messages {
			if msg.Role == provider.RoleUser {
				reminder = "The user's original request: " + msg.Content
				break
			}
		}
	}
	if reminder == "" {
		return
	}

	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role != provider.RoleTool {
			continue
		}
		content := m.messages[i].Content
		if idx := strings.Index(content, recitationTag); idx >= 0 {
			content = content[:idx]
		}
		m.messages[i].Content = content + recitationTag + reminder + "\n</system-reminder>"
		return
	}
}

// repeatWindow is how many trailing tool calls RepeatGuard inspects.
const repeatWindow = 3

// RepeatGuard inspects the last repeatWindow tool calls across history and,
// if all of them share the same name and arguments, appends a warning to the
// most recent tool result urging the model to change approach. Returns true
// if a warning was appended.
func (m *Manager) RepeatGuard(calls []provider.ToolCall) bool {
	if len(calls) == 0 {
		return false
	}
	recent := m.recentCalls(repeatWindow)
	if len(recent) < repeatWindow {
		return false
	}
	first := recent[0]
	for _, c := range recent[1:] {
		if c != first {
			return false
		}
	}

	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role != provider.RoleTool {
			continue
		}
		m.messages[i].Content += "\n\n<system-reminder>WARNING: You are repeating the same tool call with the same arguments. This is wasteful. Stop and either try a different approach, summarize what you know, or ask the user for help.</system-reminder>"
		return true
	}
	return false
}

type calledTool struct {
	name string
	args string
}

// recentCalls walks history backward collecting the last n tool calls (by
// name+arguments), oldest-first, across however many assistant messages it
// takes to gather them.
func (m *Manager) recentCalls(n int) []calledTool {
	var out []calledTool
	for i := len(m.messages) - 1; i >= 0 && len(out) < n; i-- {
		msg := m.messages[i]
		if msg.Role != provider.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		for j := len(msg.ToolCalls) - 1; j >= 0 && len(out) < n; j-- {
			tc := msg.ToolCalls[j]
			out = append([]calledTool{{name: tc.Name, args: string(tc.Arguments)}}, out...)
		}
	}
	return out
}
