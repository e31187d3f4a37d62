package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xonecas/agentrt/internal/provider"
)

// MCPCaller is implemented by the MCP client manager (internal/mcpclient).
// Kept as a narrow interface here so toolexec has no dependency on the MCP
// transport package — only on the one method it needs to dispatch into.
type MCPCaller interface {
	CallTool(ctx context.Context, prefixedName string, args json.RawMessage) (output string, isError bool, err error)
}

// Executor dispatches tool calls by name: names prefixed with "mcp_" go to
// the MCP manager, everything else maps to a built-in implementation. Every
// call is wrapped so Execute never returns a Go error — failure is always
// encoded in the returned provider.ToolResult.
type Executor struct {
	PathValidator *PathValidator
	MCP           MCPCaller
	SearchBackend WebSearchBackend
	DomainAllow   DomainAllower
}

// MutatingTools is the set of tool names the agent loop must gate behind an
// approval callback before dispatching to Execute.
var MutatingTools = map[string]bool{
	"write_file": true, "str_replace": true, "delete_file": true,
	"move_file": true, "create_directory": true, "execute_command": true,
}

// Execute runs one tool call by name and always returns a ToolResult —
// success or failure — never a Go error.
func (e *Executor) Execute(ctx context.Context, callID, name string, args json.RawMessage) provider.ToolResult {
	start := time.Now()
	output, err := e.dispatch(ctx, name, args)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		return provider.ToolResult{
			ToolCallID: callID, ToolName: name, Success: false,
			Output: fmt.Sprintf("Error executing %s: %s", name, err), DurationMs: duration,
		}
	}
	return provider.ToolResult{ToolCallID: callID, ToolName: name, Success: true, Output: output, DurationMs: duration}
}

func (e *Executor) dispatch(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	if strings.HasPrefix(name, "mcp_") {
		if e.MCP == nil {
			return "", fmt.Errorf("no MCP manager configured")
		}
		output, isError, err := e.MCP.CallTool(ctx, name, raw)
		if err != nil {
			return "", err
		}
		if isError {
			return "", fmt.Errorf("%s", output)
		}
		return output, nil
	}

	switch name {
	case "read_file":
		var a struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		return ReadFile(e.PathValidator, a.Path)

	case "write_file":
		var a struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := WriteFile(e.PathValidator, a.Path, a.Content); err != nil {
			return "", err
		}
		return fmt.Sprintf("Wrote %s", a.Path), nil

	case "str_replace":
		var a struct {
			Path   string `json:"path"`
			OldStr string `json:"old_str"`
			NewStr string `json:"new_str"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		diff, err := StrReplace(e.PathValidator, a.Path, a.OldStr, a.NewStr)
		if err != nil {
			return "", err
		}
		return diff, nil

	case "list_directory":
		var a struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		entries, err := ListDirectory(e.PathValidator, a.Path)
		if err != nil {
			return "", err
		}
		return strings.Join(entries, "\n"), nil

	case "create_directory":
		var a struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := CreateDirectory(e.PathValidator, a.Path); err != nil {
			return "", err
		}
		return fmt.Sprintf("Created directory %s", a.Path), nil

	case "delete_file":
		var a struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := DeleteFile(e.PathValidator, a.Path); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted %s", a.Path), nil

	case "move_file":
		var a struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := MoveFile(e.PathValidator, a.From, a.To); err != nil {
			return "", err
		}
		return fmt.Sprintf("Moved %s to %s", a.From, a.To), nil

	case "search_files":
		var a struct {
			Path    string `json:"path"`
			Pattern string `json:"pattern"`
			Include string `json:"include,omitempty"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		results, err := SearchFiles(ctx, e.PathValidator, a.Path, a.Pattern, a.Include)
		if err != nil {
			return "", err
		}
		return formatSearchResults(results), nil

	case "execute_command":
		var a ExecArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		return ExecuteCommand(ctx, e.PathValidator, a)

	case "get_git_diff":
		var a GitDiffArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		return GetGitDiff(ctx, e.PathValidator, a)

	case "list_code_definitions":
		var a struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		defs, err := ListCodeDefinitions(ctx, e.PathValidator, a.Path)
		if err != nil {
			return "", err
		}
		return formatCodeDefinitions(defs), nil

	case "fetch_url":
		var a struct {
			URL      string `json:"url"`
			MaxChars int    `json:"max_chars,omitempty"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		return FetchURL(ctx, e.DomainAllow, a.URL, a.MaxChars)

	case "web_search":
		var a struct {
			Query      string `json:"query"`
			NumResults int    `json:"num_results,omitempty"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		return WebSearch(ctx, e.SearchBackend, a.Query, a.NumResults)

	case "lint_file":
		var a struct {
			Path string `json:"path"`
		}
		json.Unmarshal(raw, &a)
		return LintFile(a.Path)

	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func formatSearchResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No matches found."
	}
	var b strings.Builder
	for _, r := range results {
		if r.Line > 0 {
			fmt.Fprintf(&b, "%s:%d: %s\n", r.Path, r.Line, r.Text)
		} else {
			fmt.Fprintf(&b, "%s\n", r.Path)
		}
	}
	return b.String()
}

func formatCodeDefinitions(defs []CodeDefinition) string {
	if len(defs) == 0 {
		return "No definitions found."
	}
	var b strings.Builder
	for _, d := range defs {
		sig := d.Signature
		if sig == "" {
			sig = d.Name
		}
		fmt.Fprintf(&b, "%s:%d-%d  %s\n", d.Kind, d.StartLine, d.EndLine, sig)
	}
	return b.String()
}
