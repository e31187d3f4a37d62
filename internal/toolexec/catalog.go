package toolexec

import (
	"encoding/json"

	"github.com/xonecas/agentrt/internal/provider"
)

func rawSchema(s string) json.RawMessage { return json.RawMessage(s) }

// Catalog returns the built-in tool definitions in the universal
// provider.Tool shape, ready to hand to the agent loop's tool-catalog
// builder alongside any MCP-discovered tools.
func Catalog() []provider.Tool {
	return []provider.Tool{
		{
			Name:        "read_file",
			Description: "Read the UTF-8 content of a file. Rejects directories and files over 2 MB.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {"path": {"type": "string", "description": "Path to the file to read"}},
				"required": ["path"]
			}`),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed. Writes atomically.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        "str_replace",
			Description: "Replace a single, unique occurrence of old_str with new_str in a file. Fails if old_str is absent or occurs more than once. Returns a unified diff of the change.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"old_str": {"type": "string"},
					"new_str": {"type": "string"}
				},
				"required": ["path", "old_str", "new_str"]
			}`),
		},
		{
			Name:        "list_directory",
			Description: "List a directory's entries. Hidden entries and node_modules are filtered; directories are listed before files.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		},
		{
			Name:        "create_directory",
			Description: "Create a directory, including parent directories as needed.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		},
		{
			Name:        "delete_file",
			Description: "Delete a file.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		},
		{
			Name:        "move_file",
			Description: "Move or rename a file.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"from": {"type": "string"},
					"to": {"type": "string"}
				},
				"required": ["from", "to"]
			}`),
		},
		{
			Name:        "search_files",
			Description: "Regex search file contents under a directory. Honors .gitignore, max 100 results, max depth 8, skips files over 500 KB.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"pattern": {"type": "string"},
					"include": {"type": "string", "description": "Optional glob to restrict matched filenames"}
				},
				"required": ["path", "pattern"]
			}`),
		},
		{
			Name:        "execute_command",
			Description: "Execute an allow-listed command. No shell is invoked; shell metacharacters are rejected outright.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"command": {"type": "string"},
					"cwd": {"type": "string"},
					"timeoutSec": {"type": "integer"}
				},
				"required": ["command"]
			}`),
		},
		{
			Name:        "get_git_diff",
			Description: "Show a unified diff of working-tree or staged changes, optionally for one file.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"file": {"type": "string"},
					"staged": {"type": "boolean"}
				}
			}`),
		},
		{
			Name:        "list_code_definitions",
			Description: "Structurally scan a source file for top-level functions, classes, and types.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		},
		{
			Name:        "fetch_url",
			Description: "Fetch a URL and return cleaned, readable text.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"url": {"type": "string"},
					"max_chars": {"type": "integer"}
				},
				"required": ["url"]
			}`),
		},
		{
			Name:        "web_search",
			Description: "Search the web via the configured search backend.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"num_results": {"type": "integer"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "lint_file",
			Description: "Lint a file. Not implemented in this environment.",
			Parameters: rawSchema(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		},
	}
}
