package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xonecas/agentrt/internal/provider"
)

// MaxClients is the manager's concurrent-connection cap (SPEC §4.6/§5).
const MaxClients = 12

// ServerSpec describes one configured MCP server to connect to.
type ServerSpec struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string
}

// Manager is the process-wide registry of connected MCP clients. It flattens
// every client's tools into the mcp_<server>_ namespace the agent loop's
// catalog builder expects, and implements toolexec.MCPCaller by reversing
// that rewrite to locate the owning client.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*Client)}
}

// Connect spawns and handshakes a new server under spec.ID, enforcing the
// 12-client cap. If a client is already installed at spec.ID, it is
// disconnected first — installing at an occupied id replaces the occupant.
func (m *Manager) Connect(ctx context.Context, spec ServerSpec) error {
	m.mu.Lock()
	if existing, ok := m.clients[spec.ID]; ok {
		delete(m.clients, spec.ID)
		m.mu.Unlock()
		existing.Disconnect()
		m.mu.Lock()
	}
	if len(m.clients) >= MaxClients {
		m.mu.Unlock()
		return fmt.Errorf("mcp manager: at capacity (%d clients)", MaxClients)
	}
	m.mu.Unlock()

	client := New()
	if err := client.Connect(ctx, spec.Command, spec.Args, spec.Env); err != nil {
		return fmt.Errorf("mcp manager: connect %q: %w", spec.ID, err)
	}

	m.mu.Lock()
	m.clients[spec.ID] = client
	m.mu.Unlock()
	return nil
}

// Disconnect tears down and removes the client at id, if present.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	client, ok := m.clients[id]
	delete(m.clients, id)
	m.mu.Unlock()
	if ok {
		client.Disconnect()
	}
}

// DisconnectAll tears down every connected client.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()
	for _, c := range clients {
		c.Disconnect()
	}
}

// prefixFor rewrites a server id into the mcp_<serverId_with_dashes_replaced>_
// tool-name prefix, so downstream consumers don't have to know the dash
// convention.
func prefixFor(serverID string) string {
	return "mcp_" + strings.ReplaceAll(serverID, "-", "_") + "_"
}

// GetAllTools flattens every connected client's discovered tools into the
// universal provider.Tool shape, each renamed to its mcp_<server>_ prefixed
// name, ready to append to the built-in catalog.
func (m *Manager) GetAllTools() []provider.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []provider.Tool
	for id, client := range m.clients {
		prefix := prefixFor(id)
		for _, t := range client.Tools() {
			schema := t.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			out = append(out, provider.Tool{
				Name:        prefix + t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
	}
	return out
}

// CallTool implements toolexec.MCPCaller: it reverses the mcp_<server>_
// prefix to find the owning client and dispatches tools/call to it.
func (m *Manager) CallTool(ctx context.Context, prefixedName string, args json.RawMessage) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, client := range m.clients {
		prefix := prefixFor(id)
		if strings.HasPrefix(prefixedName, prefix) {
			originalName := strings.TrimPrefix(prefixedName, prefix)
			return client.CallTool(ctx, originalName, args)
		}
	}
	return "", false, fmt.Errorf("mcp manager: no connected server owns tool %q", prefixedName)
}

// ConnectedServerIDs returns the ids of currently connected clients.
func (m *Manager) ConnectedServerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}
