package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/agentrt/internal/toolexec"
)

const (
	initializeTimeout = 30 * time.Second
	callTimeout       = 30 * time.Second
	maxFrameBuffer    = 1 << 20 // 1 MB without a newline is treated as malformed output
	killGrace         = 3 * time.Second
	logRingSize       = 500
)

// pendingRequest is one in-flight JSON-RPC call awaiting correlation by id.
type pendingRequest struct {
	resultCh chan *Response
}

// Client is a single MCP server connection: one spawned subprocess speaking
// newline-delimited JSON-RPC 2.0 over its stdio.
type Client struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	requestID atomic.Int64
	pending   map[string]*pendingRequest
	tools     []Tool
	connected bool

	logMu  sync.Mutex
	logRing []string

	done chan struct{}
}

// New creates an unconnected client. Call Connect to spawn the subprocess.
func New() *Client {
	return &Client{pending: make(map[string]*pendingRequest), done: make(chan struct{})}
}

// Connect validates the spawn command against the shared execute_command
// allow-list (SPEC §B.8), spawns the server process with shell=false and
// piped stdio, and runs the initialize/initialized/tools/list handshake.
// On any failure, the process is torn down and an error returned.
func (c *Client) Connect(ctx context.Context, command string, args []string, env map[string]string) error {
	if err := validateSpawnCommand(command, args); err != nil {
		return err
	}

	cmd := exec.Command(command, args...)
	cmd.Env = mergeEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp connect: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp connect: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("mcp connect: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp connect: spawn %q: %w", command, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.mu.Unlock()

	go c.readLoop(stdout)
	go c.logStderr(stderr)

	if err := c.handshake(ctx); err != nil {
		c.Disconnect()
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	params, _ := json.Marshal(map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "agentrt", "version": "0.1.0"},
	})
	resp, err := c.call(initCtx, "initialize", params)
	if err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("mcp initialize: %s", resp.Error.Message)
	}

	if err := c.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("mcp initialized notification: %w", err)
	}

	listCtx, cancel2 := context.WithTimeout(ctx, initializeTimeout)
	defer cancel2()
	listResp, err := c.call(listCtx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("mcp tools/list: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("mcp tools/list: %s", listResp.Error.Message)
	}
	var result listToolsResult
	if err := json.Unmarshal(listResp.Result, &result); err != nil {
		return fmt.Errorf("mcp tools/list: unmarshal: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the tool snapshot discovered at connect time.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Connected reports whether the handshake completed successfully and the
// client has not since been disconnected.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// CallTool sends tools/call and returns the concatenated text content of the
// result, plus whether the server flagged the call as an error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params, err := json.Marshal(callToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", false, fmt.Errorf("mcp tools/call: marshal params: %w", err)
	}
	resp, err := c.call(callCtx, "tools/call", params)
	if err != nil {
		return "", false, err
	}
	if resp.Error != nil {
		return resp.Error.Message, true, nil
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", false, fmt.Errorf("mcp tools/call: unmarshal result: %w", err)
	}
	var b strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), result.IsError, nil
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (*Response, error) {
	id := strconv.FormatInt(c.requestID.Add(1), 10)
	req := newRequest(id, method, params)

	resultCh := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = &pendingRequest{resultCh: resultCh}
	stdin := c.stdin
	c.mu.Unlock()

	if stdin == nil {
		return nil, fmt.Errorf("mcp %s: not connected", method)
	}

	if err := writeFrame(stdin, req); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("mcp %s: write request: %w", method, err)
	}

	select {
	case resp := <-resultCh:
		return resp, nil
	case <-ctx.Done():
		c.removePending(id)
		return nil, fmt.Errorf("mcp %s: %w", method, ctx.Err())
	case <-c.done:
		c.removePending(id)
		return nil, fmt.Errorf("mcp %s: client disconnected", method)
	}
}

func (c *Client) notify(method string, params json.RawMessage) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("not connected")
	}
	return writeFrame(stdin, newNotification(method, params))
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func writeFrame(w io.Writer, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// readLoop implements frame reassembly: split stdout on newlines, decode each
// trimmed non-empty line as a Response, correlate by id. A buffer exceeding
// 1 MB without a newline is treated as malformed output: reject all pending
// and disconnect.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBuffer)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.appendLog(fmt.Sprintf("malformed frame: %v", err))
			continue
		}
		if resp.ID == nil {
			continue // notification from the server; nothing to correlate
		}
		id := fmt.Sprintf("%v", resp.ID)
		c.mu.Lock()
		pr, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if ok {
			pr.resultCh <- &resp
		}
	}
	if err := scanner.Err(); err != nil {
		c.appendLog(fmt.Sprintf("stdout scan error: %v", err))
	}
	c.rejectAllPending(fmt.Errorf("mcp server closed stdout"))
	go c.Disconnect()
}

func (c *Client) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBuffer)
	for scanner.Scan() {
		c.appendLog(scanner.Text())
	}
}

func (c *Client) appendLog(line string) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.logRing = append(c.logRing, line)
	if len(c.logRing) > logRingSize {
		c.logRing = c.logRing[len(c.logRing)-logRingSize:]
	}
	log.Debug().Str("line", line).Msg("mcp server log")
}

// Log returns a copy of the bounded stderr log ring.
func (c *Client) Log() []string {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]string, len(c.logRing))
	copy(out, c.logRing)
	return out
}

func (c *Client) rejectAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()
	for _, pr := range pending {
		pr.resultCh <- &Response{Error: &Error{Code: ErrorCodeInternalError, Message: err.Error()}}
	}
}

// Disconnect rejects all pending calls, signals SIGTERM followed by SIGKILL
// after a grace period, and clears connection state. Safe to call more than
// once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected && c.cmd == nil {
		c.mu.Unlock()
		return
	}
	cmd := c.cmd
	c.connected = false
	c.cmd = nil
	c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.rejectAllPending(fmt.Errorf("mcp client disconnected"))

	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscallSIGTERM())
	exited := make(chan struct{})
	go func() { cmd.Wait(); close(exited) }()
	select {
	case <-exited:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
	}
}

// validateSpawnCommand enforces SPEC §4.6/§B.8: the same allow-list and
// shell-metacharacter rejection used by execute_command, plus an explicit
// ".." rejection for path-traversal attempts in arguments.
func validateSpawnCommand(command string, args []string) error {
	if command == "" {
		return fmt.Errorf("mcp connect: command cannot be empty")
	}
	if toolexec.ContainsShellMetacharacter(command) {
		return fmt.Errorf("mcp connect: command contains a disallowed shell metacharacter")
	}
	if !toolexec.IsAllowed(command) {
		return fmt.Errorf("mcp connect: %q is not in the allow-list of executables this process may spawn", command)
	}
	for _, a := range args {
		if strings.Contains(a, "..") {
			return fmt.Errorf("mcp connect: argument %q contains a path-traversal sequence", a)
		}
		if toolexec.ContainsShellMetacharacter(a) {
			return fmt.Errorf("mcp connect: argument %q contains a disallowed shell metacharacter", a)
		}
	}
	return nil
}

func mergeEnv(overrides map[string]string) []string {
	base := osEnviron()
	for k, v := range overrides {
		base = append(base, k+"="+v)
	}
	return base
}
