// Command agentrt is a minimal stdin/stdout driver for the agent loop: it
// loads configuration and credentials, wires the provider registry, tool
// executor, and optional MCP servers, then reads one user message per line
// from stdin and streams the run's events to stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/agent"
	"github.com/xonecas/agentrt/internal/config"
	"github.com/xonecas/agentrt/internal/conversation"
	"github.com/xonecas/agentrt/internal/mcpclient"
	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/security"
	"github.com/xonecas/agentrt/internal/sessionstore"
	"github.com/xonecas/agentrt/internal/toolexec"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagSession := flag.String("session", "", "resume a saved session by id")
	flagContinue := flag.Bool("continue", false, "continue the most recently saved session")
	flagList := flag.Bool("list", false, "list saved sessions and exit")
	flagMode := flag.String("mode", "", "agent mode override: builder, planner, chat")
	flag.Parse()

	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	registry, models := buildRegistry(cfg, creds)

	providerID := cfg.DefaultProvider
	if providerID == "" {
		for id := range cfg.Providers {
			providerID = id
			break
		}
	}
	providerEntry, ok := cfg.Providers[providerID]
	if !ok {
		fmt.Printf("Error: provider %q not configured\n", providerID)
		os.Exit(1)
	}
	model, ok := models[providerID]
	if !ok {
		fmt.Printf("Error: provider %q has no usable model\n", providerID)
		os.Exit(1)
	}
	store := openSessionStore()
	if store != nil {
		defer store.Close()
	}

	if *flagList {
		listSessions(store)
		return
	}

	mcpManager := mcpclient.NewManager()
	defer mcpManager.DisconnectAll()
	connectMCPServers(cfg, mcpManager)

	executor := &toolexec.Executor{
		PathValidator: &toolexec.PathValidator{},
		MCP:           mcpManager,
		DomainAllow:   security.NewDefaultAllowList().Allower(),
	}

	sessionID, history := resolveSession(*flagSession, *flagContinue, store)

	runner := &agent.Runner{
		Registry:     registry,
		Executor:     executor,
		MCPTools:     mcpManager.GetAllTools,
		ToolApproval: stdinToolApproval,
		PathApproval: stdinPathApproval,
	}

	mode := agent.ModeBuilder
	switch strings.ToLower(*flagMode) {
	case "planner":
		mode = agent.ModePlanner
	case "chat":
		mode = agent.ModeChat
	}

	runREPL(runner, providerID, providerEntry, model, mode, sessionID, history, store)
}

func buildRegistry(cfg *config.Config, creds *config.Credentials) (*provider.Registry, map[string]provider.Model) {
	registry := provider.NewRegistry(nil)
	models := make(map[string]provider.Model)

	for id, providerCfg := range cfg.Providers {
		apiKey := creds.GetAPIKey(id)
		registry.Register(providerCfg.ToProviderConfig(id, apiKey))

		for modelName, modelCfg := range providerCfg.Models {
			models[id] = modelCfg.ToModel(modelName)
			break // map order is unspecified: with several models, an arbitrary one becomes the default
		}
	}

	return registry, models
}

func connectMCPServers(cfg *config.Config, mgr *mcpclient.Manager) {
	for id, spec := range cfg.MCPServers {
		err := mgr.Connect(context.Background(), mcpclient.ServerSpec{
			ID: id, Command: spec.Command, Args: spec.Args, Env: spec.Env,
		})
		if err != nil {
			log.Warn().Err(err).Str("server", id).Msg("agentrt: mcp server connect failed")
		}
	}
}

func openSessionStore() *sessionstore.Store {
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: session store dir failed: %v\n", err)
		return nil
	}
	s, err := sessionstore.Open(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		fmt.Printf("Warning: session store open failed: %v\n", err)
		return nil
	}
	return s
}

func resolveSession(flagSession string, flagContinue bool, store *sessionstore.Store) (string, []provider.Message) {
	switch {
	case flagSession != "":
		if store == nil {
			return flagSession, nil
		}
		mgr, ok, err := store.Load(flagSession)
		if err != nil || !ok {
			fmt.Printf("Session %q not found\n", flagSession)
			os.Exit(1)
		}
		return flagSession, mgr.Messages()

	case flagContinue:
		if store == nil {
			fmt.Println("No session store available")
			os.Exit(1)
		}
		ids, err := store.List()
		if err != nil || len(ids) == 0 {
			fmt.Println("No sessions to continue")
			os.Exit(1)
		}
		mgr, _, err := store.Load(ids[0])
		if err != nil {
			fmt.Printf("Error loading session: %v\n", err)
			os.Exit(1)
		}
		return ids[0], mgr.Messages()

	default:
		return newSessionID(), nil
	}
}

func listSessions(store *sessionstore.Store) {
	if store == nil {
		fmt.Println("No session store available")
		return
	}
	ids, err := store.List()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(ids) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

func newSessionID() string {
	return fmt.Sprintf("session-%d", os.Getpid())
}

// runREPL reads one user message per line from stdin, runs it through the
// agent loop, prints streamed events, and saves the resulting conversation
// back to the session store after every turn.
func runREPL(r *agent.Runner, providerID string, providerCfg config.ProviderConfig, model provider.Model, mode agent.AgentMode, sessionID string, history []provider.Message, store *sessionstore.Store) {
	fmt.Printf("agentrt ready — session %s, provider %s, model %s\n", sessionID, providerID, model.ID)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return
		}

		req := agent.AgentRequest{
			UserMessage:         line,
			Model:               model,
			Provider:            providerCfg.ToProviderConfig(providerID, ""),
			AgentMode:           mode,
			ProjectPath:         ".",
			ConversationHistory: history,
		}

		sink := agent.SinkFunc(printEvent)
		resp := r.Run(context.Background(), req, sink, agent.NewAbort())
		history = resp.ConversationHistory

		if store != nil {
			mgr := sessionManagerFromHistory(model, history)
			if err := store.Save(sessionID, mgr); err != nil {
				log.Warn().Err(err).Msg("agentrt: session save failed")
			}
		}
	}
}

func sessionManagerFromHistory(model provider.Model, history []provider.Message) *conversation.Manager {
	mgr := conversation.NewManager(model.ContextWindow, model.MaxOutputTokens)
	for _, m := range history {
		mgr.Append(m)
	}
	return mgr
}

func printEvent(e agent.Event) {
	switch e.Type {
	case agent.EventTextDelta:
		if content, _ := e.Data["content"].(string); content != "" {
			fmt.Print(content)
		}
	case agent.EventToolCallStart:
		if name, _ := e.Data["name"].(string); name != "" {
			fmt.Printf("\n[tool: %s]\n", name)
		}
	case agent.EventAgentComplete:
		fmt.Println()
	case agent.EventAgentError:
		fmt.Printf("\n[error: %v]\n", e.Data["error"])
	case agent.EventToolApprovalRequired, agent.EventPathApprovalRequired:
		payload, _ := json.Marshal(e.Data)
		fmt.Printf("\n[approval requested: %s]\n", payload)
	}
}

func stdinToolApproval(_ context.Context, toolName string, toolArgs json.RawMessage, _ string) bool {
	fmt.Printf("Allow %s with args %s? [y/N] ", toolName, toolArgs)
	return readYesNo()
}

func stdinPathApproval(resolvedPath, reason string) bool {
	fmt.Printf("Allow access to %s (%s)? [y/N] ", resolvedPath, reason)
	return readYesNo()
}

func readYesNo() bool {
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "agentrt.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return nil
}
