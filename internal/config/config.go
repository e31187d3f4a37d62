// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/xonecas/agentrt/internal/provider"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCPServers      map[string]MCPServerConfig `toml:"mcp_servers"`
	Agent           AgentConfig               `toml:"agent"`
}

// ProviderConfig holds one named LLM endpoint plus the models it serves.
type ProviderConfig struct {
	BaseURL       string                 `toml:"base_url"`
	DefaultFormat string                 `toml:"default_format"` // chat-completions, responses, anthropic-messages
	ExtraHeaders  map[string]string      `toml:"extra_headers"`
	Models        map[string]ModelConfig `toml:"models"`
}

// ModelConfig describes one model available from a provider. ExtraHeaders
// merges with (and overrides) the provider-level headers for requests using
// this model.
type ModelConfig struct {
	ModelID         string            `toml:"model_id"`
	ExtraHeaders    map[string]string `toml:"extra_headers"`
	ContextWindow   int               `toml:"context_window"`
	MaxOutputTokens int               `toml:"max_output_tokens"`
	SupportsTools   *bool             `toml:"supports_tools"`
	Temperature     float64           `toml:"temperature"`
}

// MCPServerConfig describes one MCP server this process may spawn.
// Command must pass the shared execute_command allow-list (SPEC §B.8).
type MCPServerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
}

// AgentConfig holds defaults for fields an AgentRequest leaves unset.
type AgentConfig struct {
	DefaultMode          string `toml:"default_mode"`           // builder, planner, chat
	MaxIterations        int    `toml:"max_iterations"`         // 0 means "use the package default"
	EditApprovalMode     string `toml:"edit_approval_mode"`     // allow-all, session-only, ask
	RecitationIntervalN  int    `toml:"recitation_interval"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers:  make(map[string]ProviderConfig),
		MCPServers: make(map[string]MCPServerConfig),
	}

	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error aggregating every problem found (not just the
// first), per SPEC_FULL §A.1.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	for name, mcp := range c.MCPServers {
		if mcp.Command == "" {
			errs = append(errs, fmt.Errorf("mcp_servers.%s.command is required", name))
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.BaseURL == "" {
		errs = append(errs, fmt.Errorf("providers.%s.base_url is required", name))
	} else if err := validateEndpoint(cfg.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.base_url=%q is invalid: %v", name, cfg.BaseURL, err))
	}

	if len(cfg.Models) == 0 {
		errs = append(errs, fmt.Errorf("providers.%s.models: at least one model must be configured", name))
	}
	for modelName, m := range cfg.Models {
		if m.Temperature < 0.0 || m.Temperature > 2.0 {
			errs = append(errs, fmt.Errorf("providers.%s.models.%s.temperature=%v must be between 0.0 and 2.0", name, modelName, m.Temperature))
		}
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTRT_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
}

// ToProviderConfig converts a named provider entry into the runtime
// provider.ProviderConfig shape the registry consumes, merging in the API
// key loaded separately from credentials.json.
func (p ProviderConfig) ToProviderConfig(id, apiKey string) provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:            id,
		Name:          id,
		BaseURL:       p.BaseURL,
		APIKey:        apiKey,
		DefaultFormat: provider.EndpointFormat(p.DefaultFormat),
		ExtraHeaders:  p.ExtraHeaders,
	}
}

// ToModel converts a named model entry into the runtime provider.Model shape.
func (m ModelConfig) ToModel(id string) provider.Model {
	model := provider.Model{
		ID:              id,
		Name:            id,
		ContextWindow:   m.ContextWindow,
		MaxOutputTokens: m.MaxOutputTokens,
		SupportsTools:   m.SupportsTools,
		ExtraHeaders:    m.ExtraHeaders,
	}
	if m.ModelID != "" {
		model.ID = m.ModelID
	}
	return model
}

// DataDir returns the path to the agentrt data directory (~/.config/agentrt).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentrt"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
