package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRejectsMissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml")); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
default_provider = "anthropic"

[providers.anthropic]
base_url = "https://api.anthropic.com"
default_format = "anthropic-messages"

[providers.anthropic.models.sonnet]
model_id = "claude-sonnet-4"
context_window = 200000
max_output_tokens = 8192
temperature = 1.0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	model := cfg.Providers["anthropic"].Models["sonnet"]
	if model.ModelID != "claude-sonnet-4" {
		t.Errorf("ModelID = %q", model.ModelID)
	}
}

func TestValidateAggregatesEveryProblem(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderConfig{
			"bad": {
				BaseURL: "not-a-url",
				Models: map[string]ModelConfig{
					"m": {Temperature: 5.0},
				},
			},
		},
		DefaultProvider: "missing",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"base_url", "temperature", "default_provider"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to mention %q, got %q", want, msg)
		}
	}
}

func TestValidateRequiresAtLeastOneProvider(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero providers")
	}
}

func TestValidateRequiresAtLeastOneModelPerProvider(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{
		"p": {BaseURL: "https://example.com", Models: map[string]ModelConfig{}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero models")
	}
}

func TestValidateRejectsMCPServerWithoutCommand(t *testing.T) {
	cfg := &Config{
		Providers:  map[string]ProviderConfig{"p": {BaseURL: "https://example.com", Models: map[string]ModelConfig{"m": {}}}},
		MCPServers: map[string]MCPServerConfig{"git": {}},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for MCP server missing a command")
	}
}

func TestToModelPrefersExplicitModelID(t *testing.T) {
	m := ModelConfig{ModelID: "claude-sonnet-4-5"}
	if got := m.ToModel("sonnet").ID; got != "claude-sonnet-4-5" {
		t.Errorf("ID = %q, want explicit model_id", got)
	}
}

func TestToModelFallsBackToKeyWhenModelIDUnset(t *testing.T) {
	m := ModelConfig{}
	if got := m.ToModel("sonnet").ID; got != "sonnet" {
		t.Errorf("ID = %q, want key fallback", got)
	}
}

func TestToProviderConfigCarriesAPIKey(t *testing.T) {
	p := ProviderConfig{BaseURL: "https://example.com"}
	got := p.ToProviderConfig("anthropic", "sk-test")
	if got.APIKey != "sk-test" || got.ID != "anthropic" || got.BaseURL != "https://example.com" {
		t.Errorf("unexpected conversion: %+v", got)
	}
}
