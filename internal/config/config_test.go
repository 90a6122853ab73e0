package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeFile(t, t.TempDir(), "test.yaml", "log_level: debug\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "log_level: info\n")

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_KeepsDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "server:\n  command: /usr/bin/tool-server\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Command != "/usr/bin/tool-server" {
		t.Errorf("server.command = %q", cfg.Server.Command)
	}
	if cfg.Agent.MaxAttempts != 3 {
		t.Errorf("agent.max_attempts = %d, want default 3", cfg.Agent.MaxAttempts)
	}
	if cfg.Server.ProtocolVersion != DefaultProtocolVersion {
		t.Errorf("server.protocol_version = %q, want %q", cfg.Server.ProtocolVersion, DefaultProtocolVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  command: srv
  call_timeout: 0s
agent:
  retry_delay: 250ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.CallTimeout != 0 {
		t.Errorf("call_timeout = %v, want 0 (disabled)", cfg.Server.CallTimeout)
	}
	if cfg.Agent.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry_delay = %v, want 250ms", cfg.Agent.RetryDelay)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_KEY", "secret123")
	path := writeFile(t, t.TempDir(), "config.yaml", "llm:\n  provider: openai\n  openai_api_key: ${RELAY_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.OpenAIAPIKey != "secret123" {
		t.Errorf("openai_api_key = %q, want %q", cfg.LLM.OpenAIAPIKey, "secret123")
	}
}

func TestLoad_SystemPromptFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prompt.md", "\nYou are a browsing agent.\n\n")
	path := writeFile(t, dir, "config.yaml", "agent:\n  system_prompt_file: prompt.md\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Agent.SystemPrompt != "You are a browsing agent." {
		t.Errorf("system_prompt = %q", cfg.Agent.SystemPrompt)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "server: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load with invalid YAML should error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "RELAY_DOTENV_TEST"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	path := writeFile(t, dir, ".env", key+"=from-dotenv\n")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("%s = %q, want %q", key, got, "from-dotenv")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing command", func(c *Config) { c.Server.Command = "" }, "server.command"},
		{"negative timeout", func(c *Config) { c.Server.CallTimeout = -time.Second }, "call_timeout"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }, "unknown llm.provider"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }, "openai_api_key"},
		{"anthropic without key", func(c *Config) { c.LLM.Provider = "anthropic" }, "anthropic_api_key"},
		{"zero attempts", func(c *Config) { c.Agent.MaxAttempts = 0 }, "max_attempts"},
		{"zero truncate", func(c *Config) { c.Agent.TruncateLen = 0 }, "truncate_len"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.Command = "srv"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerCommand(t *testing.T) {
	tests := []struct {
		command  string
		args     []string
		wantCmd  string
		wantArgs []string
	}{
		{"/opt/server.py", nil, "python", []string{"/opt/server.py"}},
		{"cli.js", []string{"--headless"}, "node", []string{"cli.js", "--headless"}},
		{"uv", []string{"run", "server.py"}, "uv", []string{"run", "server.py"}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			cmd, args := ServerConfig{Command: tt.command, Args: tt.args}.ServerCommand()
			if cmd != tt.wantCmd {
				t.Errorf("command = %q, want %q", cmd, tt.wantCmd)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level altered: %v", b.Value)
	}
}
