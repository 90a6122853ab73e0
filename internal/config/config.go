// Package config handles relay configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultProtocolVersion is the only MCP protocol version relay speaks.
const DefaultProtocolVersion = "2024-11-05"

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/relay/config.yaml,
// /etc/relay/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "relay", "config.yaml"))
	}

	paths = append(paths, "/etc/relay/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and none of the search paths exist.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all relay configuration.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	LLM      LLMConfig    `yaml:"llm"`
	Agent    AgentConfig  `yaml:"agent"`
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"`
}

// ServerConfig describes the MCP tool server subprocess.
type ServerConfig struct {
	// Command is the executable to run. A path ending in .py or .js is
	// run through python or node respectively.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Env entries (KEY=VALUE) are appended to relay's own environment.
	Env []string `yaml:"env"`
	Dir string   `yaml:"dir"`

	// IncludeTools, when non-empty, limits the catalog to these tools.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`

	// CallTimeout bounds a single request/response exchange with the
	// server. Zero waits forever.
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ProtocolVersion string        `yaml:"protocol_version"`
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider        string        `yaml:"provider"` // ollama, openai, anthropic
	Model           string        `yaml:"model"`
	OllamaURL       string        `yaml:"ollama_url"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	MaxTokens       int           `yaml:"max_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	SystemPrompt     string `yaml:"system_prompt"`
	SystemPromptFile string `yaml:"system_prompt_file"`

	// MaxAttempts is the number of tries for one completion request.
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`

	// MaxToolRounds bounds follow-up completions within one turn.
	// Zero means unlimited.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// TruncateLen is how many characters of an older tool result are
	// resent to the model.
	TruncateLen int `yaml:"truncate_len"`

	// ConfirmTools asks on the console before each tool call.
	ConfirmTools bool `yaml:"confirm_tools"`
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			CallTimeout:     2 * time.Minute,
			ProtocolVersion: DefaultProtocolVersion,
		},
		LLM: LLMConfig{
			Provider:      "ollama",
			Model:         "llama3.2",
			OllamaURL:     "http://localhost:11434",
			OpenAIBaseURL: "https://api.openai.com/v1",
			MaxTokens:     4096,
			Timeout:       5 * time.Minute,
		},
		Agent: AgentConfig{
			MaxAttempts: 3,
			RetryDelay:  time.Second,
			TruncateLen: 100,
		},
		LogLevel: "info",
	}
}

// LoadDotEnv loads KEY=VALUE pairs from each existing file into the
// process environment. Variables already set are left untouched and
// missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file. Values not present in the
// file keep their Default() values. ${VAR} references are expanded from
// the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Agent.SystemPromptFile != "" && cfg.Agent.SystemPrompt == "" {
		promptPath := cfg.Agent.SystemPromptFile
		if !filepath.IsAbs(promptPath) {
			promptPath = filepath.Join(filepath.Dir(path), promptPath)
		}
		prompt, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		cfg.Agent.SystemPrompt = strings.TrimSpace(string(prompt))
	}

	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Command) == "" {
		return errors.New("server.command is required")
	}
	if c.Server.CallTimeout < 0 {
		return fmt.Errorf("server.call_timeout must not be negative (got %s)", c.Server.CallTimeout)
	}
	if c.Server.ProtocolVersion == "" {
		return errors.New("server.protocol_version must not be empty")
	}

	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return errors.New("llm.openai_api_key is required for the openai provider")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return errors.New("llm.anthropic_api_key is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: ollama, openai, anthropic)", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model is required")
	}

	if c.Agent.MaxAttempts < 1 {
		return fmt.Errorf("agent.max_attempts must be at least 1 (got %d)", c.Agent.MaxAttempts)
	}
	if c.Agent.RetryDelay < 0 {
		return fmt.Errorf("agent.retry_delay must not be negative (got %s)", c.Agent.RetryDelay)
	}
	if c.Agent.MaxToolRounds < 0 {
		return fmt.Errorf("agent.max_tool_rounds must not be negative (got %d)", c.Agent.MaxToolRounds)
	}
	if c.Agent.TruncateLen < 1 {
		return fmt.Errorf("agent.truncate_len must be at least 1 (got %d)", c.Agent.TruncateLen)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ServerCommand returns the executable and argument list used to launch
// the MCP server. Bare .py and .js scripts are run through their
// interpreter.
func (s ServerConfig) ServerCommand() (string, []string) {
	args := append([]string(nil), s.Args...)
	switch strings.ToLower(filepath.Ext(s.Command)) {
	case ".py":
		return "python", append([]string{s.Command}, args...)
	case ".js":
		return "node", append([]string{s.Command}, args...)
	}
	return s.Command, args
}

// UsageDBPath returns the usage ledger database path, or "" when no
// data directory is configured.
func (c *Config) UsageDBPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "usage.db")
}
