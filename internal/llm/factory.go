package llm

import (
	"fmt"
	"log/slog"

	"github.com/nugget/relay/internal/config"
)

// New returns the client for the configured provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaClient(cfg.OllamaURL, cfg.Timeout, logger), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.MaxTokens, cfg.Timeout, logger), nil
	case "anthropic":
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.MaxTokens, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
