package llm

import (
	"fmt"
	"strings"

	"github.com/samsaffron/chatcore/internal/config"
)

// ParseProviderModel parses "provider:model" or just "provider" from a flag value.
func ParseProviderModel(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := strings.TrimSpace(parts[0])
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}
	for _, name := range BuiltInProviderNames() {
		if provider == name {
			return provider, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown provider: %s", provider)
}

// BuiltInProviderNames lists the provider names accepted in config and flags.
func BuiltInProviderNames() []string {
	return []string{"anthropic", "openai", "gemini"}
}

// NewProvider creates a new LLM provider based on the config.
// Providers are wrapped with automatic retry for rate limits (429) and transient errors.
func NewProvider(cfg *config.Config) (Provider, error) {
	provider, err := newProviderInternal(cfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(provider, DefaultRetryConfig()), nil
}

func newProviderInternal(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	case "openai":
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
			return nil, fmt.Errorf("openai: api_key or base_url is required")
		}
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini: api_key is required")
		}
		return NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
