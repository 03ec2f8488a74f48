package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Provider  string          `mapstructure:"provider"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Session   SessionConfig   `mapstructure:"session"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"` // OpenAI-compatible servers (Ollama, LM Studio)
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// AgentConfig controls the agentic tool loop.
type AgentConfig struct {
	MaxIterations int    `mapstructure:"max_iterations"` // Hard cap on model invocations per message
	MistakeLimit  int    `mapstructure:"mistake_limit"`  // Consecutive tool-free turns before stopping
	ToolMode      string `mapstructure:"tool_mode"`      // "function" or "prompt"
	SystemPrompt  string `mapstructure:"system_prompt"`
}

// ConfirmRule marks tools as requiring confirmation. Tool may be a glob.
type ConfirmRule struct {
	Tool    string `mapstructure:"tool"`
	Risk    string `mapstructure:"risk"`    // low, medium, high
	Summary string `mapstructure:"summary"` // Optional template, {{tool}} and {{args}} are replaced
}

type ToolsConfig struct {
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	Confirm        []ConfirmRule `mapstructure:"confirm"`
}

type StreamConfig struct {
	Throttle time.Duration `mapstructure:"throttle"` // Minimum interval between block writes
}

type SessionConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`         // Override database path
	MaxAgeDays int    `mapstructure:"max_age_days"` // Delete messages older than this (0 = keep)
}

type MCPConfig struct {
	Config  string   `mapstructure:"config"`  // Path to mcp.json (default: config dir)
	Servers []string `mapstructure:"servers"` // Servers enabled by default
}

const (
	ToolModeFunction = "function"
	ToolModePrompt   = "prompt"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("openai.model", "gpt-5.2")
	v.SetDefault("gemini.model", "gemini-3-flash-preview")
	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.mistake_limit", 3)
	v.SetDefault("agent.tool_mode", ToolModeFunction)
	v.SetDefault("tools.call_timeout", 60*time.Second)
	v.SetDefault("tools.confirm_timeout", 60*time.Second)
	v.SetDefault("stream.throttle", 150*time.Millisecond)
	v.SetDefault("session.enabled", true)
}

// Load reads config.yaml from the config directory. A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("CHATCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveCredentials(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Agent.ToolMode {
	case ToolModeFunction, ToolModePrompt:
	default:
		return fmt.Errorf("agent.tool_mode must be %q or %q, got %q", ToolModeFunction, ToolModePrompt, c.Agent.ToolMode)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.MistakeLimit <= 0 {
		return fmt.Errorf("agent.mistake_limit must be positive")
	}
	for _, rule := range c.Tools.Confirm {
		if rule.Tool == "" {
			return fmt.Errorf("tools.confirm: rule is missing tool")
		}
	}
	return nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		case "openai":
			c.OpenAI.Model = model
		case "gemini":
			c.Gemini.Model = model
		}
	}
}

func resolveCredentials(cfg *Config) {
	cfg.Anthropic.APIKey = firstNonEmpty(expandEnv(cfg.Anthropic.APIKey), os.Getenv("ANTHROPIC_API_KEY"))
	cfg.OpenAI.APIKey = firstNonEmpty(expandEnv(cfg.OpenAI.APIKey), os.Getenv("OPENAI_API_KEY"))
	cfg.Gemini.APIKey = firstNonEmpty(expandEnv(cfg.Gemini.APIKey), os.Getenv("GEMINI_API_KEY"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for chatcore.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "chatcore"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "chatcore"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}
