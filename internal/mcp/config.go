package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Config represents the mcp.json configuration file.
type Config struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// ServerConfig represents a configured MCP server.
// Supports both stdio transport (Command/Args) and HTTP transport (URL).
type ServerConfig struct {
	// Type discriminator: "stdio" (default if command present) or "http"
	Type string `json:"type,omitempty"`

	// Stdio transport fields
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// HTTP transport fields
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Shared fields
	Env map[string]string `json:"env,omitempty"`

	// MultiStep servers drive the chat into agentic mode: the model keeps
	// calling tools until it calls attempt_completion.
	MultiStep bool `json:"multi_step,omitempty"`
	Disabled  bool `json:"disabled,omitempty"`
}

// TransportType returns the effective transport type for this server.
func (c *ServerConfig) TransportType() string {
	if c.Type == "http" || c.URL != "" {
		return "http"
	}
	return "stdio"
}

// Validate checks that the server configuration is valid.
func (c *ServerConfig) Validate() error {
	transport := c.TransportType()
	if transport == "http" {
		if c.URL == "" {
			return fmt.Errorf("http transport requires url")
		}
		if c.Command != "" {
			return fmt.Errorf("cannot specify both url and command")
		}
	} else {
		if c.Command == "" {
			return fmt.Errorf("stdio transport requires command")
		}
		if c.URL != "" {
			return fmt.Errorf("cannot specify both url and command")
		}
	}
	return nil
}

// DefaultConfigPath returns the default path for mcp.json.
func DefaultConfigPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "chatcore", "mcp.json"), nil
}

// LoadConfig loads the MCP configuration from path, or from the default
// path when path is empty. A missing file is an empty configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: make(map[string]ServerConfig)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}
	for name, sc := range cfg.Servers {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
	}
	return &cfg, nil
}

// ServerNames returns a sorted list of configured server names.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns a copy restricted to the named servers. An empty list
// selects every server that is not disabled.
func (c *Config) Select(names []string) (*Config, error) {
	out := &Config{Servers: make(map[string]ServerConfig)}
	if len(names) == 0 {
		for name, sc := range c.Servers {
			if !sc.Disabled {
				out.Servers[name] = sc
			}
		}
		return out, nil
	}
	for _, name := range names {
		sc, ok := c.Servers[name]
		if !ok {
			return nil, fmt.Errorf("unknown MCP server: %s", name)
		}
		out.Servers[name] = sc
	}
	return out, nil
}
