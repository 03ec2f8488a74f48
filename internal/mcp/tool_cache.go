package mcp

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/samsaffron/chatcore/internal/llm"
)

// toolCache is the on-disk format for cached tool lists per server.
type toolCache struct {
	Servers map[string][]llm.ToolSpec `json:"servers"`
}

// ToolCachePath returns where tool lists are cached between runs.
func ToolCachePath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "chatcore", "mcp-tools-cache.json"), nil
}

// CacheTools writes the tool list for a server to the cache file at path.
// Failures are ignored; the cache is only used for offline listings.
func CacheTools(path, serverName string, tools []llm.ToolSpec) {
	if path == "" {
		return
	}
	cache := loadToolCache(path)
	cache.Servers[serverName] = tools

	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0755)
	_ = os.WriteFile(path, data, 0644)
}

// LoadCachedTools returns the cached tool list for a server, or nil if not cached.
func LoadCachedTools(path, serverName string) []llm.ToolSpec {
	if path == "" {
		return nil
	}
	return loadToolCache(path).Servers[serverName]
}

func loadToolCache(path string) toolCache {
	cache := toolCache{Servers: make(map[string][]llm.ToolSpec)}
	data, err := os.ReadFile(path)
	if err != nil {
		return cache
	}
	_ = json.Unmarshal(data, &cache)
	if cache.Servers == nil {
		cache.Servers = make(map[string][]llm.ToolSpec)
	}
	return cache
}
