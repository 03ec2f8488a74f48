package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samsaffron/chatcore/internal/message"
)

// Store persists assistant messages and their blocks, and reads them back
// for history listings.
type Store interface {
	message.Store

	GetMessage(ctx context.Context, id string) (*message.Message, error)
	Blocks(ctx context.Context, messageID string) ([]*message.Block, error)
	ListMessages(ctx context.Context, opts ListOptions) ([]Summary, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Lifecycle
	Close() error
}

// Config holds storage configuration.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`      // Master switch
	Path       string `mapstructure:"path"`         // Override database path
	MaxAgeDays int    `mapstructure:"max_age_days"` // Auto-delete after N days (0=never)
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		MaxAgeDays: 0, // Never auto-delete
	}
}

// GetDataDir returns the XDG data directory for chatcore.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "chatcore"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chatcore"), nil
}

// GetDBPath returns the path to the messages database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "messages.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If storage is disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
