// Package gateway defines how tool calls reach the servers that execute them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/samsaffron/chatcore/internal/llm"
)

var (
	ErrServerNotFound = errors.New("server not found")
	ErrToolNotFound   = errors.New("tool not found")
)

// ServerInfo describes a capability server.
type ServerInfo struct {
	ID     string
	Name   string
	Active bool
	// MultiStep servers expect the model to call tools across several turns,
	// which switches the chat into agentic mode.
	MultiStep bool
	// Local servers run in-process.
	Local bool
}

// CallResult is the outcome reported by a server. IsError marks a tool-level
// failure the model should see; transport failures are returned as errors.
type CallResult struct {
	Content string
	IsError bool
}

// Gateway lists and calls tools on capability servers. Implementations
// must be safe for concurrent use.
type Gateway interface {
	Servers() []ServerInfo
	ListTools(ctx context.Context, serverID string) ([]llm.ToolSpec, error)
	CallTool(ctx context.Context, serverID, name string, args json.RawMessage, timeout time.Duration) (CallResult, error)
}

// WithTimeout derives the context for one call. A non-positive timeout
// leaves ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// AgenticMode reports whether any active server is multi-step.
func AgenticMode(g Gateway) bool {
	if g == nil {
		return false
	}
	for _, s := range g.Servers() {
		if s.Active && s.MultiStep {
			return true
		}
	}
	return false
}
