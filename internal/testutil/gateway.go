package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
)

// GatewayCall records one CallTool invocation.
type GatewayCall struct {
	ServerID string
	Name     string
	Args     json.RawMessage
	Timeout  time.Duration
}

// RecordingGateway serves fixed tools from a single server and journals
// each dispatch as "call <name>".
type RecordingGateway struct {
	Info    gateway.ServerInfo
	Tools   []llm.ToolSpec
	Journal *Journal
	// Handler answers calls; nil answers "ok".
	Handler func(ctx context.Context, name string, args json.RawMessage) (gateway.CallResult, error)

	mu    sync.Mutex
	calls []GatewayCall
}

// NewRecordingGateway creates an active multi-step server with tools.
func NewRecordingGateway(j *Journal, tools ...llm.ToolSpec) *RecordingGateway {
	return &RecordingGateway{
		Info:    gateway.ServerInfo{ID: "kb", Name: "kb", Active: true, MultiStep: true},
		Tools:   tools,
		Journal: j,
	}
}

func (g *RecordingGateway) Servers() []gateway.ServerInfo {
	return []gateway.ServerInfo{g.Info}
}

func (g *RecordingGateway) ListTools(ctx context.Context, serverID string) ([]llm.ToolSpec, error) {
	if serverID != g.Info.ID {
		return nil, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, serverID)
	}
	return g.Tools, nil
}

func (g *RecordingGateway) CallTool(ctx context.Context, serverID, name string, args json.RawMessage, timeout time.Duration) (gateway.CallResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, GatewayCall{ServerID: serverID, Name: name, Args: args, Timeout: timeout})
	g.mu.Unlock()
	g.Journal.Add("call %s", name)

	if serverID != g.Info.ID {
		return gateway.CallResult{}, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, serverID)
	}
	if g.Handler == nil {
		return gateway.CallResult{Content: "ok"}, nil
	}
	return g.Handler(ctx, name, args)
}

// Calls returns the recorded calls.
func (g *RecordingGateway) Calls() []GatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GatewayCall(nil), g.calls...)
}
