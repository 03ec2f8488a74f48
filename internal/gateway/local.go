package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samsaffron/chatcore/internal/llm"
)

// HandlerFunc executes a local tool.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (CallResult, error)

type localTool struct {
	spec    llm.ToolSpec
	handler HandlerFunc
}

// Local is an in-process server of Go tool handlers.
type Local struct {
	info ServerInfo

	mu    sync.RWMutex
	tools map[string]localTool
}

// NewLocal creates an empty in-process server.
func NewLocal(info ServerInfo) *Local {
	if info.Name == "" {
		info.Name = info.ID
	}
	info.Local = true
	return &Local{info: info, tools: make(map[string]localTool)}
}

// Handle registers a tool.
func (l *Local) Handle(spec llm.ToolSpec, h HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tools[spec.Name] = localTool{spec: spec, handler: h}
}

// Info returns the server description.
func (l *Local) Info() ServerInfo {
	return l.info
}

func (l *Local) Servers() []ServerInfo {
	return []ServerInfo{l.info}
}

func (l *Local) ListTools(ctx context.Context, serverID string) ([]llm.ToolSpec, error) {
	if serverID != l.info.ID {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(l.tools))
	for _, t := range l.tools {
		specs = append(specs, t.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func (l *Local) CallTool(ctx context.Context, serverID, name string, args json.RawMessage, timeout time.Duration) (CallResult, error) {
	if serverID != l.info.ID {
		return CallResult{}, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	l.mu.RLock()
	t, ok := l.tools[name]
	l.mu.RUnlock()
	if !ok {
		return CallResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res CallResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := t.handler(ctx, args)
		ch <- outcome{res, err}
	}()
	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return CallResult{}, fmt.Errorf("call %s: %w", name, ctx.Err())
	}
}
