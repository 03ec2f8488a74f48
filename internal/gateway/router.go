package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/samsaffron/chatcore/internal/llm"
)

// Router fans one Gateway out over several, keyed by server ID.
type Router struct {
	mu     sync.RWMutex
	order  []string
	routes map[string]Gateway
}

// NewRouter creates a router over the given gateways.
func NewRouter(gateways ...Gateway) *Router {
	r := &Router{routes: make(map[string]Gateway)}
	for _, g := range gateways {
		r.Add(g)
	}
	return r
}

// Add routes every server of g to g. Earlier gateways keep servers with
// the same ID.
func (r *Router) Add(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range g.Servers() {
		if _, ok := r.routes[s.ID]; ok {
			continue
		}
		r.routes[s.ID] = g
		r.order = append(r.order, s.ID)
	}
}

func (r *Router) Servers() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerInfo
	for _, id := range r.order {
		for _, s := range r.routes[id].Servers() {
			if s.ID == id {
				out = append(out, s)
			}
		}
	}
	return out
}

func (r *Router) route(serverID string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.routes[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	return g, nil
}

func (r *Router) ListTools(ctx context.Context, serverID string) ([]llm.ToolSpec, error) {
	g, err := r.route(serverID)
	if err != nil {
		return nil, err
	}
	return g.ListTools(ctx, serverID)
}

func (r *Router) CallTool(ctx context.Context, serverID, name string, args json.RawMessage, timeout time.Duration) (CallResult, error) {
	g, err := r.route(serverID)
	if err != nil {
		return CallResult{}, err
	}
	return g.CallTool(ctx, serverID, name, args, timeout)
}
