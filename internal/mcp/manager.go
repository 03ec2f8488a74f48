package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name      string
	Status    ServerStatus
	Error     error
	MultiStep bool
	Client    *Client
}

// Manager handles MCP server lifecycle and routes tool calls to servers.
// It implements gateway.Gateway with server names as IDs.
type Manager struct {
	config    *Config
	clients   map[string]*Client
	statuses  map[string]*ServerState
	cachePath string
	logger    *slog.Logger
	mu        sync.RWMutex
}

var _ gateway.Gateway = (*Manager)(nil)

// NewManager creates a manager for the servers in cfg.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{Servers: make(map[string]ServerConfig)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:   cfg,
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
		logger:   logger,
	}
}

// SetToolCache makes the manager record each server's tool list at path.
func (m *Manager) SetToolCache(path string) {
	m.mu.Lock()
	m.cachePath = path
	m.mu.Unlock()
}

// AvailableServers returns the names of all configured servers.
func (m *Manager) AvailableServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerNames()
}

// ServerStatus returns the current status of a server.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.Status, state.Error
}

// Start starts a configured server and waits until it is ready.
func (m *Manager) Start(ctx context.Context, name string) error {
	client, err := m.prepare(name)
	if err != nil || client == nil {
		return err
	}
	return m.start(ctx, client, nil)
}

// StartAll starts every configured server, waiting for all of them.
// Servers that fail are reported in the joined error; the rest stay up.
func (m *Manager) StartAll(ctx context.Context) error {
	names := m.AvailableServers()
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Start(ctx, name)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Attach registers a server reached over an explicit transport and starts it.
func (m *Manager) Attach(ctx context.Context, name string, cfg ServerConfig, transport mcp.Transport) error {
	m.mu.Lock()
	m.config.Servers[name] = cfg
	m.mu.Unlock()
	client, err := m.prepare(name)
	if err != nil || client == nil {
		return err
	}
	return m.start(ctx, client, transport)
}

// prepare registers a starting client for name. It returns nil, nil when
// the server is already starting or ready.
func (m *Manager) prepare(name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		return nil, fmt.Errorf("unknown MCP server: %s", name)
	}

	if state, ok := m.statuses[name]; ok {
		if state.Status == StatusStarting || state.Status == StatusReady {
			return nil, nil
		}
	}

	client := NewClient(name, serverCfg)
	m.clients[name] = client
	m.statuses[name] = &ServerState{
		Name:      name,
		Status:    StatusStarting,
		MultiStep: serverCfg.MultiStep,
		Client:    client,
	}
	return client, nil
}

func (m *Manager) start(ctx context.Context, client *Client, transport mcp.Transport) error {
	var err error
	if transport != nil {
		err = client.StartWithTransport(ctx, transport)
	} else {
		err = client.Start(ctx)
	}

	m.mu.Lock()
	state := m.statuses[client.Name()]
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
	} else {
		state.Status = StatusReady
		state.Error = nil
	}
	cachePath := m.cachePath
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("MCP server failed to start", "server", client.Name(), "error", err)
	} else {
		CacheTools(cachePath, client.Name(), client.Tools())
	}
	return err
}

// StopAll stops all running MCP servers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// Servers reports every server the manager has tried to start.
func (m *Manager) Servers() []gateway.ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]gateway.ServerInfo, 0, len(m.statuses))
	for name, state := range m.statuses {
		out = append(out, gateway.ServerInfo{
			ID:        name,
			Name:      name,
			Active:    state.Status == StatusReady,
			MultiStep: state.MultiStep,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) readyClient(name string) (*Client, error) {
	m.mu.RLock()
	state, ok := m.statuses[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, name)
	}
	if state.Status != StatusReady || state.Client == nil {
		return nil, fmt.Errorf("MCP server %s is not running", name)
	}
	return state.Client, nil
}

// ListTools returns the tools of a ready server.
func (m *Manager) ListTools(ctx context.Context, serverID string) ([]llm.ToolSpec, error) {
	client, err := m.readyClient(serverID)
	if err != nil {
		return nil, err
	}
	return client.Tools(), nil
}

// CallTool routes a tool call to the named server.
func (m *Manager) CallTool(ctx context.Context, serverID, name string, args json.RawMessage, timeout time.Duration) (gateway.CallResult, error) {
	client, err := m.readyClient(serverID)
	if err != nil {
		return gateway.CallResult{}, err
	}
	known := false
	for _, t := range client.Tools() {
		if t.Name == name {
			known = true
			break
		}
	}
	if !known {
		return gateway.CallResult{}, fmt.Errorf("%w: %s on %s", gateway.ErrToolNotFound, name, serverID)
	}

	ctx, cancel := gateway.WithTimeout(ctx, timeout)
	defer cancel()
	return client.CallTool(ctx, name, args)
}

// GetAllStates returns the state of every server started so far, by name.
func (m *Manager) GetAllStates() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, state := range m.statuses {
		states = append(states, ServerState{
			Name:      state.Name,
			Status:    state.Status,
			Error:     state.Error,
			MultiStep: state.MultiStep,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}
