package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samsaffron/chatcore/internal/agent"
	"github.com/samsaffron/chatcore/internal/builtin"
	"github.com/samsaffron/chatcore/internal/chunk"
	"github.com/samsaffron/chatcore/internal/config"
	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/mcp"
	"github.com/samsaffron/chatcore/internal/message"
	"github.com/samsaffron/chatcore/internal/session"
	"github.com/samsaffron/chatcore/internal/tools"
)

// chatRuntime holds the collaborators of one chat request, resolved from
// config defaults and CLI flags.
type chatRuntime struct {
	cfg      *config.Config
	provider llm.Provider
	router   *gateway.Router
	manager  *mcp.Manager // nil when no MCP server is enabled
	registry *tools.Registry
	gate     *tools.Gate
	store    session.Store
	logger   *slog.Logger
}

// applyRunFlags merges flag overrides into cfg and validates the result.
func applyRunFlags(cfg *config.Config, f *runFlags) error {
	if f.ToolMode != "" {
		cfg.Agent.ToolMode = f.ToolMode
	}
	if f.SystemMessage != "" {
		cfg.Agent.SystemPrompt = f.SystemMessage
	}
	if f.MaxIterations > 0 {
		cfg.Agent.MaxIterations = f.MaxIterations
	}
	if f.MistakeLimit > 0 {
		cfg.Agent.MistakeLimit = f.MistakeLimit
	}
	return cfg.Validate()
}

// enabledMCPServers returns the servers named by --mcp, or mcp.servers
// from config.
func enabledMCPServers(cfg *config.Config, flag string) []string {
	if flag == "" {
		return cfg.MCP.Servers
	}
	var names []string
	for _, name := range strings.Split(flag, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func newChatRuntime(ctx context.Context, cfg *config.Config, provider llm.Provider, f *runFlags) (*chatRuntime, error) {
	logger := slog.Default()
	rt := &chatRuntime{
		cfg:      cfg,
		provider: provider,
		router:   gateway.NewRouter(),
		logger:   logger,
	}

	if !f.NoBuiltin {
		srv, err := builtin.NewServer(f.Workspace, builtin.DefaultLimits(), f.Agentic)
		if err != nil {
			return nil, err
		}
		rt.router.Add(srv)
	}

	if names := enabledMCPServers(cfg, f.MCP); len(names) > 0 {
		mcpCfg, err := mcp.LoadConfig(cfg.MCP.Config)
		if err != nil {
			return nil, fmt.Errorf("load mcp config: %w", err)
		}
		selected, err := mcpCfg.Select(names)
		if err != nil {
			return nil, err
		}
		rt.manager = mcp.NewManager(selected, logger)
		if path, err := mcp.ToolCachePath(); err == nil {
			rt.manager.SetToolCache(path)
		}
		if err := rt.manager.StartAll(ctx); err != nil {
			// failed servers are left out; the rest still serve tools
			logger.Warn("some MCP servers failed to start", "error", err)
		}
		rt.router.Add(rt.manager)
	}

	rt.registry = tools.NewRegistry(logger)
	if err := rt.registry.LoadGateway(ctx, rt.router); err != nil {
		logger.Warn("some tool lists could not be loaded", "error", err)
	}

	rules := tools.NewRules()
	for _, rule := range cfg.Tools.Confirm {
		if err := rules.Add(rule.Tool, rule.Risk, rule.Summary); err != nil {
			rt.Close()
			return nil, fmt.Errorf("tools.confirm: %w", err)
		}
	}
	rt.gate = tools.NewGate(rules, tools.WithTimeout(cfg.Tools.ConfirmTimeout), tools.WithLogger(logger))
	if f.Yolo {
		rt.gate.SetYoloMode(true)
	}

	rt.store = openMessageStore(cfg, logger)
	return rt, nil
}

// openMessageStore opens the configured store. A store that cannot be
// opened is replaced by a no-op store; the chat still runs.
func openMessageStore(cfg *config.Config, logger *slog.Logger) session.Store {
	store, err := session.NewStore(session.Config{
		Enabled:    cfg.Session.Enabled,
		Path:       cfg.Session.Path,
		MaxAgeDays: cfg.Session.MaxAgeDays,
	})
	if err != nil {
		logger.Warn("message store unavailable, messages will not be saved", "error", err)
		return &session.NoopStore{}
	}
	return session.NewLoggingStore(store, logger)
}

// Run answers the confirmation gate with policy and drives one assistant
// message to a terminal state.
func (rt *chatRuntime) Run(ctx context.Context, history []llm.Message, conversationID string, policy tools.Policy, observer chunk.Observer) agent.Result {
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	go tools.Serve(serveCtx, rt.gate, policy)

	opts := agent.OptionsFromConfig(rt.cfg)
	opts.Logger = rt.logger

	msg := message.New(conversationID)
	loop := agent.NewLoop(agent.Deps{
		Provider: rt.provider,
		Gateway:  rt.router,
		Registry: rt.registry,
		Gate:     rt.gate,
		Store:    rt.store,
		Observer: observer,
	}, msg, opts)
	return loop.Run(ctx, history)
}

func (rt *chatRuntime) Close() {
	if rt.gate != nil {
		rt.gate.Close()
	}
	if rt.manager != nil {
		rt.manager.StopAll()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("closing message store", "error", err)
		}
	}
}
