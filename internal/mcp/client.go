package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
)

// Client wraps an MCP server connection.
type Client struct {
	name    string
	config  ServerConfig
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []llm.ToolSpec
	mu      sync.RWMutex
	running bool
}

// NewClient creates a new MCP client for the given server configuration.
func NewClient(name string, config ServerConfig) *Client {
	return &Client{
		name:   name,
		config: config,
	}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Start connects to the MCP server using the configured transport.
func (c *Client) Start(ctx context.Context) error {
	var transport mcp.Transport
	if c.config.TransportType() == "http" {
		transport = c.createHTTPTransport()
	} else {
		transport = c.createStdioTransport(ctx)
	}
	return c.StartWithTransport(ctx, transport)
}

// StartWithTransport connects over an explicit transport and lists tools.
func (c *Client) StartWithTransport(ctx context.Context, transport mcp.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.client = mcp.NewClient(&mcp.Implementation{
		Name:    "chatcore",
		Version: "1.0.0",
	}, nil)

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}
	c.session = session

	if err := c.refreshTools(ctx); err != nil {
		c.session.Close()
		c.session = nil
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}

	c.running = true
	return nil
}

// createStdioTransport builds the subprocess transport. Custom env vars are
// layered over the parent environment; with none the child inherits it.
func (c *Client) createStdioTransport(ctx context.Context) mcp.Transport {
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

func (c *Client) createHTTPTransport() mcp.Transport {
	httpClient := http.DefaultClient
	if len(c.config.Headers) > 0 {
		httpClient = &http.Client{Transport: &headerTransport{headers: c.config.Headers, base: http.DefaultTransport}}
	}
	return &mcp.StreamableClientTransport{Endpoint: c.config.URL, HTTPClient: httpClient}
}

// headerTransport adds configured headers (usually auth) to every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, os.ExpandEnv(v))
	}
	return t.base.RoundTrip(req)
}

// Stop closes the MCP server connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	c.tools = nil
	return err
}

// Tools returns the available tools from this server.
func (c *Client) Tools() []llm.ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// refreshTools fetches the tool list from the server.
func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	c.tools = make([]llm.ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		c.tools = append(c.tools, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaMap(t.InputSchema),
		})
	}
	return nil
}

func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return s
	default:
		// typed schemas round-trip through JSON
		data, err := json.Marshal(s)
		if err != nil {
			return map[string]any{}
		}
		m := make(map[string]any)
		if err := json.Unmarshal(data, &m); err != nil {
			return map[string]any{}
		}
		return m
	}
}

// CallTool invokes a tool on the MCP server. A tool-level failure is
// reported through CallResult.IsError, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (gateway.CallResult, error) {
	c.mu.RLock()
	session := c.session
	running := c.running
	c.mu.RUnlock()

	if !running || session == nil {
		return gateway.CallResult{}, fmt.Errorf("MCP server %s is not running", c.name)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return gateway.CallResult{}, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return gateway.CallResult{}, fmt.Errorf("call tool %s: %w", name, err)
	}

	return gateway.CallResult{Content: formatContent(result.Content), IsError: result.IsError}, nil
}

// formatContent converts MCP content to a string.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			sb.WriteString(v.Text)
		default:
			// For other content types, try JSON encoding
			if data, err := json.Marshal(c); err == nil {
				sb.Write(data)
			}
		}
	}
	return sb.String()
}
