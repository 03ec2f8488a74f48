package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatcore/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect MCP (Model Context Protocol) servers",
	Long: `Inspect the MCP servers configured in mcp.json.

MCP servers provide the remote tools offered to the model. Enable them for
a run with --mcp or mcp.servers in the config file.

Examples:
  chatcore mcp list                              # list configured servers
  chatcore mcp test filesystem                   # test server connection
  chatcore mcp call filesystem list_directory '{"path": "/tmp"}'
  chatcore mcp path                              # print mcp.json location`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers",
	RunE:  mcpList,
}

var mcpTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Test an MCP server connection",
	Long: `Start an MCP server and verify it responds correctly.

This will:
  1. Start the server process
  2. Send an initialization request
  3. List available tools
  4. Stop the server

The tool list is cached so later runs can show tools before the server
finishes starting.

Examples:
  chatcore mcp test filesystem`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: MCPServerArgCompletion,
	RunE:              mcpTest,
}

var mcpCallCmd = &cobra.Command{
	Use:   "call <server> <tool> [json-arguments]",
	Short: "Call one tool on an MCP server",
	Long: `Start an MCP server, call a single tool and print its result.

Examples:
  chatcore mcp call filesystem list_directory '{"path": "/tmp"}'`,
	Args:              cobra.RangeArgs(2, 3),
	ValidArgsFunction: MCPServerArgCompletion,
	RunE:              mcpCall,
}

var mcpPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print MCP configuration file path",
	RunE:  mcpPath,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpTestCmd)
	mcpCmd.AddCommand(mcpCallCmd)
	mcpCmd.AddCommand(mcpPathCmd)
}

func mcpList(cmd *cobra.Command, args []string) error {
	cfg, err := mcp.LoadConfig(mcpConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(cfg.Servers) == 0 {
		fmt.Println("No MCP servers configured.")
		fmt.Println()
		fmt.Println("Add servers to the file printed by: chatcore mcp path")
		return nil
	}

	fmt.Printf("Configured MCP servers (%d):\n\n", len(cfg.Servers))
	for _, name := range cfg.ServerNames() {
		server := cfg.Servers[name]
		var flags []string
		if server.MultiStep {
			flags = append(flags, "multi-step")
		}
		if server.Disabled {
			flags = append(flags, "disabled")
		}
		if len(flags) > 0 {
			fmt.Printf("  %s (%s)\n", name, strings.Join(flags, ", "))
		} else {
			fmt.Printf("  %s\n", name)
		}
		if server.TransportType() == "http" {
			fmt.Printf("    url: %s\n", server.URL)
		} else {
			fmt.Printf("    command: %s %s\n", server.Command, strings.Join(server.Args, " "))
		}
		if len(server.Env) > 0 {
			fmt.Printf("    env: %d variables\n", len(server.Env))
		}
	}

	path := mcpConfigPath()
	if path == "" {
		path, _ = mcp.DefaultConfigPath()
	}
	fmt.Printf("\nConfig file: %s\n", path)
	return nil
}

func mcpTest(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := mcp.LoadConfig(mcpConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serverCfg, ok := cfg.Servers[name]
	if !ok {
		return fmt.Errorf("server '%s' not found in config", name)
	}

	fmt.Printf("Testing MCP server '%s'...\n", name)
	if serverCfg.TransportType() == "http" {
		fmt.Printf("  url: %s\n", serverCfg.URL)
	} else {
		fmt.Printf("  command: %s %s\n", serverCfg.Command, strings.Join(serverCfg.Args, " "))
	}
	fmt.Println()

	client := mcp.NewClient(name, serverCfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	fmt.Print("Starting server...")
	if err := client.Start(ctx); err != nil {
		fmt.Println(" FAILED")
		return fmt.Errorf("start server: %w", err)
	}
	fmt.Println(" OK")
	defer client.Stop()

	tools := client.Tools()
	if path, err := mcp.ToolCachePath(); err == nil {
		mcp.CacheTools(path, name, tools)
	}
	fmt.Printf("\nAvailable tools (%d):\n", len(tools))
	for _, t := range tools {
		fmt.Printf("  - %s\n", t.Name)
		if t.Description != "" {
			desc := t.Description
			if len(desc) > 60 {
				desc = desc[:57] + "..."
			}
			fmt.Printf("    %s\n", desc)
		}
	}

	fmt.Println()
	fmt.Printf("Server '%s' is working correctly.\n", name)
	return nil
}

func mcpCall(cmd *cobra.Command, args []string) error {
	server, tool := args[0], args[1]
	arguments := json.RawMessage("{}")
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return fmt.Errorf("arguments must be a JSON object")
		}
		arguments = json.RawMessage(args[2])
	}

	cfg, err := mcp.LoadConfig(mcpConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	selected, err := cfg.Select([]string{server})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	manager := mcp.NewManager(selected, nil)
	defer manager.StopAll()
	if err := manager.Start(ctx, server); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	res, err := manager.CallTool(ctx, server, tool, arguments, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Content)
	if res.IsError {
		return fmt.Errorf("tool %s reported an error", tool)
	}
	return nil
}

func mcpPath(cmd *cobra.Command, args []string) error {
	path := mcpConfigPath()
	if path == "" {
		var err error
		if path, err = mcp.DefaultConfigPath(); err != nil {
			return err
		}
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("%s (not created yet)\n", path)
	} else {
		fmt.Println(path)
	}
	return nil
}
