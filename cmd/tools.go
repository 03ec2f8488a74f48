package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatcore/internal/mcp"
	"github.com/samsaffron/chatcore/internal/tools"
)

var toolsOpts runFlags

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools a run would offer to the model",
	Long: `List every tool the model would see, with the server that runs it and
whether it asks for confirmation first.

Examples:
  chatcore tools
  chatcore tools --mcp filesystem
  chatcore tools --agentic`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	AddMCPFlag(toolsCmd, &toolsOpts.MCP)
	toolsCmd.Flags().StringVar(&toolsOpts.Workspace, "workspace", ".", "Root directory for the built-in workspace tools")
	toolsCmd.Flags().BoolVar(&toolsOpts.NoBuiltin, "no-builtin", false, "Do not list the built-in workspace tools")
	toolsCmd.Flags().BoolVar(&toolsOpts.Agentic, "agentic", false, "Include attempt_completion as in an agentic run")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt, err := newChatRuntime(cmd.Context(), cfg, nil, &toolsOpts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.manager != nil {
		for _, state := range rt.manager.GetAllStates() {
			if state.Status == mcp.StatusFailed {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: MCP server %s is unavailable: %v\n", state.Name, state.Error)
			}
		}
	}
	if toolsOpts.Agentic && rt.registry.Len() > 0 {
		rt.registry.RegisterCompletion()
	}
	if rt.registry.Len() == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools available.")
		return nil
	}
	printTools(cmd.OutOrStdout(), rt.registry, rt.gate.Rules())
	return nil
}

func printTools(w io.Writer, registry *tools.Registry, rules *tools.Rules) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSERVER\tKIND\tCONFIRM")
	for _, name := range registry.Names() {
		entry := registry.Resolve(name)
		server := entry.ServerID
		if server == "" {
			server = "-"
		}
		confirm := "-"
		if rule, ok := rules.Lookup(name); ok {
			confirm = string(rule.Risk)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, server, entry.Category, confirm)
	}
	tw.Flush()

	list := rules.List()
	if len(list) == 0 {
		return
	}
	fmt.Fprintln(w, "\nConfirmation rules:")
	for _, rule := range list {
		fmt.Fprintf(w, "  %s (%s)\n", rule.Pattern, rule.Risk)
	}
}
