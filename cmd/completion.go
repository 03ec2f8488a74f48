package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/mcp"
)

// ProviderFlagCompletion completes --provider with the built-in providers.
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, name := range llm.BuiltInProviderNames() {
		if strings.HasPrefix(name, toComplete) {
			completions = append(completions, name)
		}
	}
	// no space after a provider name so the user can type ":model"
	if !strings.Contains(toComplete, ":") {
		return completions, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// MCPServerArgCompletion completes MCP server names as positional arguments.
func MCPServerArgCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, err := mcp.LoadConfig(mcpConfigPath())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var completions []string
	for _, server := range cfg.ServerNames() {
		if strings.HasPrefix(server, toComplete) {
			completions = append(completions, server)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// MCPFlagCompletion completes --mcp with comma-separated support.
// "playwright,file<TAB>" completes to "playwright,filesystem".
func MCPFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := mcp.LoadConfig(mcpConfigPath())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return completeList(cfg.ServerNames(), toComplete), cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
}

// completeList completes the last element of a comma-separated list,
// skipping names already entered.
func completeList(all []string, toComplete string) []string {
	var entered []string
	current := toComplete
	if idx := strings.LastIndex(toComplete, ","); idx >= 0 {
		entered = strings.Split(toComplete[:idx], ",")
		current = toComplete[idx+1:]
	}
	seen := make(map[string]bool, len(entered))
	for _, s := range entered {
		seen[strings.TrimSpace(s)] = true
	}
	prefix := strings.Join(entered, ",")
	if prefix != "" {
		prefix += ","
	}

	var out []string
	for _, name := range all {
		if !seen[name] && strings.HasPrefix(name, current) {
			out = append(out, prefix+name)
		}
	}
	return out
}

// mcpConfigPath returns mcp.config from the config file, or "" for the
// default location.
func mcpConfigPath() string {
	cfg, err := loadConfig()
	if err != nil {
		return ""
	}
	return cfg.MCP.Config
}
