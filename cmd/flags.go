package cmd

import (
	"github.com/spf13/cobra"
)

// runFlags holds the flags shared by run and replay. Zero values leave the
// config untouched.
type runFlags struct {
	Provider       string
	MCP            string
	Workspace      string
	NoBuiltin      bool
	Agentic        bool
	ToolMode       string
	SystemMessage  string
	MaxIterations  int
	MistakeLimit   int
	Yolo           bool
	Files          []string
	ConversationID string
	DebugLog       bool
}

// AddProviderFlag adds the --provider/-p flag with completion
func AddProviderFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "provider", "p", "", "Override provider, optionally with model (e.g., openai:gpt-4o)")
	if err := cmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
}

// AddMCPFlag adds the --mcp flag with completion
func AddMCPFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVar(dest, "mcp", "", "Enable MCP server(s), comma-separated (default: mcp.servers from config)")
	if err := cmd.RegisterFlagCompletionFunc("mcp", MCPFlagCompletion); err != nil {
		panic("failed to register mcp completion: " + err.Error())
	}
}

// AddYoloFlag adds the --yolo flag for auto-approving all tool operations
func AddYoloFlag(cmd *cobra.Command, dest *bool) {
	cmd.Flags().BoolVar(dest, "yolo", false, "Auto-approve all tool confirmations (for CI/container use, bypasses all prompts)")
}

// AddToolFlags adds the flags that shape the tool loop.
func AddToolFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.Workspace, "workspace", ".", "Root directory for the built-in read_file and glob tools")
	cmd.Flags().BoolVar(&f.NoBuiltin, "no-builtin", false, "Do not offer the built-in workspace tools")
	cmd.Flags().BoolVar(&f.Agentic, "agentic", false, "Run in agentic mode: the model must call attempt_completion to finish")
	cmd.Flags().StringVar(&f.ToolMode, "tool-mode", "", "Tool calling mode: function or prompt (overrides config)")
	cmd.Flags().IntVar(&f.MaxIterations, "max-iterations", 0, "Max model invocations per message (overrides config)")
	cmd.Flags().IntVar(&f.MistakeLimit, "mistake-limit", 0, "Consecutive responses without a tool call before stopping (overrides config)")
	if err := cmd.RegisterFlagCompletionFunc("tool-mode", cobra.FixedCompletions([]string{"function", "prompt"}, cobra.ShellCompDirectiveNoFileComp)); err != nil {
		panic("failed to register tool-mode completion: " + err.Error())
	}
}

// AddDebugLogFlag adds --debug-log, which records model traffic as JSONL
func AddDebugLogFlag(cmd *cobra.Command, dest *bool) {
	cmd.Flags().BoolVar(dest, "debug-log", false, "Record model requests and stream events to a JSONL file in the data directory")
}

// AddSystemMessageFlag adds the --system-message/-m flag
func AddSystemMessageFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "system-message", "m", "", "System message/instructions for the LLM (overrides config)")
}

// AddFileFlag adds the --file/-f flag
func AddFileFlag(cmd *cobra.Command, dest *[]string) {
	cmd.Flags().StringArrayVarP(dest, "file", "f", nil, "File(s) to include in the prompt, supports globs and line ranges (file.go:10-50)")
}
