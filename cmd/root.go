package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "chatcore",
	Short: "Stream model responses and run agentic tool loops",
	Long: `chatcore streams a model's answer into persisted message blocks and
runs tool calls against local and MCP capability servers until the model
signals completion.

Examples:
  chatcore run "summarize README.md"
  chatcore run --mcp kb --agentic "clean up the knowledge base"
  chatcore replay testdata/weather.yaml
  chatcore tools                       # list tools and confirmation rules
  chatcore history                     # recent messages`,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(debugLog)
	},
}

var (
	configFile string
	debugLog   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/chatcore/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Log debug output to stderr")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
