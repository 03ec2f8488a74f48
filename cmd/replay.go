package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatcore/internal/llm"
)

var replayOpts runFlags

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml> [prompt]",
	Short: "Run the tool loop against a scripted model",
	Long: `Run the tool loop with a recorded model script instead of a live provider.

Each turn in the script is returned for one model invocation, so tool
calls, confirmations and stop conditions can be exercised offline.

Example script:
  model: scripted
  turns:
    - text: ["Let me ", "look."]
      tool_calls:
        - id: call_1
          name: read_file
          arguments: {path: go.mod}
    - text: ["The module is chatcore."]

Examples:
  chatcore replay session.yaml "What module is this?"
  chatcore replay --tool-mode prompt prompt_tools.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	AddMCPFlag(replayCmd, &replayOpts.MCP)
	AddYoloFlag(replayCmd, &replayOpts.Yolo)
	AddToolFlags(replayCmd, &replayOpts)
	AddSystemMessageFlag(replayCmd, &replayOpts.SystemMessage)
	AddFileFlag(replayCmd, &replayOpts.Files)
	AddDebugLogFlag(replayCmd, &replayOpts.DebugLog)
	replayCmd.Flags().StringVar(&replayOpts.ConversationID, "conversation", "", "Conversation ID to file the message under (default: new conversation)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	script, err := llm.LoadReplayScript(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg, &replayOpts); err != nil {
		return err
	}
	question := strings.Join(args[1:], " ")
	if question == "" {
		question = "replay"
	}
	return chat(cmd, cfg, llm.NewReplayProvider(script), &replayOpts, question)
}
