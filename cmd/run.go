package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatcore/internal/agent"
	"github.com/samsaffron/chatcore/internal/config"
	"github.com/samsaffron/chatcore/internal/input"
	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/message"
	"github.com/samsaffron/chatcore/internal/session"
	"github.com/samsaffron/chatcore/internal/signal"
	"github.com/samsaffron/chatcore/internal/tools"
)

var (
	runOpts          runFlags
	runHideReasoning bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Send a prompt and stream the answer, calling tools as needed",
	Long: `Send a prompt to the configured provider and stream the answer.

Tools from the built-in workspace server and any enabled MCP servers are
offered to the model. Tools listed under tools.confirm in the config ask
for confirmation before they run.

Examples:
  chatcore run "What does main.go do?" -f main.go
  chatcore run --mcp filesystem "List the files in /tmp"
  chatcore run --agentic "Find every TODO in this repo and summarize them"
  chatcore run -p openai:gpt-4o --tool-mode prompt "Read go.mod"
  git diff | chatcore run "Review this change"

Press Ctrl+C once to stop the answer (the partial answer is kept), twice to exit.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	AddProviderFlag(runCmd, &runOpts.Provider)
	AddMCPFlag(runCmd, &runOpts.MCP)
	AddYoloFlag(runCmd, &runOpts.Yolo)
	AddToolFlags(runCmd, &runOpts)
	AddSystemMessageFlag(runCmd, &runOpts.SystemMessage)
	AddFileFlag(runCmd, &runOpts.Files)
	AddDebugLogFlag(runCmd, &runOpts.DebugLog)
	runCmd.Flags().StringVar(&runOpts.ConversationID, "conversation", "", "Conversation ID to file the message under (default: new conversation)")
	runCmd.Flags().BoolVar(&runHideReasoning, "hide-reasoning", false, "Do not print reasoning blocks")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, runOpts.Provider); err != nil {
		return err
	}
	if err := applyRunFlags(cfg, &runOpts); err != nil {
		return err
	}
	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}
	return chat(cmd, cfg, provider, &runOpts, strings.Join(args, " "))
}

// chat builds the user message, runs one assistant message and reports
// how it ended.
func chat(cmd *cobra.Command, cfg *config.Config, provider llm.Provider, f *runFlags, question string) error {
	errOut := cmd.ErrOrStderr()
	ctx, stop := signal.NotifyContext(cmd.Context(), nil)
	defer stop()

	attachments, err := input.ReadAttachments(f.Files)
	if err != nil {
		return err
	}
	stdin, err := input.ReadStdin()
	if err != nil {
		return err
	}
	if strings.TrimSpace(question) == "" && stdin == "" && len(attachments) == 0 {
		return errors.New("a prompt is required")
	}
	history := []llm.Message{input.Prompt(question, attachments, stdin)}

	conversationID := f.ConversationID
	if conversationID == "" {
		conversationID = message.NewID()
	}
	if f.DebugLog {
		debugLogger, err := openDebugLog(conversationID)
		if err != nil {
			fmt.Fprintf(errOut, "warning: debug log disabled: %v\n", err)
		} else {
			defer debugLogger.Close()
			cwd, _ := os.Getwd()
			debugLogger.LogSessionStart(cmd.CommandPath(), os.Args[1:], cwd)
			provider = llm.WithDebugLog(provider, debugLogger)
			slog.Debug("recording model traffic", "path", debugLogger.Path())
		}
	}

	rt, err := newChatRuntime(ctx, cfg, provider, f)
	if err != nil {
		return err
	}
	defer rt.Close()

	printer := newBlockPrinter(cmd.OutOrStdout(), errOut, !runHideReasoning)
	tools.SetApprovalHooks(printer.Finish, nil)
	defer tools.ClearApprovalHooks()

	policy := tools.DefaultPolicy()
	if f.Yolo {
		policy = tools.AutoApprove
	}

	res := rt.Run(ctx, history, conversationID, policy, printer.Observe)
	printer.Finish()

	slog.Debug("message finished",
		"message", res.Message.ID,
		"state", res.State,
		"iterations", res.Iterations,
		"tool_calls", res.ToolCalls,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens)
	return reportResult(errOut, res)
}

func openDebugLog(conversationID string) (*llm.DebugLogger, error) {
	dir, err := debugLogDir()
	if err != nil {
		return nil, err
	}
	return llm.NewDebugLogger(dir, conversationID)
}

func debugLogDir() (string, error) {
	dir, err := session.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "debug"), nil
}

func reportResult(errOut io.Writer, res agent.Result) error {
	switch res.State {
	case agent.StateFailed:
		return res.Err
	case agent.StateCancelled:
		fmt.Fprintln(errOut, "interrupted")
	case agent.StateMistakeLimitReached, agent.StateMaxIterationsReached:
		fmt.Fprintf(errOut, "warning: stopped early: %s\n", res.Message.StopReason)
	}
	return nil
}
