package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatcore/internal/message"
	"github.com/samsaffron/chatcore/internal/session"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse stored assistant messages",
	Long: `List, search and show the assistant messages saved by earlier runs.

Examples:
  chatcore history                         # List recent messages
  chatcore history list --status interrupted
  chatcore history search "kubernetes"
  chatcore history show <id>
  chatcore history show <id> --json`,
	RunE: runHistoryList, // Default to list
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages",
	RunE:  runHistoryList,
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message blocks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistorySearch,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a message and its blocks",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

// Flags
var (
	historyConversation string
	historyLimit        int
	historyStatus       string
	historyJSON         bool
)

func init() {
	historyListCmd.Flags().StringVar(&historyConversation, "conversation", "", "Only list messages of one conversation")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of messages to list")
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (success, interrupted, error)")
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func getHistoryStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Session.Enabled {
		return nil, fmt.Errorf("message storage is disabled in config")
	}
	return session.NewStore(session.Config{
		Enabled:    cfg.Session.Enabled,
		Path:       cfg.Session.Path,
		MaxAgeDays: cfg.Session.MaxAgeDays,
	})
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	if historyStatus != "" {
		valid := []string{string(message.StatusSuccess), string(message.StatusInterrupted), string(message.StatusError)}
		if !slices.Contains(valid, historyStatus) {
			return fmt.Errorf("invalid status %q: must be one of %v", historyStatus, valid)
		}
	}

	store, err := getHistoryStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.ListMessages(cmd.Context(), session.ListOptions{
		ConversationID: historyConversation,
		Status:         message.Status(historyStatus),
		Limit:          historyLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No messages found.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-8s %-32s %6s %-12s %s\n", "ID", "CONV", "PREVIEW", "BLOCKS", "STATUS", "AGE")
	fmt.Fprintln(out, strings.Repeat("-", 110))
	for _, s := range summaries {
		preview := strings.ReplaceAll(s.Preview, "\n", " ")
		if len([]rune(preview)) > 32 {
			preview = string([]rune(preview)[:29]) + "..."
		}
		status := string(s.Status)
		if s.StopReason != "" {
			status += "*"
		}
		fmt.Fprintf(out, "%-36s %-8s %-32s %6d %-12s %s\n",
			s.ID, shortID(s.ConversationID), preview, s.BlockCount, status, formatRelativeTime(s.UpdatedAt))
	}
	return nil
}

func runHistorySearch(cmd *cobra.Command, args []string) error {
	store, err := getHistoryStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(cmd.Context(), query, 20)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results found for '%s'\n", query)
		return nil
	}

	fmt.Fprintf(out, "Found %d matches for '%s':\n\n", len(results), query)
	for _, r := range results {
		fmt.Fprintf(out, "**%s** (%s, %s)\n", r.MessageID, r.BlockType, formatRelativeTime(r.UpdatedAt))
		fmt.Fprintf(out, "  %s\n\n", r.Snippet)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := getHistoryStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	msg, err := store.GetMessage(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message '%s' not found", args[0])
	}
	blocks, err := store.Blocks(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to get blocks: %w", err)
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Message *message.Message `json:"message"`
			Blocks  []*message.Block `json:"blocks"`
		}{msg, blocks})
	}
	printMessage(out, msg, blocks)
	return nil
}

func printMessage(out io.Writer, msg *message.Message, blocks []*message.Block) {
	fmt.Fprintf(out, "Message:      %s\n", msg.ID)
	fmt.Fprintf(out, "Conversation: %s\n", msg.ConversationID)
	fmt.Fprintf(out, "Status:       %s\n", msg.Status)
	if msg.StopReason != "" {
		fmt.Fprintf(out, "Stop reason:  %s\n", msg.StopReason)
	}
	if msg.Error != nil {
		fmt.Fprintf(out, "Error:        %s\n", msg.Error.Message)
	}
	fmt.Fprintf(out, "Updated:      %s\n", msg.UpdatedAt.Format(time.RFC3339))

	for _, b := range blocks {
		fmt.Fprintf(out, "\n--- %s [%s]\n", b.Type, b.Status)
		switch b.Type {
		case message.BlockTool:
			if b.Tool == nil {
				continue
			}
			fmt.Fprintf(out, "%s %s\n", b.Tool.Name, string(b.Tool.Arguments))
			if b.Tool.Result != "" {
				fmt.Fprintln(out, b.Tool.Result)
			}
			if b.Error != nil {
				fmt.Fprintf(out, "error: %s\n", b.Error.Message)
			}
		case message.BlockError:
			if b.Error != nil {
				fmt.Fprintln(out, b.Error.Message)
			}
		default:
			if b.Content != "" {
				fmt.Fprintln(out, b.Content)
			}
		}
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// formatRelativeTime returns a human-readable relative time string
func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
