package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatcore/internal/debuglog"
)

var debugLogCmd = &cobra.Command{
	Use:   "debug-log",
	Short: "Inspect logs recorded with --debug-log",
	Long: `List and show the request/event logs written by runs started with
--debug-log. Logs older than a week are removed automatically.

Examples:
  chatcore debug-log                 # List sessions, most recent first
  chatcore debug-log show            # Show the most recent session
  chatcore debug-log show 2 --requests
  chatcore debug-log show <id> --raw`,
	RunE: runDebugLogList,
}

var debugLogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	RunE:  runDebugLogList,
}

var debugLogShowCmd = &cobra.Command{
	Use:   "show [number|id]",
	Short: "Show a recorded session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDebugLogShow,
}

var debugLogPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the debug log directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := debugLogDir()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	},
}

var (
	debugLogRaw        bool
	debugLogRequests   bool
	debugLogTimestamps bool
)

func init() {
	debugLogShowCmd.Flags().BoolVar(&debugLogRaw, "raw", false, "Print the JSONL file as recorded")
	debugLogShowCmd.Flags().BoolVar(&debugLogRequests, "requests", false, "Only show requests")
	debugLogShowCmd.Flags().BoolVar(&debugLogTimestamps, "timestamps", false, "Show a timestamp per entry")

	debugLogCmd.AddCommand(debugLogListCmd)
	debugLogCmd.AddCommand(debugLogShowCmd)
	debugLogCmd.AddCommand(debugLogPathCmd)
	rootCmd.AddCommand(debugLogCmd)
}

func runDebugLogList(cmd *cobra.Command, args []string) error {
	dir, err := debugLogDir()
	if err != nil {
		return err
	}
	sessions, err := debuglog.ListSessions(dir)
	if err != nil {
		return fmt.Errorf("list debug sessions: %w", err)
	}
	debuglog.FormatSessionList(cmd.OutOrStdout(), sessions)
	return nil
}

func runDebugLogShow(cmd *cobra.Command, args []string) error {
	dir, err := debugLogDir()
	if err != nil {
		return err
	}
	id := "1"
	if len(args) == 1 {
		id = args[0]
	}
	summary, err := debuglog.Resolve(dir, id)
	if err != nil {
		return err
	}

	if debugLogRaw {
		data, err := os.ReadFile(summary.FilePath)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	s, err := debuglog.ParseSession(summary.FilePath)
	if err != nil {
		return fmt.Errorf("parse %s: %w", summary.FilePath, err)
	}
	debuglog.FormatSession(cmd.OutOrStdout(), s, debuglog.FormatOptions{
		RequestsOnly:  debugLogRequests,
		ShowTimestamp: debugLogTimestamps,
	})
	return nil
}
