package debuglog

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// FormatOptions controls FormatSession.
type FormatOptions struct {
	RequestsOnly  bool // skip stream events
	ShowTimestamp bool
}

// FormatSessionList writes one line per session.
func FormatSessionList(w io.Writer, sessions []SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No debug sessions found. Record one with: chatcore run --debug-log")
		return
	}

	var total TokenUsage
	for i, s := range sessions {
		providerModel := s.Provider
		if s.Model != "" {
			providerModel += " / " + s.Model
		}
		if len(providerModel) > 40 {
			providerModel = providerModel[:37] + "..."
		}
		errMark := " "
		if s.HasErrors {
			errMark = errorStyle.Render("!")
		}
		total.Input += s.Tokens.Input
		total.Output += s.Tokens.Output
		total.Cached += s.Tokens.Cached

		fmt.Fprintf(w, "%s%2d. %s  %-40s  %d req  %s  %s\n",
			errMark, i+1,
			mutedStyle.Render(s.StartTime.Local().Format("Jan 02 15:04")),
			providerModel, s.Requests, formatTokens(s.Tokens), mutedStyle.Render(s.ID))
	}
	fmt.Fprintf(w, "\n%s\n", mutedStyle.Render(fmt.Sprintf("Total: %d sessions  %s", len(sessions), formatTokens(total))))
}

func formatTokens(u TokenUsage) string {
	if u.Input == 0 && u.Output == 0 && u.Cached == 0 {
		return "0 tokens"
	}
	s := fmt.Sprintf("%s→%s", compactNum(u.Input), compactNum(u.Output))
	if u.Cached > 0 {
		s += " cached:" + compactNum(u.Cached)
	}
	return s
}

// compactNum formats a number as 950, 1.2K, 45K or 1.5M.
func compactNum(n int) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 10000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	case n < 1000000:
		return fmt.Sprintf("%dK", n/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatSession writes a readable transcript of a session.
func FormatSession(w io.Writer, s *Session, opts FormatOptions) {
	fmt.Fprintf(w, "%s %s\n", highlightStyle.Render("Session:"), s.ID)
	if s.Command != "" {
		line := strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
		fmt.Fprintf(w, "%s %s\n", mutedStyle.Render("Command:"), truncate(line, 120))
	}
	if s.Cwd != "" {
		fmt.Fprintf(w, "%s %s\n", mutedStyle.Render("Cwd:"), s.Cwd)
	}
	fmt.Fprintf(w, "%s %s/%s\n", mutedStyle.Render("Provider:"), s.Provider, s.Model)
	fmt.Fprintf(w, "%s %s\n", mutedStyle.Render("Started:"), s.StartTime.Local().Format("2006-01-02 15:04:05"))
	if s.EndTime.After(s.StartTime) {
		fmt.Fprintf(w, "%s %s\n", mutedStyle.Render("Duration:"), s.EndTime.Sub(s.StartTime).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "%s %d  %s %s\n", mutedStyle.Render("Requests:"), s.Requests, mutedStyle.Render("Tokens:"), formatTokens(s.Tokens))
	if s.HasErrors {
		fmt.Fprintln(w, errorStyle.Render("Has errors"))
	}
	fmt.Fprintln(w, mutedStyle.Render(strings.Repeat("─", 78)))

	for _, entry := range s.Entries {
		switch e := entry.(type) {
		case RequestEntry:
			formatRequest(w, e, opts)
		case EventEntry:
			if !opts.RequestsOnly {
				formatEvent(w, e, opts)
			}
		}
	}
}

func stamp(ts time.Time, opts FormatOptions) string {
	if !opts.ShowTimestamp {
		return ""
	}
	return ts.Local().Format("15:04:05") + " "
}

func formatRequest(w io.Writer, e RequestEntry, opts FormatOptions) {
	fmt.Fprintf(w, "\n%s%s #%d %s\n", stamp(e.Timestamp, opts), highlightStyle.Render("REQUEST"), e.Invocation, e.Provider)
	tools := "none"
	if len(e.Request.Tools) > 0 {
		tools = strings.Join(e.Request.Tools, ", ")
	}
	fmt.Fprintf(w, "  messages: %d  tools: %s\n", len(e.Request.Messages), tools)

	// The last message is what changed since the previous invocation.
	if n := len(e.Request.Messages); n > 0 {
		last := e.Request.Messages[n-1]
		for _, p := range last.Parts() {
			if p.ToolResult != nil {
				mark := ""
				if p.ToolResult.IsError {
					mark = errorStyle.Render(" (error)")
				}
				fmt.Fprintf(w, "  %s %s%s: %s\n", last.Role, p.ToolResult.Name, mark, truncate(p.ToolResult.Content, 200))
			}
		}
		if text := last.Text(); text != "" {
			fmt.Fprintf(w, "  %s: %s\n", last.Role, truncate(text, 200))
		}
	}
}

func formatEvent(w io.Writer, e EventEntry, opts FormatOptions) {
	ts := stamp(e.Timestamp, opts)
	switch e.EventType {
	case "text_delta", "reasoning_delta", "tool_in_progress":
		// Superseded by the matching complete event.
	case "text_complete":
		fmt.Fprintf(w, "%s  text: %s\n", ts, truncate(fmt.Sprint(e.Data["text"]), 400))
	case "reasoning_complete":
		fmt.Fprintf(w, "%s  %s\n", ts, mutedStyle.Render("reasoning: "+truncate(fmt.Sprint(e.Data["text"]), 200)))
	case "tool_call":
		fmt.Fprintf(w, "%s  %s %v %v\n", ts, highlightStyle.Render("tool"), dataField(e.Data, "Name"), dataField(e.Data, "Arguments"))
	case "usage":
		var u TokenUsage
		addUsage(&u, e.Data)
		fmt.Fprintf(w, "%s  %s\n", ts, mutedStyle.Render("usage: "+formatTokens(u)))
	case "error":
		fmt.Fprintf(w, "%s  %s\n", ts, errorStyle.Render(fmt.Sprintf("error: %v", e.Data["error"])))
	case "retry":
		fmt.Fprintf(w, "%s  %s\n", ts, mutedStyle.Render(fmt.Sprintf("retry %v/%v after %vs", e.Data["attempt"], e.Data["max_attempts"], e.Data["wait_secs"])))
	case "done":
		fmt.Fprintf(w, "%s  %s\n", ts, mutedStyle.Render("done"))
	}
}

// dataField reads a key case-insensitively; tool calls are logged with Go
// field names.
func dataField(data map[string]any, key string) any {
	for k, v := range data {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
