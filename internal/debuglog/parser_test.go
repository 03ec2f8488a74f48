package debuglog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samsaffron/chatcore/internal/llm"
)

func writeSession(t *testing.T, dir, id string, failed bool) {
	t.Helper()
	logger, err := llm.NewDebugLogger(dir, id)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	logger.LogSessionStart("chatcore run", []string{"hello"}, "/work")
	call := llm.ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.txt"}`)}
	logger.LogRequest(1, "anthropic", llm.Request{
		Model:    "claude-sonnet-4-5",
		Messages: []llm.Message{llm.UserText("hello")},
		Tools:    []llm.ToolSpec{{Name: "read_file"}},
	})
	logger.LogEvent(1, llm.Event{Type: llm.EventTextDelta, Text: "Rea"})
	logger.LogEvent(1, llm.Event{Type: llm.EventTextComplete, Text: "Reading."})
	logger.LogEvent(1, llm.Event{Type: llm.EventToolCall, Tool: &call})
	logger.LogEvent(1, llm.Event{Type: llm.EventUsage, Use: &llm.Usage{InputTokens: 1200, OutputTokens: 30, CachedInputTokens: 1000}})
	logger.LogEvent(1, llm.Event{Type: llm.EventDone})
	logger.LogRequest(2, "anthropic", llm.Request{
		Model: "claude-sonnet-4-5",
		Messages: []llm.Message{
			llm.UserText("hello"),
			llm.AssistantMessage("Reading.", []llm.ToolCall{call}),
			llm.ToolResultMessage(call, "file contents"),
		},
	})
	if failed {
		logger.LogEvent(2, llm.Event{Type: llm.EventError, Err: os.ErrDeadlineExceeded})
	}
}

func TestParseSession(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "conv-a", false)

	s, err := ParseSession(filepath.Join(dir, "conv-a.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "conv-a" || s.Provider != "anthropic" || s.Model != "claude-sonnet-4-5" {
		t.Errorf("header = %s %s %s", s.ID, s.Provider, s.Model)
	}
	if s.Command != "chatcore run" || s.Cwd != "/work" {
		t.Errorf("session start = %q %q", s.Command, s.Cwd)
	}
	if s.Requests != 2 {
		t.Errorf("requests = %d, want 2", s.Requests)
	}
	if s.Tokens != (TokenUsage{Input: 1200, Output: 30, Cached: 1000}) {
		t.Errorf("tokens = %+v", s.Tokens)
	}
	if s.HasErrors {
		t.Error("unexpected error flag")
	}

	last := s.Entries[len(s.Entries)-1].(RequestEntry)
	msgs := last.Request.Messages
	if len(msgs) != 3 || msgs[0].Text() != "hello" {
		t.Fatalf("messages = %+v", msgs)
	}
	parts := msgs[2].Parts()
	if len(parts) != 1 || parts[0].ToolResult == nil || parts[0].ToolResult.Content != "file contents" {
		t.Errorf("tool result parts = %+v", parts)
	}
}

func TestListAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "conv-a", false)
	writeSession(t, dir, "conv-b", true)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	sessions, err := ListSessions(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}

	got, err := Resolve(dir, "conv-b")
	if err != nil || !got.HasErrors {
		t.Errorf("Resolve by id = %+v, %v", got, err)
	}
	if _, err := Resolve(dir, "1"); err != nil {
		t.Errorf("Resolve by number: %v", err)
	}
	if _, err := Resolve(dir, "3"); err == nil {
		t.Error("expected an out of range error")
	}
	if _, err := Resolve(dir, "missing"); err == nil {
		t.Error("expected a not found error")
	}

	empty, err := ListSessions(filepath.Join(dir, "nope"))
	if err != nil || len(empty) != 0 {
		t.Errorf("missing dir = %v, %v", empty, err)
	}
}

func TestFormatSession(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "conv-a", true)
	s, err := ParseSession(filepath.Join(dir, "conv-a.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	FormatSession(&buf, s, FormatOptions{})
	out := buf.String()
	for _, want := range []string{"conv-a", "REQUEST", "text: Reading.", "read_file", "file contents", "error:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	FormatSession(&buf, s, FormatOptions{RequestsOnly: true})
	if strings.Contains(buf.String(), "text: Reading.") {
		t.Error("events shown with RequestsOnly")
	}

	buf.Reset()
	FormatSessionList(&buf, []SessionSummary{{ID: "conv-a", Provider: "anthropic", Requests: 2, Tokens: TokenUsage{Input: 1500, Output: 20}}})
	if !strings.Contains(buf.String(), "1.5K→20") {
		t.Errorf("list output:\n%s", buf.String())
	}
}

func TestCompactNum(t *testing.T) {
	tests := map[int]string{950: "950", 1200: "1.2K", 45000: "45K", 1500000: "1.5M"}
	for n, want := range tests {
		if got := compactNum(n); got != want {
			t.Errorf("compactNum(%d) = %q, want %q", n, got, want)
		}
	}
}
