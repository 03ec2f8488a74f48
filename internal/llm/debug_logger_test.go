package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readDebugLog(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestDebugLogProviderRecordsTraffic(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewDebugLogger(dir, "conv-1")
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}

	inner := &fakeProvider{script: func(call int) ([]Event, error) {
		return []Event{
			{Type: EventTextDelta, Text: "Hel"},
			{Type: EventTextDelta, Text: "Hello"},
			{Type: EventTextComplete, Text: "Hello"},
			{Type: EventUsage, Use: &Usage{InputTokens: 3, OutputTokens: 1}},
			{Type: EventDone},
		}, nil
	}}
	p := WithDebugLog(inner, logger)
	logger.LogSessionStart("chatcore run", []string{"hi"}, "/tmp")

	stream, err := p.Stream(context.Background(), Request{
		Messages: []Message{UserText("hi")},
		Tools:    []ToolSpec{{Name: "read_file"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := collect(stream); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	entries := readDebugLog(t, filepath.Join(dir, "conv-1.jsonl"))
	if len(entries) != 7 {
		t.Fatalf("got %d entries, want 7: %v", len(entries), entries)
	}
	if entries[0]["type"] != "session_start" || entries[1]["type"] != "request" {
		t.Fatalf("unexpected leading entries: %v %v", entries[0]["type"], entries[1]["type"])
	}
	req := entries[1]["request"].(map[string]any)
	if tools := req["tools"].([]any); len(tools) != 1 || tools[0] != "read_file" {
		t.Errorf("tools = %v", tools)
	}
	delta := entries[3]["data"].(map[string]any)
	if delta["text_len"] != float64(5) {
		t.Errorf("delta data = %v, want only the text length", delta)
	}
	complete := entries[4]["data"].(map[string]any)
	if complete["text"] != "Hello" {
		t.Errorf("complete data = %v", complete)
	}
	for _, e := range entries {
		if e["conversation_id"] != "conv-1" {
			t.Errorf("entry without conversation id: %v", e)
		}
	}
}

func TestDebugLogProviderStreamError(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewDebugLogger(dir, "conv-2")
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	p := WithDebugLog(&fakeProvider{streamErr: func(int) error { return boom }}, logger)

	if _, err := p.Stream(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Fatalf("Stream err = %v, want boom", err)
	}
	logger.Close()

	entries := readDebugLog(t, logger.Path())
	if len(entries) != 2 || entries[1]["event_type"] != string(EventError) {
		t.Fatalf("entries = %v", entries)
	}
}

func TestWithDebugLogNilLogger(t *testing.T) {
	inner := &fakeProvider{}
	if got := WithDebugLog(inner, nil); got != Provider(inner) {
		t.Error("nil logger should return the provider unchanged")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	fresh := filepath.Join(dir, "fresh.jsonl")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-8 * 24 * time.Hour)
	for _, p := range []string{old, other} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatal(err)
		}
	}

	if err := CleanupOldLogs(dir, 7*24*time.Hour); err != nil {
		t.Fatalf("CleanupOldLogs: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old log was kept")
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed: %v", filepath.Base(p), err)
		}
	}
	if err := CleanupOldLogs(filepath.Join(dir, "missing"), time.Hour); err != nil {
		t.Errorf("missing dir: %v", err)
	}
}
