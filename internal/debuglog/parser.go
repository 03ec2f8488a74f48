package debuglog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

type rawEntry struct {
	Timestamp      string          `json:"timestamp"`
	ConversationID string          `json:"conversation_id"`
	Type           string          `json:"type"`
	Invocation     int             `json:"invocation,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	Request        json.RawMessage `json:"request,omitempty"`
	EventType      string          `json:"event_type,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	// session_start fields
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
}

// scan calls fn for every well-formed line of a log file.
func scan(filePath string, fn func(entry rawEntry, ts time.Time)) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry rawEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			continue
		}
		fn(entry, ts)
	}
	return scanner.Err()
}

func addUsage(u *TokenUsage, data map[string]any) {
	if v, ok := data["input_tokens"].(float64); ok {
		u.Input += int(v)
	}
	if v, ok := data["output_tokens"].(float64); ok {
		u.Output += int(v)
	}
	if v, ok := data["cached_input_tokens"].(float64); ok {
		u.Cached += int(v)
	}
}

// ListSessions summarizes every log file in dir, most recent first.
func ListSessions(dir string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []SessionSummary
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		s, err := ParseSession(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		summary := SessionSummary{
			ID:        s.ID,
			FilePath:  s.FilePath,
			StartTime: s.StartTime,
			Provider:  s.Provider,
			Model:     s.Model,
			Requests:  s.Requests,
			Tokens:    s.Tokens,
			HasErrors: s.HasErrors,
		}
		if info, err := entry.Info(); err == nil {
			summary.FileSize = info.Size()
		}
		sessions = append(sessions, summary)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions, nil
}

// ParseSession parses a whole log file.
func ParseSession(filePath string) (*Session, error) {
	session := &Session{
		ID:       strings.TrimSuffix(filepath.Base(filePath), ".jsonl"),
		FilePath: filePath,
	}

	err := scan(filePath, func(entry rawEntry, ts time.Time) {
		if session.StartTime.IsZero() || ts.Before(session.StartTime) {
			session.StartTime = ts
		}
		if ts.After(session.EndTime) {
			session.EndTime = ts
		}

		switch entry.Type {
		case "session_start":
			session.Command = entry.Command
			session.Args = entry.Args
			session.Cwd = entry.Cwd

		case "request":
			req := RequestEntry{Timestamp: ts, Invocation: entry.Invocation, Provider: entry.Provider}
			if entry.Request != nil {
				_ = json.Unmarshal(entry.Request, &req.Request)
			}
			session.Entries = append(session.Entries, req)
			session.Requests++
			if session.Provider == "" {
				session.Provider = req.Provider
				session.Model = req.Request.Model
			}

		case "event":
			evt := EventEntry{Timestamp: ts, Invocation: entry.Invocation, EventType: entry.EventType}
			if entry.Data != nil {
				_ = json.Unmarshal(entry.Data, &evt.Data)
			}
			session.Entries = append(session.Entries, evt)
			switch evt.EventType {
			case "usage":
				addUsage(&session.Tokens, evt.Data)
			case "error":
				session.HasErrors = true
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Resolve finds a session by 1-based recency number or by ID.
func Resolve(dir, identifier string) (*SessionSummary, error) {
	sessions, err := ListSessions(dir)
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(identifier); err == nil && n > 0 {
		if n > len(sessions) {
			return nil, fmt.Errorf("only %d debug sessions found", len(sessions))
		}
		return &sessions[n-1], nil
	}
	for i := range sessions {
		if sessions[i].ID == identifier {
			return &sessions[i], nil
		}
	}
	return nil, fmt.Errorf("debug session not found: %s", identifier)
}
