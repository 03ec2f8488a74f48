// Package debuglog reads the JSONL files written by --debug-log.
package debuglog

import (
	"encoding/json"
	"time"
)

// RequestEntry is one logged model invocation.
type RequestEntry struct {
	Timestamp  time.Time
	Invocation int
	Provider   string
	Request    RequestData
}

// RequestData is the logged shape of a request.
type RequestData struct {
	Model           string    `json:"model,omitempty"`
	Messages        []Message `json:"messages"`
	Tools           []string  `json:"tools,omitempty"`
	MaxOutputTokens int       `json:"max_output_tokens,omitempty"`
	Temperature     float32   `json:"temperature,omitempty"`
}

// Message is a logged message. Content is a string or a list of parts.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Part is one part of a multi-part message.
type Part struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolCall is a logged tool call.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is a logged tool result.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Text returns the message text, joining the text parts of a multi-part
// message.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var text string
	for _, p := range m.Parts() {
		if p.Type == "text" {
			text += p.Text
		}
	}
	return text
}

// Parts returns the parts of a multi-part message, or nil for plain text.
func (m Message) Parts() []Part {
	var parts []Part
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return nil
	}
	return parts
}

// EventEntry is one logged stream event.
type EventEntry struct {
	Timestamp  time.Time
	Invocation int
	EventType  string
	Data       map[string]any
}

// Session is a fully parsed log file.
type Session struct {
	ID        string
	FilePath  string
	StartTime time.Time
	EndTime   time.Time
	Provider  string
	Model     string
	Command   string
	Args      []string
	Cwd       string
	Tokens    TokenUsage
	HasErrors bool
	Requests  int
	Entries   []any // RequestEntry or EventEntry
}

// TokenUsage sums the usage events of a session.
type TokenUsage struct {
	Input  int
	Output int
	Cached int
}

// SessionSummary is the listing view of a log file.
type SessionSummary struct {
	ID        string
	FilePath  string
	StartTime time.Time
	Provider  string
	Model     string
	Requests  int
	Tokens    TokenUsage
	HasErrors bool
	FileSize  int64
}
