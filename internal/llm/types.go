package llm

import (
	"context"
	"encoding/json"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Capabilities describe optional provider features.
type Capabilities struct {
	ToolCalls bool // Provider supports native function calling
	Reasoning bool // Provider can stream reasoning/thinking content
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
	Temperature     float32
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID         string
	Name       string
	Arguments  json.RawMessage
	ThoughtSig []byte // Gemini thought signature (must be passed back in result)
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID         string
	Name       string
	Content    string
	IsError    bool
	ThoughtSig []byte
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta         EventType = "text_delta"
	EventTextComplete      EventType = "text_complete"
	EventReasoningDelta    EventType = "reasoning_delta"
	EventReasoningComplete EventType = "reasoning_complete"
	EventToolInProgress    EventType = "tool_in_progress"
	EventToolCall          EventType = "tool_call" // tool call complete, arguments final
	EventUsage             EventType = "usage"
	EventDone              EventType = "done"
	EventError             EventType = "error"
	EventRetry             EventType = "retry"
)

// Event represents a streamed output update.
//
// For text and reasoning events Text holds the cumulative content of the
// current invocation, not a delta. A cumulative length shorter than the
// previous one means the provider started a new invocation (for example
// after a retry).
type Event struct {
	Type EventType
	Text string
	Tool *ToolCall
	Use  *Usage
	Err  error
	// Retry fields (for EventRetry)
	RetryAttempt     int
	RetryMaxAttempts int
	RetryWaitSecs    float64
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}
