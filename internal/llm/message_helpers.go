package llm

import (
	"encoding/json"
	"strings"
)

// SystemText builds a system message.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: text}}}
}

// UserText builds a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: text}}}
}

// AssistantMessage builds an assistant message with optional text and tool calls.
func AssistantMessage(text string, calls []ToolCall) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// ToolResultMessage wraps a successful tool output.
func ToolResultMessage(call ToolCall, content string) Message {
	return toolMessage(call, content, false)
}

// ToolErrorMessage wraps a failed tool call so the model can recover.
func ToolErrorMessage(call ToolCall, content string) Message {
	return toolMessage(call, content, true)
}

func toolMessage(call ToolCall, content string, isError bool) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:         call.ID,
				Name:       call.Name,
				Content:    content,
				IsError:    isError,
				ThoughtSig: call.ThoughtSig,
			},
		}},
	}
}

func collectTextParts(parts []Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// schemaRequired returns the required property names of a JSON schema.
func schemaRequired(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toolArgsToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{"_raw": string(raw)}
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
