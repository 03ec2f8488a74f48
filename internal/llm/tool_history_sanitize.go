package llm

import (
	"fmt"
	"strings"
)

type toolCallRef struct {
	messageIndex int
	partIndex    int
}

// sanitizeToolHistory pairs every tool call with its result. Results with no
// earlier call are dropped. Calls that never received a result are rewritten
// as text, since providers reject unanswered calls.
func sanitizeToolHistory(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}

	sanitized := make([]Message, 0, len(messages))
	pending := make(map[string][]toolCallRef)
	matched := make(map[toolCallRef]bool)

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			index := len(sanitized)
			parts := make([]Part, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				if part.Type == PartToolCall {
					if part.ToolCall == nil || strings.TrimSpace(part.ToolCall.ID) == "" {
						continue
					}
					id := strings.TrimSpace(part.ToolCall.ID)
					pending[id] = append(pending[id], toolCallRef{messageIndex: index, partIndex: len(parts)})
				}
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				sanitized = append(sanitized, Message{Role: msg.Role, Parts: parts})
			}

		case RoleTool:
			parts := make([]Part, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				if part.Type != PartToolResult {
					parts = append(parts, part)
					continue
				}
				if part.ToolResult == nil {
					continue
				}
				id := strings.TrimSpace(part.ToolResult.ID)
				refs := pending[id]
				if id == "" || len(refs) == 0 {
					continue
				}
				if len(refs) == 1 {
					delete(pending, id)
				} else {
					pending[id] = refs[1:]
				}
				matched[refs[0]] = true
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				sanitized = append(sanitized, Message{Role: msg.Role, Parts: parts})
			}

		default:
			sanitized = append(sanitized, msg)
		}
	}

	for msgIndex := range sanitized {
		msg := &sanitized[msgIndex]
		if msg.Role != RoleAssistant {
			continue
		}
		for partIndex, part := range msg.Parts {
			if part.Type != PartToolCall || matched[toolCallRef{msgIndex, partIndex}] {
				continue
			}
			msg.Parts[partIndex] = Part{
				Type: PartText,
				Text: fmt.Sprintf("[tool call interrupted: id:%s name:%s args:%s]",
					part.ToolCall.ID, part.ToolCall.Name, string(part.ToolCall.Arguments)),
			}
		}
	}
	return sanitized
}
