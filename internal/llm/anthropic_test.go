package llm

import (
	"encoding/json"
	"testing"
)

func TestToolCallAccumulatorInputJSONDelta(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(0, ToolCall{ID: "tool-1", Name: "get_weather"})

	acc.Append(0, `{"city":"Par`)
	acc.Append(0, `is","units":"metric"}`)

	final, ok := acc.Finish(0)
	if !ok {
		t.Fatalf("expected tool call")
	}

	var payload map[string]string
	if err := json.Unmarshal(final.Arguments, &payload); err != nil {
		t.Fatalf("failed to unmarshal args: %v", err)
	}
	if payload["city"] != "Paris" {
		t.Fatalf("city=%q", payload["city"])
	}
	if payload["units"] != "metric" {
		t.Fatalf("units=%q", payload["units"])
	}
}

func TestToolCallAccumulatorFallbackArgs(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(1, ToolCall{
		ID:        "tool-2",
		Name:      "get_weather",
		Arguments: json.RawMessage(`{"city":"Oslo"}`),
	})

	final, ok := acc.Finish(1)
	if !ok {
		t.Fatalf("expected tool call")
	}
	if string(final.Arguments) != `{"city":"Oslo"}` {
		t.Fatalf("arguments=%s", final.Arguments)
	}
}

func TestToolCallAccumulatorEmptyArgsBecomeObject(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(2, ToolCall{ID: "tool-3", Name: "list_servers", Arguments: json.RawMessage(`{}`)})

	final, ok := acc.Finish(2)
	if !ok {
		t.Fatalf("expected tool call")
	}
	if string(final.Arguments) != "{}" {
		t.Fatalf("arguments=%s, want {}", final.Arguments)
	}
	if _, ok := acc.Finish(2); ok {
		t.Fatal("finish should only return a call once")
	}
}

func TestBuildAnthropicMessagesSplitsSystem(t *testing.T) {
	call := ToolCall{ID: "t1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"X"}`)}
	system, messages := buildAnthropicMessages([]Message{
		SystemText("be brief"),
		UserText("weather?"),
		AssistantMessage("checking", []ToolCall{call}),
		ToolResultMessage(call, "sunny"),
	})
	if system != "be brief" {
		t.Fatalf("system=%q", system)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if len(messages[1].Content) != 2 {
		t.Fatalf("assistant message should carry text and tool_use, got %d blocks", len(messages[1].Content))
	}
	if messages[2].Content[0].OfToolResult == nil {
		t.Fatal("tool results should be sent as tool_result blocks")
	}
}
