package toolparse

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/samsaffron/chatcore/internal/llm"
)

func newExtractor() *Extractor {
	return New(AllowNames("get_weather", "search", "attempt_completion"))
}

func TestExtractorWeatherScenario(t *testing.T) {
	e := newExtractor()
	res := e.Process("checking weather<tool>get_weather{city:X}</tool>")

	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(res.Segments), res.Segments)
	}
	if res.Segments[0].Kind != SegmentText || res.Segments[0].Text != "checking weather" {
		t.Errorf("first segment = %+v", res.Segments[0])
	}
	call := res.Segments[1].Call
	if res.Segments[1].Kind != SegmentTool || call == nil || call.Name != "get_weather" {
		t.Fatalf("second segment = %+v", res.Segments[1])
	}
	if call.ID == "" {
		t.Error("expected a generated call id")
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["city"] != "X" {
		t.Errorf("city = %v", args["city"])
	}
}

func TestExtractorIdempotent(t *testing.T) {
	e := newExtractor()
	s := "hello <tool>search{\"q\":\"go\"}</tool> done"
	first := e.Process(s)
	if len(first.Calls()) != 1 {
		t.Fatalf("calls = %d", len(first.Calls()))
	}
	again := e.Process(s)
	if len(again.Segments) != 0 || again.Reset {
		t.Fatalf("second pass emitted %+v", again)
	}
}

func TestExtractorIncrementalText(t *testing.T) {
	e := newExtractor()
	var text strings.Builder
	for _, s := range []string{"Hel", "Hello", "Hello world"} {
		text.WriteString(e.Process(s).Text())
	}
	if text.String() != "Hello world" {
		t.Fatalf("text = %q", text.String())
	}
}

func TestExtractorMarkerSplitAcrossChunks(t *testing.T) {
	e := newExtractor()
	steps := []string{
		"look <to",
		"look <tool>get_wea",
		"look <tool>get_weather{\"city\":",
		"look <tool>get_weather{\"city\":\"Oslo\"}</tool> ok",
	}
	var text strings.Builder
	var calls []llm.ToolCall
	for _, s := range steps {
		r := e.Process(s)
		text.WriteString(r.Text())
		calls = append(calls, r.Calls()...)
	}
	if text.String() != "look  ok" {
		t.Errorf("text = %q", text.String())
	}
	if len(calls) != 1 || calls[0].Name != "get_weather" {
		t.Fatalf("calls = %+v", calls)
	}
	if string(calls[0].Arguments) != `{"city":"Oslo"}` {
		t.Errorf("args = %s", calls[0].Arguments)
	}
}

func TestExtractorLongForm(t *testing.T) {
	e := newExtractor()
	res := e.Process(`<tool_use><name>search</name><arguments>{"q": "weather"}</arguments></tool_use>`)
	calls := res.Calls()
	if len(calls) != 1 || calls[0].Name != "search" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestExtractorUnknownToolIsText(t *testing.T) {
	e := newExtractor()
	raw := "<tool>rm_rf{path:/}</tool>"
	res := e.Process("x " + raw)
	if len(res.Calls()) != 0 {
		t.Fatal("unknown tool must not be detected")
	}
	if res.Text() != "x "+raw {
		t.Errorf("text = %q", res.Text())
	}
}

func TestExtractorParseErrorSurfacedAsText(t *testing.T) {
	e := newExtractor()
	raw := "<tool>search{q: [unclosed}</tool>"
	res := e.Process(raw)
	if len(res.Segments) != 1 {
		t.Fatalf("segments = %+v", res.Segments)
	}
	seg := res.Segments[0]
	if seg.Kind != SegmentText || seg.Err == nil || seg.Text != raw {
		t.Fatalf("segment = %+v", seg)
	}
}

func TestExtractorResetOnShorterText(t *testing.T) {
	e := newExtractor()
	e.Process("a long first attempt")
	res := e.Process("retry")
	if !res.Reset {
		t.Fatal("expected reset")
	}
	if res.Text() != "retry" {
		t.Errorf("text = %q", res.Text())
	}
	if e.Cursor != len("retry") {
		t.Errorf("cursor = %d", e.Cursor)
	}
}

func TestExtractorResetAfterHeldMarker(t *testing.T) {
	e := newExtractor()
	if got := e.Process("Hi <tool>get_wea").Text(); got != "Hi " {
		t.Fatalf("text = %q", got)
	}
	// shorter than the last text but longer than what was consumed
	res := e.Process("Hello world")
	if !res.Reset {
		t.Fatal("expected reset")
	}
	if res.Text() != "Hello world" {
		t.Errorf("text = %q, want the full new text", res.Text())
	}
}

func TestExtractorFlushReleasesHeldText(t *testing.T) {
	e := newExtractor()
	s := "almost <tool>search{"
	if got := e.Process(s).Text(); got != "almost " {
		t.Fatalf("text = %q", got)
	}
	if got := e.Flush(s).Text(); got != "<tool>search{" {
		t.Fatalf("flushed = %q", got)
	}
	if e.Cursor != len(s) {
		t.Errorf("cursor = %d", e.Cursor)
	}
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: `{}`},
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: `{city:Paris}`, want: `{"city":"Paris"}`},
		{in: `{url:http://x.test/a}`, want: `{"url":"http://x.test/a"}`},
		{in: `{n: 2, tags: [a, b]}`, want: `{"n":2,"tags":["a","b"]}`},
		{in: `[1,2]`, wantErr: true},
		{in: `{a: [}`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := DecodeArguments(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("DecodeArguments(%q) expected error, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("DecodeArguments(%q) error: %v", tt.in, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("DecodeArguments(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatResult(t *testing.T) {
	got := FormatResult("search", "boom", true)
	if !strings.Contains(got, "<error>boom</error>") || !strings.Contains(got, "<name>search</name>") {
		t.Fatalf("FormatResult = %q", got)
	}
}

func TestSystemPromptListsTools(t *testing.T) {
	p := SystemPrompt([]llm.ToolSpec{
		{Name: "search", Description: "Search the web", Schema: map[string]any{"type": "object"}},
		{Name: "attempt_completion", Description: "Finish"},
	})
	if strings.Index(p, "## attempt_completion") > strings.Index(p, "## search") {
		t.Error("tools should be sorted by name")
	}
	if !strings.Contains(p, `Parameters: {"type":"object"}`) {
		t.Errorf("missing schema in prompt:\n%s", p)
	}
	if SystemPrompt(nil) != "" {
		t.Error("no tools should produce no prompt")
	}
}
