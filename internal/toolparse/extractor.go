// Package toolparse extracts tool-use markup embedded in streamed model text.
//
// Providers without native function calling are asked to write tool calls
// inline, in either a compact form
//
//	<tool>get_weather{"city":"Paris"}</tool>
//
// or a long form
//
//	<tool_use><name>get_weather</name><arguments>{"city":"Paris"}</arguments></tool_use>
//
// The Extractor consumes cumulative text and separates prose from calls.
package toolparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/samsaffron/chatcore/internal/llm"
)

// SegmentKind tells prose and tool calls apart.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentTool
)

// Segment is one piece of an increment, in stream order.
type Segment struct {
	Kind SegmentKind
	Text string        // prose, or the raw markup when the call could not be used
	Call *llm.ToolCall // set for SegmentTool
	Err  error         // set when markup was recognised but could not be parsed
}

// Result is the outcome of processing one cumulative string.
type Result struct {
	// Reset is true when the cumulative text shrank: a new invocation began
	// and the caller should seal whatever it built from the previous one.
	Reset    bool
	Segments []Segment
}

// Text returns the concatenated prose of the result.
func (r Result) Text() string {
	var sb strings.Builder
	for _, s := range r.Segments {
		if s.Kind == SegmentText {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Calls returns the tool calls of the result.
func (r Result) Calls() []llm.ToolCall {
	var calls []llm.ToolCall
	for _, s := range r.Segments {
		if s.Kind == SegmentTool && s.Call != nil {
			calls = append(calls, *s.Call)
		}
	}
	return calls
}

// Allowlist reports whether a tool name is known.
type Allowlist interface {
	Known(name string) bool
}

// AllowFunc adapts a function to an Allowlist.
type AllowFunc func(name string) bool

func (f AllowFunc) Known(name string) bool { return f(name) }

// AllowNames returns an Allowlist of fixed names.
func AllowNames(names ...string) Allowlist {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return AllowFunc(func(name string) bool {
		_, ok := set[name]
		return ok
	})
}

var (
	openRe      = regexp.MustCompile(`<tool(_use)?>`)
	compactRe   = regexp.MustCompile(`(?s)^\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*(\{.*\})?\s*$`)
	longNameRe  = regexp.MustCompile(`(?s)<name>\s*(.*?)\s*</name>`)
	longArgsRe  = regexp.MustCompile(`(?s)<arguments>(.*?)</arguments>`)
	openMarkers = []string{"<tool>", "<tool_use>"}
)

const (
	compactClose = "</tool>"
	longClose    = "</tool_use>"
)

// Extractor tracks how much of the cumulative text has been consumed.
// It is not safe for concurrent use.
type Extractor struct {
	// Cursor is the length of cumulative text already turned into segments.
	// Text after it (an unterminated marker, or a trailing prefix of one) is
	// held back until more text arrives or Flush is called.
	Cursor int

	seen  int // length of the longest cumulative text of this invocation
	allow Allowlist
	newID func() string
}

// New creates an extractor matching tool names against allow.
func New(allow Allowlist) *Extractor {
	return &Extractor{allow: allow, newID: uuid.NewString}
}

// Process consumes the part of cumulative not seen before.
func (e *Extractor) Process(cumulative string) Result {
	var res Result
	if len(cumulative) < e.seen {
		// a new invocation: start over on the full new text
		res.Reset = true
		e.Cursor = 0
	}
	e.seen = len(cumulative)
	res.Segments = e.scan(cumulative)
	return res
}

// Flush processes cumulative and then releases any held-back text as prose.
// Call it once the invocation's text is complete.
func (e *Extractor) Flush(cumulative string) Result {
	res := e.Process(cumulative)
	if e.Cursor < len(cumulative) {
		res.Segments = appendText(res.Segments, cumulative[e.Cursor:])
		e.Cursor = len(cumulative)
	}
	return res
}

func (e *Extractor) scan(cumulative string) []Segment {
	var segs []Segment
	for e.Cursor < len(cumulative) {
		text := cumulative[e.Cursor:]
		loc := openRe.FindStringSubmatchIndex(text)
		if loc == nil {
			keep := partialOpen(text)
			segs = appendText(segs, text[:len(text)-keep])
			e.Cursor += len(text) - keep
			return segs
		}

		segs = appendText(segs, text[:loc[0]])
		closeTag := compactClose
		long := loc[2] >= 0
		if long {
			closeTag = longClose
		}
		body := text[loc[1]:]
		end := strings.Index(body, closeTag)
		if end < 0 {
			// unterminated: hold back from the marker
			e.Cursor += loc[0]
			return segs
		}

		raw := text[loc[0] : loc[1]+end+len(closeTag)]
		segs = append(segs, e.parse(body[:end], raw, long))
		segs = mergeText(segs)
		e.Cursor += loc[0] + len(raw)
	}
	return segs
}

func (e *Extractor) parse(inner, raw string, long bool) Segment {
	var name, args string
	if long {
		m := longNameRe.FindStringSubmatch(inner)
		if m == nil {
			return Segment{Kind: SegmentText, Text: raw, Err: fmt.Errorf("tool markup without a name")}
		}
		name = m[1]
		if a := longArgsRe.FindStringSubmatch(inner); a != nil {
			args = a[1]
		}
	} else {
		m := compactRe.FindStringSubmatch(inner)
		if m == nil {
			return Segment{Kind: SegmentText, Text: raw, Err: fmt.Errorf("malformed tool markup %q", inner)}
		}
		name, args = m[1], m[2]
	}

	if e.allow == nil || !e.allow.Known(name) {
		// not a tool we offer: it is prose that happens to look like markup
		return Segment{Kind: SegmentText, Text: raw}
	}
	decoded, err := DecodeArguments(args)
	if err != nil {
		return Segment{Kind: SegmentText, Text: raw, Err: fmt.Errorf("parse arguments for %s: %w", name, err)}
	}
	return Segment{
		Kind: SegmentTool,
		Call: &llm.ToolCall{ID: e.newID(), Name: name, Arguments: decoded},
	}
}

// partialOpen returns the length of the longest suffix of text that is a
// proper prefix of an opening marker.
func partialOpen(text string) int {
	i := strings.LastIndexByte(text, '<')
	if i < 0 {
		return 0
	}
	tail := text[i:]
	for _, m := range openMarkers {
		if len(tail) < len(m) && strings.HasPrefix(m, tail) {
			return len(tail)
		}
	}
	return 0
}

func appendText(segs []Segment, s string) []Segment {
	if s == "" {
		return segs
	}
	segs = append(segs, Segment{Kind: SegmentText, Text: s})
	return mergeText(segs)
}

// mergeText joins the last two segments when both are clean prose.
func mergeText(segs []Segment) []Segment {
	n := len(segs)
	if n < 2 {
		return segs
	}
	a, b := segs[n-2], segs[n-1]
	if a.Kind != SegmentText || b.Kind != SegmentText || a.Err != nil || b.Err != nil {
		return segs
	}
	segs[n-2].Text = a.Text + b.Text
	return segs[:n-1]
}
