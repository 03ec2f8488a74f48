// Package testutil provides scripted fakes for the provider, gateway and
// store contracts.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/samsaffron/chatcore/internal/llm"
)

// Turn is one scripted model invocation. Events are delivered as written,
// so text events must already be cumulative.
type Turn struct {
	Events []llm.Event
	// Err is returned from Recv after the events, instead of io.EOF.
	Err error
	// OnStream runs when the turn starts streaming.
	OnStream func(ctx context.Context)
}

// TextTurn builds a turn that streams text cumulatively from deltas.
func TextTurn(deltas ...string) Turn {
	var t Turn
	cumulative := ""
	for _, d := range deltas {
		cumulative += d
		t.Events = append(t.Events, llm.Event{Type: llm.EventTextDelta, Text: cumulative})
	}
	if cumulative != "" {
		t.Events = append(t.Events, llm.Event{Type: llm.EventTextComplete, Text: cumulative})
	}
	t.Events = append(t.Events, llm.Event{Type: llm.EventDone})
	return t
}

// ToolTurn builds a turn with optional text followed by native tool calls.
func ToolTurn(text string, calls ...llm.ToolCall) Turn {
	t := TextTurn(text)
	t.Events = t.Events[:len(t.Events)-1]
	for i := range calls {
		call := calls[i]
		t.Events = append(t.Events, llm.Event{Type: llm.EventToolCall, Tool: &call})
	}
	t.Events = append(t.Events, llm.Event{Type: llm.EventDone})
	return t
}

// ScriptedProvider replays Turns, one per Stream call, and records requests.
type ScriptedProvider struct {
	Caps llm.Capabilities

	mu       sync.Mutex
	turns    []Turn
	requests []llm.Request
}

// NewScriptedProvider creates a provider with native tool calling.
func NewScriptedProvider(turns ...Turn) *ScriptedProvider {
	return &ScriptedProvider{
		Caps:  llm.Capabilities{ToolCalls: true, Reasoning: true},
		turns: turns,
	}
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) Capabilities() llm.Capabilities { return p.Caps }

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns how many times Stream was called.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *ScriptedProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if n >= len(p.turns) {
		return nil, fmt.Errorf("scripted provider: no turn %d", n+1)
	}
	turn := p.turns[n]
	if turn.OnStream != nil {
		turn.OnStream(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sliceStream{ctx: ctx, events: turn.Events, err: turn.Err}, nil
}

type sliceStream struct {
	ctx    context.Context
	events []llm.Event
	err    error
	pos    int
}

func (s *sliceStream) Recv() (llm.Event, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Event{}, err
	}
	if s.pos >= len(s.events) {
		if s.err != nil {
			return llm.Event{}, s.err
		}
		return llm.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }
