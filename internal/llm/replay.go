package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ReplayScript is a scripted conversation loaded from YAML.
//
//	turns:
//	  - reasoning: ["Thinking about ", "the weather"]
//	    text: ["Checking ", "the weather"]
//	    tool_calls:
//	      - name: get_weather
//	        arguments: {city: Paris}
//	  - text: ["It is sunny."]
type ReplayScript struct {
	Model string       `yaml:"model"`
	Turns []ReplayTurn `yaml:"turns"`
}

// ReplayTurn is one model invocation. Text and Reasoning hold deltas.
type ReplayTurn struct {
	Reasoning []string         `yaml:"reasoning"`
	Text      []string         `yaml:"text"`
	ToolCalls []ReplayToolCall `yaml:"tool_calls"`
	Error     string           `yaml:"error"`
}

// ReplayToolCall is a scripted native tool call.
type ReplayToolCall struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Arguments map[string]any `yaml:"arguments"`
}

// ErrScriptExhausted is returned when the model is invoked more times than scripted.
var ErrScriptExhausted = errors.New("replay script exhausted")

// LoadReplayScript reads a replay script from a YAML file.
func LoadReplayScript(path string) (*ReplayScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseReplayScript(data)
}

// ParseReplayScript decodes a replay script.
func ParseReplayScript(data []byte) (*ReplayScript, error) {
	var script ReplayScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse replay script: %w", err)
	}
	if len(script.Turns) == 0 {
		return nil, fmt.Errorf("replay script has no turns")
	}
	return &script, nil
}

// ReplayProvider plays back scripted turns, one per Stream call.
type ReplayProvider struct {
	script *ReplayScript

	mu       sync.Mutex
	next     int
	requests []Request
}

func NewReplayProvider(script *ReplayScript) *ReplayProvider {
	return &ReplayProvider{script: script}
}

func (p *ReplayProvider) Name() string {
	if p.script.Model != "" {
		return fmt.Sprintf("Replay (%s)", p.script.Model)
	}
	return "Replay"
}

func (p *ReplayProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Reasoning: true}
}

// Requests returns the requests received so far.
func (p *ReplayProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *ReplayProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if p.next >= len(p.script.Turns) {
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	turn := p.script.Turns[p.next]
	p.next++
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var acc accumulator
		for _, delta := range turn.Reasoning {
			if err := acc.Reasoning(ctx, events, delta); err != nil {
				return err
			}
		}
		if err := acc.CompleteReasoning(ctx, events); err != nil {
			return err
		}
		for _, delta := range turn.Text {
			if err := acc.Text(ctx, events, delta); err != nil {
				return err
			}
		}
		if turn.Error != "" {
			return errors.New(turn.Error)
		}
		if err := acc.Complete(ctx, events); err != nil {
			return err
		}
		for _, tc := range turn.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return fmt.Errorf("encode arguments for %s: %w", tc.Name, err)
			}
			if tc.Arguments == nil {
				args = json.RawMessage("{}")
			}
			id := tc.ID
			if id == "" {
				id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			}
			call := &ToolCall{ID: id, Name: tc.Name, Arguments: args}
			if err := send(ctx, events, Event{Type: EventToolInProgress, Tool: &ToolCall{ID: id, Name: tc.Name}}); err != nil {
				return err
			}
			if err := send(ctx, events, Event{Type: EventToolCall, Tool: call}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}
