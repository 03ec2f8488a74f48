package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/chatcore/internal/chunk"
	"github.com/samsaffron/chatcore/internal/config"
	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/message"
	"github.com/samsaffron/chatcore/internal/toolparse"
	"github.com/samsaffron/chatcore/internal/tools"
)

const (
	defaultMaxIterations = 20
	defaultMistakeLimit  = 3
)

// noToolReminder is appended after an agentic turn that called no tool.
const noToolReminder = "You did not use a tool in your previous response. " +
	"If the task is finished, call " + tools.AttemptCompletionToolName + " with the final result. " +
	"Otherwise call the next tool you need."

// Options tune a Loop. Zero values take the defaults.
type Options struct {
	Model         string
	SystemPrompt  string
	ToolMode      string // config.ToolModeFunction or config.ToolModePrompt
	MaxIterations int
	MistakeLimit  int
	CallTimeout   time.Duration
	Throttle      time.Duration // minimum interval between block writes
	Logger        *slog.Logger
}

// OptionsFromConfig maps the agent, tools and stream config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SystemPrompt:  cfg.Agent.SystemPrompt,
		ToolMode:      cfg.Agent.ToolMode,
		MaxIterations: cfg.Agent.MaxIterations,
		MistakeLimit:  cfg.Agent.MistakeLimit,
		CallTimeout:   cfg.Tools.CallTimeout,
		Throttle:      cfg.Stream.Throttle,
	}
}

// Deps are the collaborators of a Loop. Gate and Observer may be nil.
type Deps struct {
	Provider llm.Provider
	Gateway  gateway.Gateway
	Registry *tools.Registry
	Gate     *tools.Gate
	Store    message.Store
	Observer chunk.Observer
}

// Loop runs one assistant message to completion. It is built per request
// and is not reusable.
type Loop struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	proc    *chunk.Processor
	handler *ToolHandler

	state               State
	agentic             bool
	promptMode          bool
	iterations          int
	consecutiveFailures int
	toolCalls           int
	usage               llm.Usage
}

// NewLoop creates a loop that builds msg.
func NewLoop(deps Deps, msg *message.Message, opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.MistakeLimit <= 0 {
		opts.MistakeLimit = defaultMistakeLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = tools.NewRegistry(logger)
	}
	if deps.Store == nil {
		deps.Store = message.NewMemoryStore()
	}
	logger = logger.With("message", msg.ID)

	throttle := chunk.NewThrottle(deps.Store, opts.Throttle, logger)
	proc := chunk.NewProcessor(msg, throttle, deps.Observer, logger)
	return &Loop{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		proc:    proc,
		handler: NewToolHandler(deps.Registry, deps.Gateway, deps.Gate, proc, opts.CallTimeout, logger),
		state:   StateIdle,
	}
}

// State returns the current state.
func (l *Loop) State() State {
	return l.state
}

// turn is what one model invocation produced.
type turn struct {
	text      string // cumulative visible text
	raw       string // cumulative text as the model wrote it
	reasoning string
	calls     []llm.ToolCall
}

// Run drives the model from history until a terminal state.
func (l *Loop) Run(ctx context.Context, history []llm.Message) Result {
	if l.state != StateIdle {
		return Result{State: l.state, Message: l.proc.Message(), Err: errors.New("agent loop already ran")}
	}
	l.state = StateActive

	l.agentic = gateway.AgenticMode(l.deps.Gateway) && l.deps.Registry.Len() > 0
	if l.agentic && !l.deps.Registry.Known(tools.AttemptCompletionToolName) {
		l.deps.Registry.RegisterCompletion()
	}
	l.promptMode = l.opts.ToolMode == config.ToolModePrompt || !l.deps.Provider.Capabilities().ToolCalls
	specs := l.deps.Registry.Specs()
	l.logger.Debug("agent loop started", "agentic", l.agentic, "prompt_mode", l.promptMode, "tools", len(specs))

	req := llm.Request{Model: l.opts.Model, Messages: l.buildHistory(history, specs)}
	if !l.promptMode {
		req.Tools = specs
	}

	// cur is the latest invocation; lastText the latest non-empty answer.
	var cur turn
	var lastText string
	for {
		if ctx.Err() != nil {
			return l.cancel(ctx, lastText)
		}
		if l.iterations >= l.opts.MaxIterations {
			return l.stop(ctx, StateMaxIterationsReached, cur, lastText,
				fmt.Sprintf("stopped: reached the limit of %d model invocations", l.opts.MaxIterations))
		}
		l.iterations++

		t, err := l.invoke(ctx, req)
		cur = t
		if t.text != "" {
			lastText = t.text
		}
		if err != nil {
			if ctx.Err() != nil {
				return l.cancel(ctx, lastText)
			}
			return l.fail(ctx, fmt.Errorf("model invocation %d: %w", l.iterations, err))
		}

		if len(t.calls) == 0 {
			if !l.agentic {
				return l.finish(ctx, StateCompleted, t, t.text)
			}
			l.consecutiveFailures++
			l.logger.Info("turn without tool call", "consecutive", l.consecutiveFailures, "limit", l.opts.MistakeLimit)
			if l.consecutiveFailures >= l.opts.MistakeLimit {
				return l.stop(ctx, StateMistakeLimitReached, t, lastText,
					fmt.Sprintf("stopped: %d consecutive responses without a tool call", l.consecutiveFailures))
			}
			if t.raw != "" {
				req.Messages = append(req.Messages, llm.AssistantMessage(t.raw, nil))
			}
			req.Messages = append(req.Messages, llm.UserText(noToolReminder))
			continue
		}
		l.consecutiveFailures = 0

		records := make([]ToolRecord, 0, len(t.calls))
		for _, call := range t.calls {
			if ctx.Err() != nil {
				return l.cancel(ctx, lastText)
			}
			records = append(records, l.handler.Execute(ctx, call))
			l.toolCalls++
		}

		for _, rec := range records {
			if rec.Completion {
				return l.finish(ctx, StateCompleted, t, rec.Content)
			}
		}
		req.Messages = append(req.Messages, l.feedback(t, records)...)
	}
}

func (l *Loop) buildHistory(history []llm.Message, specs []llm.ToolSpec) []llm.Message {
	system := l.opts.SystemPrompt
	if l.promptMode {
		if tp := toolparse.SystemPrompt(specs); tp != "" {
			if system != "" {
				system += "\n\n"
			}
			system += tp
		}
	}
	messages := make([]llm.Message, 0, len(history)+1)
	if system != "" {
		messages = append(messages, llm.SystemText(system))
	}
	return append(messages, history...)
}

// invoke streams one model invocation through the processor.
func (l *Loop) invoke(ctx context.Context, req llm.Request) (turn, error) {
	l.proc.BeginInvocation(ctx)
	var t turn

	stream, err := l.deps.Provider.Stream(ctx, req)
	if err != nil {
		return t, err
	}
	defer stream.Close()

	var extractor *toolparse.Extractor
	var visible strings.Builder
	if l.promptMode {
		extractor = toolparse.New(l.deps.Registry)
	}
	seen := make(map[string]bool)

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, err
		}

		switch ev.Type {
		case llm.EventError:
			if ev.Err != nil {
				return t, ev.Err
			}
		case llm.EventUsage:
			if ev.Use != nil {
				l.usage.InputTokens += ev.Use.InputTokens
				l.usage.OutputTokens += ev.Use.OutputTokens
				l.usage.CachedInputTokens += ev.Use.CachedInputTokens
			}
		case llm.EventRetry:
			l.logger.Info("provider retrying", "attempt", ev.RetryAttempt, "max_attempts", ev.RetryMaxAttempts, "wait_secs", ev.RetryWaitSecs)
			// the provider restarts the stream from scratch
			l.discard(ctx, t.calls)
			t = turn{}
			visible.Reset()
			seen = make(map[string]bool)
			if l.promptMode {
				extractor = toolparse.New(l.deps.Registry)
			}
			l.proc.RestartInvocation()
		case llm.EventReasoningDelta, llm.EventReasoningComplete:
			t.reasoning = ev.Text
			l.proc.Handle(ctx, ev)
		case llm.EventTextDelta, llm.EventTextComplete:
			t.raw = ev.Text
			if extractor == nil {
				t.text = ev.Text
				l.proc.Handle(ctx, ev)
				continue
			}
			var res toolparse.Result
			if ev.Type == llm.EventTextComplete {
				res = extractor.Flush(ev.Text)
			} else {
				res = extractor.Process(ev.Text)
			}
			if res.Reset {
				l.discard(ctx, t.calls)
				t.calls = nil
				visible.Reset()
				l.proc.BeginInvocation(ctx)
			}
			for _, seg := range res.Segments {
				if seg.Kind == toolparse.SegmentTool {
					l.proc.ToolBlock(ctx, *seg.Call)
					t.calls = append(t.calls, *seg.Call)
					continue
				}
				if seg.Err != nil {
					l.logger.Debug("tool markup left as text", "error", seg.Err)
				}
				visible.WriteString(seg.Text)
				l.proc.SetText(ctx, visible.String())
			}
			t.text = visible.String()
		case llm.EventToolInProgress, llm.EventToolCall:
			if ev.Tool == nil || extractor != nil {
				continue
			}
			call := *ev.Tool
			if call.ID == "" {
				if ev.Type == llm.EventToolInProgress {
					continue
				}
				call.ID = "call_" + uuid.NewString()
			}
			l.proc.Handle(ctx, llm.Event{Type: ev.Type, Tool: &call})
			if ev.Type == llm.EventToolCall && !seen[call.ID] {
				seen[call.ID] = true
				t.calls = append(t.calls, call)
			}
		}
	}
	return t, nil
}

// discard pauses the Tool Blocks of calls from a superseded invocation.
func (l *Loop) discard(ctx context.Context, calls []llm.ToolCall) {
	for _, call := range calls {
		b := l.proc.ToolBlock(ctx, call)
		b.Status = message.BlockPaused
		l.proc.WriteBlock(ctx, b, true)
	}
}

// feedback builds the history entries that carry a turn's results back to
// the model, in the shape the tool mode expects.
func (l *Loop) feedback(t turn, records []ToolRecord) []llm.Message {
	if l.promptMode {
		var sb strings.Builder
		for i, rec := range records {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(toolparse.FormatResult(rec.Call.Name, rec.Content, rec.IsError))
		}
		return []llm.Message{llm.AssistantMessage(t.raw, nil), llm.UserText(sb.String())}
	}

	out := []llm.Message{llm.AssistantMessage(t.text, t.calls)}
	for _, rec := range records {
		if rec.IsError {
			out = append(out, llm.ToolErrorMessage(rec.Call, rec.Content))
		} else {
			out = append(out, llm.ToolResultMessage(rec.Call, rec.Content))
		}
	}
	return out
}
