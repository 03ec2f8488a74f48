// Package chunk turns streamed model events into persisted message blocks.
package chunk

import (
	"context"
	"log/slog"
	"time"

	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/message"
)

// Observer receives every block change synchronously, for view updates.
// It must not retain the block.
type Observer func(b *message.Block)

// track follows one cumulative stream (text or reasoning) within an invocation.
type track struct {
	typ     message.BlockType
	block   *message.Block // open block, nil when none
	lastLen int            // cumulative length seen last
	offset  int            // start of the open block within the cumulative string
}

// Processor maps cumulative text and reasoning onto Blocks of one Message.
// It is owned by a single goroutine.
type Processor struct {
	msg      *message.Message
	throttle *Throttle
	observer Observer
	logger   *slog.Logger

	text      track
	reasoning track
	tools     map[string]*message.Block // keyed by tool call ID
}

// NewProcessor creates a processor for msg persisting through throttle.
func NewProcessor(msg *message.Message, throttle *Throttle, observer Observer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		msg:       msg,
		throttle:  throttle,
		observer:  observer,
		logger:    logger,
		text:      track{typ: message.BlockMainText},
		reasoning: track{typ: message.BlockReasoning},
		tools:     make(map[string]*message.Block),
	}
}

// Message returns the message being built.
func (p *Processor) Message() *message.Message {
	return p.msg
}

// Handle applies one provider event and returns the ID of the block it
// sealed, if any. Tool call events create or update the call's Tool Block;
// execution is left to the caller.
func (p *Processor) Handle(ctx context.Context, ev llm.Event) string {
	var sealed *message.Block
	switch ev.Type {
	case llm.EventTextDelta:
		p.SetText(ctx, ev.Text)
	case llm.EventTextComplete:
		sealed = p.CompleteText(ctx, ev.Text)
	case llm.EventReasoningDelta:
		p.SetReasoning(ctx, ev.Text)
	case llm.EventReasoningComplete:
		sealed = p.CompleteReasoning(ctx, ev.Text)
	case llm.EventToolInProgress, llm.EventToolCall:
		if ev.Tool != nil {
			p.ToolBlock(ctx, *ev.Tool)
		}
	}
	if sealed == nil {
		return ""
	}
	return sealed.ID
}

// BeginInvocation marks the start of a new model invocation: any open
// blocks are sealed and cumulative tracking restarts from zero.
func (p *Processor) BeginInvocation(ctx context.Context) {
	p.seal(ctx, &p.reasoning, message.BlockSuccess)
	p.seal(ctx, &p.text, message.BlockSuccess)
	p.text.lastLen, p.text.offset = 0, 0
	p.reasoning.lastLen, p.reasoning.offset = 0, 0
}

// RestartInvocation restarts cumulative tracking for a retried attempt of
// the current invocation. Open blocks stay open and take the new attempt's
// text in place of the abandoned one.
func (p *Processor) RestartInvocation() {
	p.text.lastLen, p.text.offset = 0, 0
	p.reasoning.lastLen, p.reasoning.offset = 0, 0
}

// SetText applies cumulative main text.
func (p *Processor) SetText(ctx context.Context, cumulative string) {
	p.apply(ctx, &p.text, cumulative)
}

// CompleteText applies the final cumulative text and seals the block.
// It returns the sealed block, or nil if there was no text.
func (p *Processor) CompleteText(ctx context.Context, cumulative string) *message.Block {
	p.apply(ctx, &p.text, cumulative)
	return p.seal(ctx, &p.text, message.BlockSuccess)
}

// SealText seals the open text block, if any.
func (p *Processor) SealText(ctx context.Context) *message.Block {
	return p.seal(ctx, &p.text, message.BlockSuccess)
}

// SetReasoning applies cumulative reasoning.
func (p *Processor) SetReasoning(ctx context.Context, cumulative string) {
	p.apply(ctx, &p.reasoning, cumulative)
}

// CompleteReasoning applies the final reasoning and seals the block.
func (p *Processor) CompleteReasoning(ctx context.Context, cumulative string) *message.Block {
	p.apply(ctx, &p.reasoning, cumulative)
	return p.seal(ctx, &p.reasoning, message.BlockSuccess)
}

func (p *Processor) apply(ctx context.Context, tr *track, cumulative string) {
	if len(cumulative) < tr.lastLen {
		// shorter cumulative text: a new invocation began
		p.seal(ctx, tr, message.BlockSuccess)
		tr.offset = 0
	}
	tr.lastLen = len(cumulative)
	if tr.offset > len(cumulative) {
		tr.offset = 0
	}
	content := cumulative[tr.offset:]

	if tr.block == nil {
		if content == "" {
			return
		}
		tr.block = p.newBlock(tr.typ)
	}
	if tr.block.Content == content && tr.block.Status == message.BlockStreaming {
		return
	}
	tr.block.Content = content
	tr.block.Status = message.BlockStreaming
	tr.block.UpdatedAt = time.Now()
	p.setStatus(message.StatusStreaming)
	p.notify(tr.block)
	p.throttle.Update(ctx, tr.block)
}

func (p *Processor) seal(ctx context.Context, tr *track, status message.BlockStatus) *message.Block {
	b := tr.block
	if b == nil {
		return nil
	}
	tr.block = nil
	tr.offset = tr.lastLen
	b.Status = status
	b.UpdatedAt = time.Now()
	p.notify(b)
	p.flush(ctx, b)
	return b
}

// ToolBlock returns the Tool Block for call, creating it on first sight.
// Open text and reasoning blocks are sealed first so the tool block
// follows the prose that introduced it.
func (p *Processor) ToolBlock(ctx context.Context, call llm.ToolCall) *message.Block {
	p.seal(ctx, &p.reasoning, message.BlockSuccess)
	p.seal(ctx, &p.text, message.BlockSuccess)

	b, ok := p.tools[call.ID]
	if !ok {
		b = p.newBlock(message.BlockTool)
		b.Tool = &message.ToolInfo{CallID: call.ID, Name: call.Name}
		p.tools[call.ID] = b
	}
	if len(call.Arguments) > 0 {
		b.Tool.Arguments = call.Arguments
	}
	if call.Name != "" {
		b.Tool.Name = call.Name
	}
	b.UpdatedAt = time.Now()
	p.notify(b)
	p.throttle.Update(ctx, b)
	return b
}

// WriteBlock persists a block changed by the caller. Final writes bypass
// the throttle.
func (p *Processor) WriteBlock(ctx context.Context, b *message.Block, final bool) {
	b.UpdatedAt = time.Now()
	p.notify(b)
	if final {
		p.flush(ctx, b)
		return
	}
	p.throttle.Update(ctx, b)
}

// AddBlock attaches a new block of typ with content and writes it immediately.
func (p *Processor) AddBlock(ctx context.Context, typ message.BlockType, status message.BlockStatus, content string) *message.Block {
	b := p.newBlock(typ)
	b.Status = status
	b.Content = content
	p.notify(b)
	p.flush(ctx, b)
	return b
}

// SealOpen closes every open block with status and writes pending updates.
func (p *Processor) SealOpen(ctx context.Context, status message.BlockStatus) {
	p.seal(ctx, &p.reasoning, status)
	p.seal(ctx, &p.text, status)
	for _, id := range p.msg.BlockIDs {
		b, ok := p.toolByBlockID(id)
		if !ok || !b.Status.Open() {
			continue
		}
		b.Status = status
		p.WriteBlock(ctx, b, true)
	}
	p.throttle.Close(ctx)
}

// SetStatus updates the in-memory message status.
func (p *Processor) SetStatus(status message.Status) {
	p.setStatus(status)
}

func (p *Processor) toolByBlockID(id string) (*message.Block, bool) {
	for _, b := range p.tools {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

func (p *Processor) newBlock(typ message.BlockType) *message.Block {
	b := message.NewBlock(p.msg.ID, typ)
	p.msg.BlockIDs = append(p.msg.BlockIDs, b.ID)
	p.msg.UpdatedAt = b.CreatedAt
	return b
}

func (p *Processor) setStatus(status message.Status) {
	if p.msg.Status == status || p.msg.Status.Terminal() {
		return
	}
	p.msg.Status = status
	p.msg.UpdatedAt = time.Now()
}

func (p *Processor) notify(b *message.Block) {
	if p.observer != nil {
		p.observer(b)
	}
}

func (p *Processor) flush(ctx context.Context, b *message.Block) {
	if err := p.throttle.Flush(ctx, b); err != nil {
		p.logger.Warn("block write failed, will retry", "block", b.ID, "type", b.Type, "error", err)
	}
}
