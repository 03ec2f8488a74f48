package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/samsaffron/chatcore/internal/message"
)

// Complete seals the message as successful. finalText and finalReasoning
// are the latest cumulative values of the current invocation; anything the
// processor has not applied yet is written before sealing. It returns
// finalText.
func (l *Loop) Complete(ctx context.Context, finalText, finalReasoning string) string {
	ctx = context.WithoutCancel(ctx)
	if finalReasoning != "" {
		l.proc.SetReasoning(ctx, finalReasoning)
	}
	if finalText != "" {
		l.proc.SetText(ctx, finalText)
	}
	l.proc.SealOpen(ctx, message.BlockSuccess)
	l.persist(ctx, message.StatusSuccess, nil)
	return finalText
}

// CompleteWithInterruption seals the message after a user abort. Partial
// content is kept and open blocks are marked paused.
func (l *Loop) CompleteWithInterruption(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	l.proc.SealOpen(ctx, message.BlockPaused)
	l.persist(ctx, message.StatusInterrupted, nil)
}

// Fail seals the message as failed and appends an Error Block describing
// err. Partial content is kept.
func (l *Loop) Fail(ctx context.Context, err error) {
	ctx = context.WithoutCancel(ctx)
	summary := userFacingError(err)
	l.proc.SealOpen(ctx, message.BlockFailed)
	b := l.proc.AddBlock(ctx, message.BlockError, message.BlockFailed, summary)
	b.Error = &message.ErrorInfo{Type: "model_error", Message: summary}
	l.proc.WriteBlock(ctx, b, true)
	l.persist(ctx, message.StatusError, &message.ErrorInfo{Type: "model_error", Message: summary})
}

func (l *Loop) persist(ctx context.Context, status message.Status, info *message.ErrorInfo) {
	msg := l.proc.Message()
	l.proc.SetStatus(status)
	if info != nil {
		msg.Error = info
	}
	if err := l.deps.Store.SealMessage(ctx, msg); err != nil {
		l.logger.Warn("message seal failed", "status", status, "error", err)
	}
}

func (l *Loop) finish(ctx context.Context, state State, t turn, text string) Result {
	l.Complete(ctx, t.text, t.reasoning)
	l.state = state
	l.logger.Debug("agent loop finished", "state", state, "iterations", l.iterations)
	return l.result(text, nil)
}

// stop ends the run on a safety limit. The message still completes
// successfully; the limit is recorded as its stop reason.
func (l *Loop) stop(ctx context.Context, state State, t turn, text, reason string) Result {
	l.proc.Message().StopReason = reason
	l.logger.Warn("agent loop stopped", "state", state, "reason", reason)
	return l.finish(ctx, state, t, text)
}

func (l *Loop) cancel(ctx context.Context, text string) Result {
	if l.deps.Gate != nil {
		if n := l.deps.Gate.RejectAll(); n > 0 {
			l.logger.Info("rejected pending confirmations", "count", n)
		}
	}
	l.CompleteWithInterruption(ctx)
	l.state = StateCancelled
	return l.result(text, nil)
}

func (l *Loop) fail(ctx context.Context, err error) Result {
	l.logger.Error("agent loop failed", "error", err)
	l.Fail(ctx, err)
	l.state = StateFailed
	return l.result("", err)
}

func (l *Loop) result(text string, err error) Result {
	return Result{
		State:      l.state,
		Message:    l.proc.Message(),
		Text:       text,
		Iterations: l.iterations,
		ToolCalls:  l.toolCalls,
		Usage:      l.usage,
		Err:        err,
	}
}

// userFacingError shortens err to its outermost useful message.
func userFacingError(err error) string {
	if err == nil {
		return "unknown error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the model did not respond in time"
	}
	msg := err.Error()
	if i := strings.Index(msg, "\n"); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
