package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samsaffron/chatcore/internal/chunk"
	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/message"
	"github.com/samsaffron/chatcore/internal/tools"
)

// DefaultCallTimeout bounds a single gateway call.
const DefaultCallTimeout = 60 * time.Second

// ToolRecord is the outcome of one tool call.
type ToolRecord struct {
	Call  llm.ToolCall
	Entry tools.Entry
	Block *message.Block
	// Content is what the model sees: the tool output, or the error text.
	Content string
	IsError bool
	// Err is set for failures the handler classified.
	Err *tools.ToolError
	// Completion is true for an approved completion signal; Content then
	// holds its result.
	Completion bool
}

// ToolHandler executes tool calls and records them on Tool Blocks.
type ToolHandler struct {
	registry    *tools.Registry
	gateway     gateway.Gateway
	gate        *tools.Gate
	proc        *chunk.Processor
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewToolHandler creates a handler. gate may be nil, in which case no call
// needs confirmation.
func NewToolHandler(registry *tools.Registry, gw gateway.Gateway, gate *tools.Gate, proc *chunk.Processor, callTimeout time.Duration, logger *slog.Logger) *ToolHandler {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolHandler{
		registry:    registry,
		gateway:     gw,
		gate:        gate,
		proc:        proc,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Execute runs one call. It never returns an error: every failure becomes
// an error-shaped record the model can react to.
func (h *ToolHandler) Execute(ctx context.Context, call llm.ToolCall) ToolRecord {
	if len(call.Arguments) == 0 {
		call.Arguments = json.RawMessage("{}")
	}
	h.proc.SetStatus(message.StatusProcessing)
	entry := h.registry.Resolve(call.Name)
	b := h.proc.ToolBlock(ctx, call)
	b.Tool.ServerID = entry.ServerID
	b.Status = message.BlockProcessing
	h.proc.WriteBlock(ctx, b, false)

	rec := ToolRecord{Call: call, Entry: entry, Block: b}
	log := h.logger.With("tool", call.Name, "call_id", call.ID, "category", entry.Category.String())

	if entry.Category == tools.Unregistered {
		msg := fmt.Sprintf("tool %q is not available", call.Name)
		if s := h.registry.Suggest(call.Name, 3); len(s) > 0 {
			msg += "; did you mean " + strings.Join(s, ", ") + "?"
		}
		return h.fail(ctx, rec, tools.NewToolError(tools.ErrToolNotFound, msg))
	}

	args, err := validateArguments(call.Arguments, entry.Spec.Schema)
	if err != nil {
		return h.fail(ctx, rec, tools.NewToolError(tools.ErrInvalidArguments, err.Error()))
	}

	if h.gate != nil && h.gate.NeedsConfirmation(call.Name) {
		decision, err := h.gate.Request(ctx, entry.ServerID, call.Name, call.Arguments)
		if err != nil {
			return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrConfirmationRejected, "%s was not confirmed: %v", call.Name, err))
		}
		switch decision {
		case tools.DecisionApproved:
		case tools.DecisionExpired:
			return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrConfirmationTimeout, "confirmation for %s timed out", call.Name))
		case tools.DecisionCancelled:
			return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrCancelled, "%s was cancelled before confirmation", call.Name))
		default:
			return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrConfirmationRejected, "the user rejected %s", call.Name))
		}
	}

	if entry.Category == tools.Completion {
		result, _ := args["result"].(string)
		rec.Completion = true
		rec.Content = result
		b.Tool.IsCompletionSignal = true
		return h.succeed(ctx, rec, result)
	}

	if h.gateway == nil {
		return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrGateway, "no gateway configured for %s", call.Name))
	}
	log.Debug("dispatching tool call", "server", entry.ServerID)
	start := time.Now()
	res, err := h.gateway.CallTool(ctx, entry.ServerID, call.Name, call.Arguments, h.callTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrCancelled, "%s was cancelled", call.Name))
		}
		log.Warn("tool call failed", "server", entry.ServerID, "error", err)
		if errors.Is(err, gateway.ErrToolNotFound) {
			return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrToolNotFound, "%v", err))
		}
		return h.fail(ctx, rec, tools.NewToolErrorf(tools.ErrGateway, "%v", err))
	}
	log.Debug("tool call finished", "duration", time.Since(start), "is_error", res.IsError)

	if res.IsError {
		rec.IsError = true
		rec.Content = res.Content
		b.Tool.Result = res.Content
		b.Status = message.BlockFailed
		b.Error = &message.ErrorInfo{Message: res.Content}
		h.proc.WriteBlock(ctx, b, true)
		return rec
	}
	rec.Content = res.Content
	return h.succeed(ctx, rec, res.Content)
}

func (h *ToolHandler) succeed(ctx context.Context, rec ToolRecord, result string) ToolRecord {
	rec.Block.Tool.Result = result
	rec.Block.Status = message.BlockSuccess
	h.proc.WriteBlock(ctx, rec.Block, true)
	return rec
}

func (h *ToolHandler) fail(ctx context.Context, rec ToolRecord, te *tools.ToolError) ToolRecord {
	rec.Err = te
	rec.IsError = true
	rec.Content = te.Error()
	rec.Block.Status = message.BlockFailed
	rec.Block.Error = &message.ErrorInfo{Type: string(te.Type), Message: te.Message}
	h.proc.WriteBlock(ctx, rec.Block, true)
	return rec
}

// validateArguments decodes args as an object and checks the schema's
// required properties are present.
func validateArguments(raw json.RawMessage, schema map[string]any) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	var missing []string
	for _, name := range requiredArgs(schema) {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}
	return args, nil
}

func requiredArgs(schema map[string]any) []string {
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
