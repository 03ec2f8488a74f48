package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider using the chat completions API.
// A custom base URL makes it usable with OpenAI-compatible servers
// (Ollama, LM Studio, vLLM).
type OpenAIProvider struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAIProvider creates a chat completions provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	name := "OpenAI"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		name = "OpenAI-compatible"
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model, name: name}
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.name, p.model)
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
			Messages: buildOpenAIMessages(req.Messages),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}
		if len(req.Tools) > 0 {
			params.Tools = buildOpenAITools(req.Tools)
		}

		slog.Debug("openai stream request", "model", params.Model, "messages", len(params.Messages), "tools", len(req.Tools))

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var acc accumulator
		completions := openai.ChatCompletionAccumulator{}
		announced := make(map[int64]bool)
		var lastUsage *Usage
		for stream.Next() {
			chunk := stream.Current()
			completions.AddChunk(chunk)

			if tool, ok := completions.JustFinishedToolCall(); ok {
				call := ToolCall{ID: tool.ID, Name: tool.Name, Arguments: json.RawMessage(tool.Arguments)}
				if err := send(ctx, events, Event{Type: EventToolCall, Tool: &call}); err != nil {
					return err
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				lastUsage = &Usage{
					InputTokens:       int(chunk.Usage.PromptTokens),
					OutputTokens:      int(chunk.Usage.CompletionTokens),
					CachedInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			for _, tc := range delta.ToolCalls {
				if announced[tc.Index] || tc.Function.Name == "" {
					continue
				}
				announced[tc.Index] = true
				call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
				if err := send(ctx, events, Event{Type: EventToolInProgress, Tool: &call}); err != nil {
					return err
				}
			}
			if err := acc.Text(ctx, events, delta.Content); err != nil {
				return err
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}
		if err := acc.Complete(ctx, events); err != nil {
			return err
		}
		if lastUsage != nil {
			if err := send(ctx, events, Event{Type: EventUsage, Use: lastUsage}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	messages = sanitizeToolHistory(messages)
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(collectTextParts(msg.Parts)))
		case RoleUser:
			out = append(out, openai.UserMessage(collectTextParts(msg.Parts)))
		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := collectTextParts(msg.Parts); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, part := range msg.Parts {
				if part.Type != PartToolCall || part.ToolCall == nil {
					continue
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: part.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      part.ToolCall.Name,
						Arguments: string(part.ToolCall.Arguments),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
				}
			}
		}
	}
	return out
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		schema := spec.Schema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(schema),
			},
		})
	}
	return tools
}
