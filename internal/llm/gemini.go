package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google GenAI SDK.
type GeminiProvider struct {
	apiKey string
	model  string
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: model}
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Reasoning: true}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey, Backend: genai.BackendGeminiAPI})
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return fmt.Errorf("no user content provided")
		}

		config := &genai.GenerateContentConfig{
			ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
		}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}
		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
		}

		slog.Debug("gemini stream request", "model", chooseModel(req.Model, p.model), "contents", len(contents), "tools", len(req.Tools))

		var acc accumulator
		var lastResp *genai.GenerateContentResponse
		var lastThoughtSig []byte
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			lastResp = resp
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Thought {
					if len(part.ThoughtSignature) > 0 {
						lastThoughtSig = part.ThoughtSignature
					}
					if err := acc.Reasoning(ctx, events, part.Text); err != nil {
						return err
					}
					continue
				}
				if err := acc.Text(ctx, events, part.Text); err != nil {
					return err
				}
				if part.FunctionCall != nil {
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					thoughtSig := part.ThoughtSignature
					if thoughtSig == nil {
						thoughtSig = lastThoughtSig
					}
					call := &ToolCall{
						ID:         part.FunctionCall.ID,
						Name:       part.FunctionCall.Name,
						Arguments:  argsJSON,
						ThoughtSig: thoughtSig,
					}
					if err := acc.CompleteReasoning(ctx, events); err != nil {
						return err
					}
					if err := send(ctx, events, Event{Type: EventToolCall, Tool: call}); err != nil {
						return err
					}
				}
			}
		}

		if err := acc.Complete(ctx, events); err != nil {
			return err
		}
		if lastResp != nil && lastResp.UsageMetadata != nil && lastResp.UsageMetadata.TotalTokenCount > 0 {
			use := &Usage{
				InputTokens:       int(lastResp.UsageMetadata.PromptTokenCount),
				OutputTokens:      int(lastResp.UsageMetadata.CandidatesTokenCount),
				CachedInputTokens: int(lastResp.UsageMetadata.CachedContentTokenCount),
			}
			if err := send(ctx, events, Event{Type: EventUsage, Use: use}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: normalizeSchemaForGemini(spec.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	messages = sanitizeToolHistory(messages)
	for _, msg := range messages {
		var content *genai.Content
		switch msg.Role {
		case RoleSystem:
			if text := collectTextParts(msg.Parts); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			content = buildGeminiContent(genai.RoleUser, msg.Parts)
		case RoleAssistant:
			content = buildGeminiContent(genai.RoleModel, msg.Parts)
		case RoleTool:
			content = buildGeminiToolResultContent(msg.Parts)
		}
		if content != nil {
			contents = append(contents, content)
		}
	}

	return strings.Join(systemParts, "\n\n"), contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: toolArgsToMap(part.ToolCall.Arguments),
				},
				ThoughtSignature: part.ToolCall.ThoughtSig,
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func buildGeminiToolResultContent(parts []Part) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	for _, part := range parts {
		if part.Type != PartToolResult || part.ToolResult == nil {
			continue
		}
		key := "output"
		if part.ToolResult.IsError {
			key = "error"
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       part.ToolResult.ID,
				Name:     part.ToolResult.Name,
				Response: map[string]any{key: part.ToolResult.Content},
			},
			ThoughtSignature: part.ToolResult.ThoughtSig,
		})
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}
