package llm

import (
	"testing"

	"github.com/samsaffron/chatcore/internal/config"
)

func TestParseProviderModel(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{name: "provider only", input: "gemini", wantProvider: "gemini"},
		{name: "provider with model", input: "openai:gpt-4o", wantProvider: "openai", wantModel: "gpt-4o"},
		{name: "trims whitespace", input: " anthropic : claude-sonnet-4-5 ", wantProvider: "anthropic", wantModel: "claude-sonnet-4-5"},
		{name: "empty", input: "", wantErr: true},
		{name: "invalid provider", input: "unknown:model", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider, model, err := ParseProviderModel(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider != tc.wantProvider {
				t.Fatalf("provider=%q, want %q", provider, tc.wantProvider)
			}
			if model != tc.wantModel {
				t.Fatalf("model=%q, want %q", model, tc.wantModel)
			}
		})
	}
}

func TestNewProviderRequiresCredentials(t *testing.T) {
	for _, name := range []string{"openai", "gemini", "bogus"} {
		cfg := &config.Config{Provider: name}
		if _, err := NewProvider(cfg); err == nil {
			t.Errorf("%s: expected an error without credentials", name)
		}
	}

	p, err := NewProvider(&config.Config{Provider: "openai", OpenAI: config.OpenAIConfig{BaseURL: "http://localhost:11434/v1", Model: "llama3"}})
	if err != nil {
		t.Fatalf("openai with base_url: %v", err)
	}
	if _, ok := p.(*RetryProvider); !ok {
		t.Errorf("provider %T is not wrapped with retry", p)
	}
}
