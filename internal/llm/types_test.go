package llm

import (
	"testing"

	"github.com/nugget/relay/internal/config"
)

func TestArgumentsJSON(t *testing.T) {
	if got := string((ToolCall{}).ArgumentsJSON()); got != "{}" {
		t.Errorf("empty arguments = %s, want {}", got)
	}
	if got := string((ToolCall{Arguments: `{"a":1}`}).ArgumentsJSON()); got != `{"a":1}` {
		t.Errorf("arguments = %s", got)
	}
}

func TestDecodeArguments(t *testing.T) {
	if got := decodeArguments(""); len(got) != 0 {
		t.Errorf("decodeArguments(\"\") = %v", got)
	}
	if got := decodeArguments(`{"k":"v"}`); got["k"] != "v" {
		t.Errorf("decodeArguments = %v", got)
	}
	if got := decodeArguments(`not json`); got["_raw"] != "not json" {
		t.Errorf("decodeArguments(invalid) = %v", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
		wantErr  bool
	}{
		{provider: "", wantType: "*llm.OllamaClient"},
		{provider: "ollama", wantType: "*llm.OllamaClient"},
		{provider: "openai", wantType: "*llm.OpenAIClient"},
		{provider: "anthropic", wantType: "*llm.AnthropicClient"},
		{provider: "bard", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c, err := New(config.LLMConfig{Provider: tt.provider}, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := typeName(c); got != tt.wantType {
				t.Errorf("New() = %s, want %s", got, tt.wantType)
			}
		})
	}
}

func typeName(c Client) string {
	switch c.(type) {
	case *OllamaClient:
		return "*llm.OllamaClient"
	case *OpenAIClient:
		return "*llm.OpenAIClient"
	case *AnthropicClient:
		return "*llm.AnthropicClient"
	}
	return "unknown"
}
