package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIChat(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, `{
			"id": "chatcmpl-1", "created": 1700000000, "model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": null,
				"tool_calls": [{"id": "call_9", "type": "function",
					"function": {"name": "read_file", "arguments": "{\"path\":\"x\"}"}}]
			}}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 7}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "sk-test", 256, 0, nil)
	messages := []Message{
		{Role: RoleUser, Content: "go"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "list_dir", Arguments: `{}`}}},
		{Role: RoleTool, ToolCallID: "call_1", Content: "x"},
	}

	resp, err := c.Chat(context.Background(), "gpt-test", messages, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if raw["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", raw["max_tokens"])
	}
	sent := raw["messages"].([]any)
	assistant := sent[1].(map[string]any)
	if assistant["content"] != nil {
		t.Errorf("assistant content = %v, want null", assistant["content"])
	}
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	if call["type"] != "function" || call["function"].(map[string]any)["arguments"] != "{}" {
		t.Errorf("tool call = %v", call)
	}
	if sent[2].(map[string]any)["tool_call_id"] != "call_1" {
		t.Errorf("tool message = %v", sent[2])
	}

	if resp.Message.Role != RoleAssistant || resp.Message.Content != "" {
		t.Errorf("message = %+v", resp.Message)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_9" || tc.Name != "read_file" || tc.Arguments != `{"path":"x"}` {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 30 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenAIChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad tools","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", 0, 0, nil)
	_, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "bad tools") {
		t.Errorf("err = %v, want API message", err)
	}
}

func TestOpenAIChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", 0, 0, nil)
	if _, err := c.Chat(context.Background(), "m", nil, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/models" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewOpenAIClient(srv.URL, "k", 0, 0, nil).Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
