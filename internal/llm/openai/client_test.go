package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/llm"
)

func TestChatWithoutKeyIsUnauthenticated(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if xerrors.CodeOf(err) != xerrors.CodeUnauthenticated {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}
}

func TestChatSendsToolsAndParsesToolCalls(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o",
			"choices": [{
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "getTopHolders", "arguments": "{\"limit\":5}"}}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	client.httpClient = srv.Client()

	resp, err := client.Chat(context.Background(), llm.ChatRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "system"},
			{Role: llm.RoleUser, Content: "who are the top holders?"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_0", Name: "getHolderCount", Arguments: json.RawMessage(`{}`)}}},
			{Role: llm.RoleTool, ToolCallID: "call_0", Name: "getHolderCount", Content: `{"total":3}`},
		},
		Tools: []llm.Tool{{Name: "getTopHolders", Description: "top", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "getTopHolders" || string(resp.ToolCalls[0].Arguments) != `{"limit":5}` {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body["tool_choice"] != "auto" {
		t.Fatalf("tool_choice not set: %v", captured.Body["tool_choice"])
	}
	tools, _ := captured.Body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools not sent: %v", captured.Body["tools"])
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("unexpected messages: %v", captured.Body["messages"])
	}
	toolMsg := messages[3].(map[string]any)
	if toolMsg["tool_call_id"] != "call_0" || toolMsg["role"] != "tool" {
		t.Fatalf("tool message malformed: %v", toolMsg)
	}
	assistant := messages[2].(map[string]any)
	if assistant["content"] != nil {
		t.Fatalf("assistant tool-call message should carry null content: %v", assistant["content"])
	}
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   xerrors.Code
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, xerrors.CodeRateLimited},
		{http.StatusForbidden, `{"error":{"message":"quota","code":"insufficient_quota"}}`, xerrors.CodeRateLimited},
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, xerrors.CodeUnauthenticated},
		{http.StatusInternalServerError, `boom`, xerrors.CodeProviderFailure},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))

		client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
		client.httpClient = srv.Client()
		_, err := client.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
		if got := xerrors.CodeOf(err); got != tc.want {
			t.Errorf("status %d: want %s, got %s (%v)", tc.status, tc.want, got, err)
		}
		srv.Close()
	}
}

func TestChatTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}
