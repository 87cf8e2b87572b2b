package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected path /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("unexpected x-api-key header: %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("expected anthropic-version header")
		}

		var reqBody anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if reqBody.System != "You are a helpful assistant" {
			t.Errorf("system prompt not lifted out: %q", reqBody.System)
		}
		for _, m := range reqBody.Messages {
			if m.Role == "system" {
				t.Error("system message left in the message list")
			}
		}
		if len(reqBody.Messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(reqBody.Messages))
		}

		resp := `{
			"id": "msg_123",
			"type": "message",
			"role": "assistant",
			"content": [
				{"type": "text", "text": "Hello! "},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "How can I help?"}
			],
			"model": "claude-sonnet-4",
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 80, "output_tokens": 12}
		}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	defer server.Close()

	p := NewAnthropic(Options{BaseURL: server.URL, APIKey: "test-key", Model: "claude-sonnet-4"})

	req := Request{
		Messages: []Message{
			{Role: "system", Content: "You are a helpful assistant"},
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi there"},
		},
		MaxTokens: 500,
	}

	content, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if content != "Hello! How can I help?" {
		t.Errorf("text blocks not concatenated: %q", content)
	}
}

func TestAnthropicDefaultMaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if reqBody.MaxTokens != 4096 {
			t.Errorf("expected default max_tokens 4096, got %d", reqBody.MaxTokens)
		}
		w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}]}`))
	}))
	defer server.Close()

	p := NewAnthropic(Options{BaseURL: server.URL, APIKey: "test-key", Model: "claude-sonnet-4"})

	_, err := p.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
}

func TestAnthropicCompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens required"}}`))
	}))
	defer server.Close()

	p := NewAnthropic(Options{BaseURL: server.URL, APIKey: "test-key", Model: "claude-sonnet-4"})

	_, err := p.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "invalid_request_error") {
		t.Errorf("error should carry the API error type, got: %v", err)
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Hi"},
		{Role: "system", Content: "Answer in French."},
		{Role: "assistant", Content: "Bonjour"},
	})

	if system != "Be brief.\n\nAnswer in French." {
		t.Errorf("unexpected system text: %q", system)
	}
	if len(rest) != 2 || rest[0].Role != "user" || rest[1].Role != "assistant" {
		t.Errorf("unexpected remaining messages: %+v", rest)
	}

	system, rest = splitSystem(nil)
	if system != "" || len(rest) != 0 {
		t.Errorf("expected empty split, got %q / %+v", system, rest)
	}
}
