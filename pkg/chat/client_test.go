package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceline/pkg/chat"
)

func newTestClient(t *testing.T, baseURL string, opts ...chat.Option) *chat.Client {
	t.Helper()
	opts = append([]chat.Option{
		chat.WithBaseURL(baseURL),
		chat.WithAPIKey("test-key"),
		chat.WithRetryDelay(time.Millisecond),
	}, opts...)
	client, err := chat.NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func completionJSON(content string, toolCalls []map[string]interface{}, finishReason string) map[string]interface{} {
	msg := map[string]interface{}{"role": "assistant", "content": content}
	if toolCalls != nil {
		msg["tool_calls"] = toolCalls
	}
	return map[string]interface{}{
		"id":    "chatcmpl-test",
		"model": "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{"message": msg, "finish_reason": finishReason},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %q, want Bearer test-key", auth)
		}

		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v, want gpt-4o-mini", payload["model"])
		}
		if payload["max_tokens"] != float64(2048) {
			t.Errorf("max_tokens = %v, want 2048", payload["max_tokens"])
		}
		msgs := payload["messages"].([]interface{})
		first := msgs[0].(map[string]interface{})
		if first["role"] != "user" || first["content"] != "Hello" {
			t.Errorf("unexpected first message: %v", first)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON("Hello! How can I help?", nil, "stop"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	resp, err := client.Chat(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{chat.NewUserMessage("Hello")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Hello! How can I help?" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.Message.Role != chat.RoleAssistant {
		t.Errorf("role = %q, want assistant", resp.Message.Role)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestClientChatToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)

		tools, ok := payload["tools"].([]interface{})
		if !ok || len(tools) != 1 {
			t.Errorf("expected one tool in payload, got %v", payload["tools"])
		}
		if payload["tool_choice"] != "auto" {
			t.Errorf("tool_choice = %v, want auto", payload["tool_choice"])
		}

		calls := []map[string]interface{}{
			{
				"id":   "call-123",
				"type": "function",
				"function": map[string]interface{}{
					"name":      "end_conversation",
					"arguments": "{}",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON("", calls, "tool_calls"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	resp, err := client.Chat(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{chat.NewUserMessage("さようなら")},
		Tools:    []chat.Tool{chat.EndConversationTool("ja")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call-123" {
		t.Errorf("tool call ID = %q", tc.ID)
	}
	if tc.Name != "end_conversation" {
		t.Errorf("tool call name = %q", tc.Name)
	}
	if tc.Arguments != "{}" {
		t.Errorf("tool call arguments = %q", tc.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q", resp.FinishReason)
	}
}

func TestClientChatNoMessages(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")

	_, err := client.Chat(context.Background(), &chat.ChatRequest{})
	if !errors.Is(err, chat.ErrNoMessages) {
		t.Fatalf("err = %v, want ErrNoMessages", err)
	}
}

func TestClientChatAPIError(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Invalid API key",
				"type":    "invalid_request_error",
				"code":    "invalid_api_key",
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Chat(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{chat.NewUserMessage("test")},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *chat.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.StatusCode)
	}
	if !apiErr.IsUnauthorized() {
		t.Error("IsUnauthorized() = false")
	}
	if apiErr.IsRetryable() {
		t.Error("IsRetryable() = true for 401")
	}
	if apiErr.Message != "Invalid API key" {
		t.Errorf("message = %q", apiErr.Message)
	}
	if apiErr.Code != "invalid_api_key" {
		t.Errorf("code = %q", apiErr.Code)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("made %d requests, want 1 (401 is not retryable)", n)
	}
}

func TestClientChatRetriesServerError(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON("recovered", nil, "stop"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	resp, err := client.Chat(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{chat.NewUserMessage("test")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "recovered" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("made %d requests, want 2", n)
	}
}

func TestClientChatRetryExhausted(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, chat.WithMaxRetries(2))

	_, err := client.Chat(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{chat.NewUserMessage("test")},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *chat.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want wrapped *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.StatusCode)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("made %d requests, want 3 (initial + 2 retries)", n)
	}
}

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s, want /models", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestClientHealthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *chat.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsServerError() {
		t.Errorf("err = %v, want server-side *APIError", err)
	}
}

func TestClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["stream"] != true {
			t.Errorf("stream = %v, want true", payload["stream"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			`data: {"choices":[{"delta":{"content":"Hello"},"finish_reason":""}]}` + "\n\n" +
				"event: noise\n" +
				"data: {not json}\n\n" +
				`data: {"choices":[{"delta":{"content":" world"},"finish_reason":""}]}` + "\n\n" +
				`data: {"choices":[{"delta":{"content":""},"finish_reason":"stop"}]}` + "\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	stream, err := client.Stream(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{chat.NewUserMessage("Hello")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var content string
	var finishReason string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		content += chunk.Delta
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.Done {
			break
		}
	}

	if content != "Hello world" {
		t.Errorf("content = %q, want %q", content, "Hello world")
	}
	if finishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", finishReason)
	}

	if err := stream.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := stream.Recv(); !errors.Is(err, chat.ErrStreamClosed) {
		t.Errorf("Recv after close = %v, want ErrStreamClosed", err)
	}
}
