// Package chat provides the LLM conversation layer: an OpenAI-compatible
// chat completions client, the voice system prompt builder, markdown
// stripping for speech output, and the end_conversation tool loop.
//
// Providers implement the Provider interface. Client talks to any
// OpenAI-compatible endpoint; Mock stands in for tests.
package chat

import (
	"context"
)

// Provider is the interface all chat backends implement.
type Provider interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream sends messages and returns a stream of response chunks.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Health checks if the provider is available.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest contains the input for a chat completion.
type ChatRequest struct {
	// Messages is the conversation history, oldest first.
	Messages []Message

	// Model overrides the default model for this request.
	Model string

	// MaxTokens limits the response length. 0 uses the provider default.
	MaxTokens int

	// Temperature controls randomness (0.0 to 2.0). 0 uses the default.
	Temperature float64

	// TopP is the nucleus sampling parameter.
	TopP float64

	// Stop sequences that end generation.
	Stop []string

	// Tools the model may call.
	Tools []Tool

	// ToolChoice controls tool selection: "auto", "none", or "required".
	// Empty defaults to "auto" when Tools are present.
	ToolChoice string
}

// ChatResponse is the result of a chat completion.
type ChatResponse struct {
	// Message is the assistant's reply.
	Message Message

	// FinishReason is why generation stopped: "stop", "length", "tool_calls".
	FinishReason string

	// Usage reports token consumption.
	Usage Usage

	// Model is the model that produced the response.
	Model string

	// LatencyMs is the round-trip time in milliseconds.
	LatencyMs float64
}

// Usage reports token counts for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Stream delivers a chat response incrementally.
type Stream interface {
	// Recv returns the next chunk. After the final chunk, Done is true.
	Recv() (*StreamChunk, error)

	// Close releases the stream. Safe to call multiple times.
	Close() error
}

// StreamChunk is one increment of a streamed response.
type StreamChunk struct {
	// Delta is the new content in this chunk.
	Delta string

	// FinishReason is set on the final content chunk.
	FinishReason string

	// Done is true once the stream is complete.
	Done bool
}
