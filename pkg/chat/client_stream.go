package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stream sends messages and returns a stream of response chunks delivered
// as server-sent events.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}

	payload := c.buildChatPayload(req, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, WrapError("openai", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp, "openai")
	}

	return &clientStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
	}, nil
}

// clientStream reads server-sent events from a streaming completion.
type clientStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// Recv returns the next chunk. Malformed events are skipped.
func (s *clientStream) Recv() (*StreamChunk, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return &StreamChunk{Done: true}, nil
		}

		var chunk streamChunkResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		out := &StreamChunk{
			Delta:        choice.Delta.Content,
			FinishReason: choice.FinishReason,
		}
		if choice.FinishReason != "" {
			out.Done = true
		}
		return out, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("chat: read stream: %w", err)
	}
	return &StreamChunk{Done: true}, nil
}

// Close releases the stream.
func (s *clientStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// streamChunkResponse is the wire format of one SSE chunk.
type streamChunkResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
