package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceline/internal/httpc"
	"github.com/teslashibe/go-voiceline/internal/log"
	"github.com/teslashibe/go-voiceline/pkg/audio"
)

// Whisper transcribes with the OpenAI audio transcriptions endpoint. PCM is
// wrapped in a WAV container for the multipart upload.
type Whisper struct {
	cfg    *Config
	client *http.Client
	logger *slog.Logger
}

var _ Provider = (*Whisper)(nil)

// NewWhisper builds the REST provider. The API key is required.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}
	return &Whisper{
		cfg:    cfg,
		client: client,
		logger: log.With("component", "stt_whisper"),
	}, nil
}

// Transcribe uploads the utterance and returns the recognized text.
func (w *Whisper) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", WrapError("whisper", err)
	}
	if _, err := part.Write(audio.WAV(pcm, sampleRate)); err != nil {
		return "", WrapError("whisper", err)
	}
	mw.WriteField("model", w.cfg.Model)
	if lang := iso639(language); lang != "" {
		mw.WriteField("language", lang)
	}
	mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", WrapError("whisper", err)
	}

	resp, err := w.doWithRetry(ctx, w.cfg.BaseURL+"/audio/transcriptions", mw.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", WrapError("whisper", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", parseError("whisper", resp)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", WrapError("whisper", fmt.Errorf("decode response: %w", err))
	}
	text := strings.TrimSpace(out.Text)
	w.logger.Debug("transcription complete", "chars", len(text), "language", language)
	return text, nil
}

// Health reports whether the provider has credentials.
func (w *Whisper) Health(ctx context.Context) error {
	if w.cfg.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// Close releases idle connections.
func (w *Whisper) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// doWithRetry POSTs body, retrying rate limits and server errors with linear
// backoff. The final attempt's response is returned as-is for the caller to
// judge.
func (w *Whisper) doWithRetry(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * w.cfg.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < w.cfg.MaxRetries-1 {
			resp.Body.Close()
			lastErr = &APIError{StatusCode: resp.StatusCode, Provider: "whisper", Message: "retryable status"}
			w.logger.Warn("retrying transcription request", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", w.cfg.MaxRetries, lastErr)
}

// parseError turns a non-2xx response into an APIError, honoring the OpenAI
// error envelope when present.
func parseError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Provider:   provider,
		Message:    strings.TrimSpace(string(body)),
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
		if apiErr.Code == "" {
			apiErr.Code = envelope.Error.Type
		}
	}
	return apiErr
}

// iso639 reduces a language tag to the two-letter code Whisper accepts.
func iso639(language string) string {
	return strings.ToLower(strings.SplitN(language, "-", 2)[0])
}
