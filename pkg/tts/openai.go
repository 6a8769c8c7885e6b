package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceline/internal/httpc"
	"github.com/teslashibe/go-voiceline/internal/log"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voices. All are multilingual, so language selects nothing here.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI TTS models.
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI synthesizes with the /audio/speech endpoint. The API speaks PCM at
// 24kHz or MP3; μ-law requests are served as PCM24 and the Format reports
// that honestly so the caller transcodes.
type OpenAI struct {
	cfg     *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI builds the REST provider. The API key falls back to the
// environment; the voice defaults to shimmer.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = VoiceShimmer
	cfg.ModelID = ModelTTS1
	cfg.Apply(opts...)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}
	return &OpenAI{
		cfg:     cfg,
		client:  client,
		logger:  log.With("component", "tts_openai"),
		baseURL: baseURL,
	}, nil
}

// Synthesize converts text to a complete audio buffer. language is ignored
// beyond logging; OpenAI voices pick pronunciation from the text itself.
func (o *OpenAI) Synthesize(ctx context.Context, text, language string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	responseFormat, format := o.responseFormat()
	body, err := json.Marshal(map[string]any{
		"model":           o.cfg.ModelID,
		"voice":           o.cfg.VoiceID,
		"input":           text,
		"response_format": responseFormat,
	})
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := o.doWithRetry(ctx, o.baseURL+"/audio/speech", body)
	if err != nil {
		return nil, WrapError(providerOpenAI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIError(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}

	latency := time.Since(start).Milliseconds()
	o.logger.Debug("synthesis complete",
		"chars", len([]rune(text)),
		"bytes", len(payload),
		"voice", o.cfg.VoiceID,
		"language", language,
		"latency_ms", latency,
	)

	return &AudioResult{
		Audio:     payload,
		Format:    format,
		Duration:  estimateDuration(len(payload), format),
		CharCount: len([]rune(text)),
		LatencyMs: latency,
	}, nil
}

// Stream synthesizes the full buffer and yields it as one chunk; the speech
// endpoint has no incremental output worth the name.
func (o *OpenAI) Stream(ctx context.Context, text, language string) (AudioStream, error) {
	result, err := o.Synthesize(ctx, text, language)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health checks credentials against the models endpoint.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return parseOpenAIError(resp)
	}
	return nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// responseFormat maps the configured encoding to the API's response_format
// and the format actually produced. PCM always comes back at 24kHz; μ-law
// is not offered, so those requests get PCM24 for the caller to encode.
func (o *OpenAI) responseFormat() (string, AudioFormat) {
	if o.cfg.OutputFormat == EncodingMP3 {
		return "mp3", AudioFormat{
			Encoding:   EncodingMP3,
			SampleRate: SampleRateFromEncoding(EncodingMP3),
			Channels:   1,
		}
	}
	return "pcm", AudioFormat{
		Encoding:   EncodingPCM24,
		SampleRate: 24000,
		Channels:   1,
		BitDepth:   16,
	}
}

// doWithRetry POSTs body, retrying rate limits and server errors with
// linear backoff.
func (o *OpenAI) doWithRetry(ctx context.Context, url string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * o.cfg.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < o.cfg.MaxRetries-1 {
			resp.Body.Close()
			lastErr = &APIError{StatusCode: resp.StatusCode, Provider: providerOpenAI, Message: "retryable status"}
			o.logger.Warn("retrying synthesis request", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", o.cfg.MaxRetries, lastErr)
}

// parseOpenAIError turns a non-2xx response into an APIError, honoring the
// OpenAI error envelope when present.
func parseOpenAIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Provider:   providerOpenAI,
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
