package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceline/internal/httpc"
	"github.com/teslashibe/go-voiceline/internal/log"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs.
const (
	// ModelFlashV2_5 is the fastest multilingual model, the default for
	// phone traffic where Japanese and English mix.
	ModelFlashV2_5 = "eleven_flash_v2_5"

	// ModelTurboV2_5 is the fastest English-leaning model.
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelMultilingualV2 trades latency for quality.
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs synthesizes with the ElevenLabs REST API. The output encoding
// rides the output_format query parameter, so μ-law comes back ready for
// the phone leg without transcoding.
type ElevenLabs struct {
	cfg     *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

var _ Provider = (*ElevenLabs)(nil)

// NewElevenLabs builds the REST provider. The API key and a voice are
// required; both fall back to the environment.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}
	return &ElevenLabs{
		cfg:     cfg,
		client:  client,
		logger:  log.With("component", "tts_elevenlabs"),
		baseURL: baseURL,
	}, nil
}

// Synthesize converts text to a complete audio buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, language string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	body, err := json.Marshal(e.payload(text, language))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := e.doWithRetry(ctx, e.endpoint(language, false), body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, e.parseError(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}

	format := e.outputFormat()
	latency := time.Since(start).Milliseconds()
	e.logger.Debug("synthesis complete",
		"chars", len([]rune(text)),
		"bytes", len(payload),
		"model", e.cfg.ModelID,
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

// Stream converts text to audio delivered as the API produces it.
func (e *ElevenLabs) Stream(ctx context.Context, text, language string) (AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(e.payload(text, language))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(language, true), bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerElevenLabs, err)
	}
	e.setHeaders(req)

	// Streams outlive the per-request timeout.
	client := e.cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(e.cfg.StreamTimeout)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("stream request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, e.parseError(resp)
	}
	return &httpStream{body: resp.Body, format: e.outputFormat()}, nil
}

// Health checks credentials against the user endpoint.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabs, err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return e.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// endpoint builds the synthesis URL for the voice serving language, with
// the output format on the query string.
func (e *ElevenLabs) endpoint(language string, stream bool) string {
	voice := e.cfg.VoiceID
	if v, ok := e.cfg.languageVoice(language); ok {
		voice = v
	}
	path := fmt.Sprintf("%s/text-to-speech/%s", e.baseURL, ResolveElevenLabsVoice(voice))
	if stream {
		path += "/stream"
	}
	q := url.Values{}
	q.Set("output_format", string(e.cfg.OutputFormat))
	return path + "?" + q.Encode()
}

// payload builds the request body. v2.5 models take an explicit language
// code; older models infer it from the text.
func (e *ElevenLabs) payload(text, language string) map[string]any {
	p := map[string]any{
		"text":     text,
		"model_id": e.cfg.ModelID,
		"voice_settings": map[string]any{
			"stability":         e.cfg.VoiceSettings.Stability,
			"similarity_boost":  e.cfg.VoiceSettings.SimilarityBoost,
			"style":             e.cfg.VoiceSettings.Style,
			"use_speaker_boost": e.cfg.VoiceSettings.SpeakerBoost,
		},
	}
	if lang := iso639(language); lang != "" && strings.HasSuffix(e.cfg.ModelID, "v2_5") {
		p["language_code"] = lang
	}
	return p
}

func (e *ElevenLabs) setHeaders(req *http.Request) {
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", mimeFromEncoding(e.cfg.OutputFormat))
}

// doWithRetry POSTs body, retrying rate limits and server errors with
// linear backoff. The final attempt's response is returned as-is for the
// caller to judge.
func (e *ElevenLabs) doWithRetry(ctx context.Context, url string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * e.cfg.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		e.setHeaders(req)

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < e.cfg.MaxRetries-1 {
			resp.Body.Close()
			lastErr = &APIError{StatusCode: resp.StatusCode, Provider: providerElevenLabs, Message: "retryable status"}
			e.logger.Warn("retrying synthesis request", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", e.cfg.MaxRetries, lastErr)
}

// parseError turns a non-2xx response into an APIError, honoring the
// ElevenLabs detail envelope when present.
func (e *ElevenLabs) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Provider:   providerElevenLabs,
		Message:    strings.TrimSpace(string(body)),
	}
	var envelope struct {
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail.Message != "" {
		apiErr.Message = envelope.Detail.Message
		apiErr.Code = envelope.Detail.Status
	}
	return apiErr
}

func (e *ElevenLabs) outputFormat() AudioFormat {
	return AudioFormat{
		Encoding:   e.cfg.OutputFormat,
		SampleRate: SampleRateFromEncoding(e.cfg.OutputFormat),
		Channels:   1,
		BitDepth:   bitDepth(e.cfg.OutputFormat),
	}
}

// mimeFromEncoding maps an encoding to its Accept MIME type.
func mimeFromEncoding(enc Encoding) string {
	switch enc {
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingULaw:
		return "audio/basic"
	default:
		return "audio/pcm"
	}
}

// httpStream adapts an HTTP response body to AudioStream.
type httpStream struct {
	body   io.ReadCloser
	format AudioFormat
	buf    [4096]byte
	closed bool
}

func (s *httpStream) Read() ([]byte, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	for {
		n, err := s.body.Read(s.buf[:])
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *httpStream) Close() error {
	s.closed = true
	return s.body.Close()
}

func (s *httpStream) Format() AudioFormat { return s.format }
