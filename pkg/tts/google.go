package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/teslashibe/go-voiceline/internal/log"
	"github.com/teslashibe/go-voiceline/pkg/audio"
)

const (
	googleScope    = "https://www.googleapis.com/auth/cloud-platform"
	providerGoogle = "google"
)

// Google synthesizes with the Cloud Text-to-Speech v1 API. MULAW and
// LINEAR16 responses come back in a WAV container; the header is stripped so
// callers get the bare payload the phone leg wants.
type Google struct {
	cfg    *Config
	svc    *texttospeech.Service
	logger *slog.Logger
}

var _ Provider = (*Google)(nil)

// NewGoogle builds the client. Credentials resolve in order: inline JSON,
// key file, application-default credentials.
func NewGoogle(opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	ctx := context.Background()
	var clientOpts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.CredentialsJSON), googleScope)
		if err != nil {
			return nil, fmt.Errorf("tts: parse google credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("tts: create google texttospeech service: %w", err)
	}
	return &Google{
		cfg:    cfg,
		svc:    svc,
		logger: log.With("component", "tts_google"),
	}, nil
}

// Synthesize sends one synthesis request and returns the decoded audio.
func (g *Google) Synthesize(ctx context.Context, text, language string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	code := languageCode(language)
	encoding, rate := googleEncoding(g.cfg.OutputFormat)
	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: g.voiceParams(language, code),
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   encoding,
			SampleRateHertz: rate,
		},
	}

	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	payload, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio content: %w", err))
	}
	if encoding == "MULAW" || encoding == "LINEAR16" {
		payload = audio.TrimWAVHeader(payload)
	}

	format := g.outputFormat()
	latency := time.Since(start).Milliseconds()
	g.logger.Debug("synthesis complete",
		"chars", len([]rune(text)),
		"bytes", len(payload),
		"language", code,
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

// Stream synthesizes the full buffer and yields it as one chunk; the v1
// REST API has no incremental output.
func (g *Google) Stream(ctx context.Context, text, language string) (AudioStream, error) {
	result, err := g.Synthesize(ctx, text, language)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health lists voices, which exercises both credentials and connectivity.
func (g *Google) Health(ctx context.Context) error {
	if g.svc == nil {
		return fmt.Errorf("tts: google texttospeech service not initialized")
	}
	if _, err := g.svc.Voices.List().Context(ctx).Do(); err != nil {
		return WrapError(providerGoogle, fmt.Errorf("list voices: %w", err))
	}
	return nil
}

// Close is a no-op; the generated client holds no connections of its own.
func (g *Google) Close() error {
	return nil
}

// voiceParams picks a concrete voice when one is configured for the
// language, otherwise lets the service choose by neutral gender.
func (g *Google) voiceParams(language, code string) *texttospeech.VoiceSelectionParams {
	params := &texttospeech.VoiceSelectionParams{LanguageCode: code}
	name, ok := g.cfg.languageVoice(language)
	if !ok {
		name, ok = GoogleVoices[code]
	}
	if ok && name != "" {
		params.Name = name
	} else {
		params.SsmlGender = "NEUTRAL"
	}
	return params
}

func (g *Google) outputFormat() AudioFormat {
	return AudioFormat{
		Encoding:   g.cfg.OutputFormat,
		SampleRate: SampleRateFromEncoding(g.cfg.OutputFormat),
		Channels:   1,
		BitDepth:   bitDepth(g.cfg.OutputFormat),
	}
}

// googleEncoding maps an Encoding to the AudioConfig encoding name and
// sample rate. MP3 leaves the rate to the service default.
func googleEncoding(enc Encoding) (string, int64) {
	switch enc {
	case EncodingULaw:
		return "MULAW", 8000
	case EncodingMP3:
		return "MP3", 0
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return "LINEAR16", int64(SampleRateFromEncoding(enc))
	default:
		return "MULAW", 8000
	}
}
