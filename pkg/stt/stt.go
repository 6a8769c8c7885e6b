// Package stt provides speech-to-text behind a single capability interface
// with interchangeable backends. The backend is chosen once at server setup
// by provider name, never per request.
package stt

import (
	"context"
	"fmt"
	"strings"
)

// Provider transcribes linear PCM16 mono audio.
type Provider interface {
	// Transcribe converts audio at sampleRate to text in the given
	// language ("ja", "en", or a BCP-47 tag). Whitespace-only results
	// are returned as empty strings.
	Transcribe(ctx context.Context, audio []byte, sampleRate int, language string) (string, error)

	// Health reports whether the provider is configured and reachable.
	Health(ctx context.Context) error

	// Close releases underlying connections.
	Close() error
}

// New builds a provider by name: "google" (default) or "whisper".
func New(name string, opts ...Option) (Provider, error) {
	switch strings.ToLower(name) {
	case "", "google":
		return NewGoogle(opts...)
	case "whisper":
		return NewWhisper(opts...)
	default:
		return nil, fmt.Errorf("stt: unknown provider %q", name)
	}
}

// LanguageCode maps a session language to the BCP-47 code recognizers want.
// Tags that already carry a region pass through.
func LanguageCode(language string) string {
	switch strings.ToLower(language) {
	case "ja":
		return "ja-JP"
	case "en":
		return "en-US"
	}
	if strings.Contains(language, "-") {
		return language
	}
	return "en-US"
}
