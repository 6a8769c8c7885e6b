// Package config provides environment configuration helpers for go-voiceline commands.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Defaults for the gateway.
const (
	DefaultPort      = "8080"
	DefaultLanguage  = "ja"
	DefaultVerbosity = "normal"
	DefaultSTT       = "google"
	DefaultTTS       = "google"
	DefaultChatModel = "gpt-4o-mini"
)

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Port returns the HTTP listen port from PORT.
func Port() string {
	return getenv("PORT", DefaultPort)
}

// LogLevel returns the log level from LOG_LEVEL.
func LogLevel() string {
	return getenv("LOG_LEVEL", "info")
}

// WebhookBaseURL returns the public base URL the Twilio voice webhook is
// served on (TWILIO_VOICE_WEBHOOK_URL), without a trailing slash. The media
// stream wss URL is derived from its origin.
func WebhookBaseURL() string {
	return strings.TrimRight(getenv("TWILIO_VOICE_WEBHOOK_URL", ""), "/")
}

// TwilioAuthToken returns the Twilio auth token used for webhook signature
// validation. Empty means validation is skipped.
func TwilioAuthToken() string {
	return getenv("TWILIO_AUTH_TOKEN", "")
}

// SkipTwilioValidation reports whether TWILIO_SKIP_VALIDATION is set.
func SkipTwilioValidation() bool {
	switch strings.ToLower(getenv("TWILIO_SKIP_VALIDATION", "")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Language returns the conversation language from TWILIO_LANGUAGE ("ja" or "en").
func Language() string {
	lang := strings.ToLower(getenv("TWILIO_LANGUAGE", DefaultLanguage))
	if lang != "ja" && lang != "en" {
		return DefaultLanguage
	}
	return lang
}

// Verbosity returns the voice verbosity from VOICE_VERBOSITY
// (brief, normal or detailed).
func Verbosity() string {
	v := strings.ToLower(getenv("VOICE_VERBOSITY", DefaultVerbosity))
	switch v {
	case "brief", "normal", "detailed":
		return v
	}
	return DefaultVerbosity
}

// PromptTemplate returns the optional VOICE_PROMPT_TEMPLATE override.
func PromptTemplate() string {
	return getenv("VOICE_PROMPT_TEMPLATE", "")
}

// STTProvider returns the transcription backend from STT_PROVIDER
// ("google" or "whisper").
func STTProvider() string {
	p := strings.ToLower(getenv("STT_PROVIDER", DefaultSTT))
	if p != "google" && p != "whisper" {
		return DefaultSTT
	}
	return p
}

// TTSProvider returns the synthesis backend from TTS_PROVIDER
// ("google", "elevenlabs" or "openai").
func TTSProvider() string {
	p := strings.ToLower(getenv("TTS_PROVIDER", DefaultTTS))
	switch p {
	case "google", "elevenlabs", "openai":
		return p
	}
	return DefaultTTS
}

// OpenAIKey returns OPENAI_API_KEY (chat, Whisper STT and OpenAI TTS).
func OpenAIKey() string {
	return getenv("OPENAI_API_KEY", "")
}

// ChatModel returns the chat model from CHAT_MODEL.
func ChatModel() string {
	return getenv("CHAT_MODEL", DefaultChatModel)
}

// ChatBaseURL returns the OpenAI-compatible chat endpoint from CHAT_BASE_URL.
// Empty means the provider default.
func ChatBaseURL() string {
	return getenv("CHAT_BASE_URL", "")
}

// ElevenLabsKey returns ELEVENLABS_API_KEY.
func ElevenLabsKey() string {
	return getenv("ELEVENLABS_API_KEY", "")
}

// ElevenLabsVoice returns ELEVENLABS_VOICE_ID.
func ElevenLabsVoice() string {
	return getenv("ELEVENLABS_VOICE_ID", "")
}

// GoogleCredentialsFile returns GOOGLE_APPLICATION_CREDENTIALS.
func GoogleCredentialsFile() string {
	return getenv("GOOGLE_APPLICATION_CREDENTIALS", "")
}

// GoogleCredentialsJSON returns inline service-account JSON from
// GOOGLE_CREDENTIALS_JSON, for deployments that cannot mount a key file.
func GoogleCredentialsJSON() string {
	return getenv("GOOGLE_CREDENTIALS_JSON", "")
}

// Required returns the value of key or exits with a usage hint.
func Required(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}
