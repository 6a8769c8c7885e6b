// Package tts synthesizes assistant replies behind a single capability
// interface with interchangeable backends. The phone leg wants μ-law at
// 8kHz; the HTTP surface wants MP3. Providers report what they actually
// produced in AudioResult.Format and the caller transcodes from there.
package tts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider converts text to speech.
type Provider interface {
	// Synthesize converts text to a complete audio buffer. language is a
	// session language ("ja", "en") or a BCP-47 tag; providers that pick
	// voices per language use it, the rest pass it to the model as a hint.
	Synthesize(ctx context.Context, text, language string) (*AudioResult, error)

	// Stream converts text to audio delivered in chunks as the backend
	// produces them, for callers that care about time to first byte.
	Stream(ctx context.Context, text, language string) (AudioStream, error)

	// Health reports whether the provider is configured and reachable.
	Health(ctx context.Context) error

	// Close releases underlying connections.
	Close() error
}

// New builds a provider by name: "google" (default), "elevenlabs",
// "elevenlabs-ws", or "openai".
func New(name string, opts ...Option) (Provider, error) {
	switch strings.ToLower(name) {
	case "", "google":
		return NewGoogle(opts...)
	case "elevenlabs":
		return NewElevenLabs(opts...)
	case "elevenlabs-ws", "elevenlabs_ws":
		return NewElevenLabsWS(opts...)
	case "openai":
		return NewOpenAI(opts...)
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", name)
	}
}

// AudioStream yields synthesized audio incrementally. Read until it returns
// a nil chunk, then Close.
type AudioStream interface {
	// Read returns the next audio chunk, or nil when the stream is done.
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format describes the audio being streamed.
	Format() AudioFormat
}

// AudioResult is one completed synthesis.
type AudioResult struct {
	// Audio is the raw audio payload in Format's encoding.
	Audio []byte

	// Format describes how Audio is encoded.
	Format AudioFormat

	// Duration is the estimated playback length, zero when the encoding
	// makes it unknowable (MP3).
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64
}

// AudioFormat describes an audio encoding.
type AudioFormat struct {
	// Encoding is the codec identifier.
	Encoding Encoding

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo. Synthesis is always mono.
	Channels int

	// BitDepth per sample: 16 for PCM, 8 for μ-law, 0 when compressed.
	BitDepth int
}

// Encoding identifies an audio codec and rate. The values are the
// ElevenLabs output_format identifiers, which the other providers map onto
// their own request parameters.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	// EncodingMP3 is for the HTTP surface; the phone leg rejects it.
	EncodingMP3 Encoding = "mp3_44100_128"

	// EncodingULaw is telephony-native G.711 μ-law at 8kHz.
	EncodingULaw Encoding = "ulaw_8000"
)

// SampleRateFromEncoding returns the sample rate an encoding implies.
// Unknown encodings are assumed telephony rate.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingULaw:
		return 8000
	default:
		return 8000
	}
}

// VoiceSettings tunes voice character for providers that support it.
type VoiceSettings struct {
	// Stability trades consistency for expressiveness (0.0-1.0, higher
	// is steadier).
	Stability float64

	// SimilarityBoost is how closely output tracks the voice sample
	// (0.0-1.0).
	SimilarityBoost float64

	// Style exaggeration (0.0-1.0), v2 models only.
	Style float64

	// SpeakerBoost sharpens speaker clarity on noisy lines.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns the settings used when none are configured.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

// bitDepth returns the bits per sample an encoding implies, zero for
// compressed formats.
func bitDepth(enc Encoding) int {
	switch enc {
	case EncodingULaw:
		return 8
	case EncodingMP3:
		return 0
	default:
		return 16
	}
}

// estimateDuration derives playback length from the byte count for fixed
// bytes-per-sample encodings. Compressed audio reports zero.
func estimateDuration(n int, f AudioFormat) time.Duration {
	if f.BitDepth == 0 || f.SampleRate == 0 {
		return 0
	}
	samples := n / (f.BitDepth / 8)
	return time.Duration(float64(samples) / float64(f.SampleRate) * float64(time.Second))
}

// bufferStream adapts a complete buffer to AudioStream for backends without
// true streaming.
type bufferStream struct {
	data   []byte
	offset int
	format AudioFormat
}

func (s *bufferStream) Read() ([]byte, error) {
	if s.offset >= len(s.data) {
		return nil, nil
	}
	chunk := s.data[s.offset:]
	s.offset = len(s.data)
	return chunk, nil
}

func (s *bufferStream) Close() error { return nil }

func (s *bufferStream) Format() AudioFormat { return s.format }
