// Command speak synthesizes one line of text and writes the audio to a
// file. It checks TTS credentials and reports latency without placing a
// phone call.
//
// Usage:
//
//	go run ./cmd/speak/ -text "hello" -lang en -out hello.mp3
//	ELEVENLABS_API_KEY=sk_... go run ./cmd/speak/ -stream -out hello.wav
//
// Flags:
//
//	-text      Text to synthesize (default: a short per-language phrase)
//	-lang      Language, ja or en (default: TWILIO_LANGUAGE or ja)
//	-provider  Backend: google, elevenlabs, elevenlabs-ws, openai (default: TTS_PROVIDER)
//	-voice     Voice ID override
//	-out       Output file, .mp3 or .wav
//	-stream    Stream over the ElevenLabs WebSocket and report time to first chunk
//	-timeout   Synthesis timeout
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-voiceline/internal/config"
	"github.com/teslashibe/go-voiceline/internal/log"
	"github.com/teslashibe/go-voiceline/pkg/audio"
	"github.com/teslashibe/go-voiceline/pkg/tts"
)

var (
	text     = flag.String("text", "", "Text to synthesize")
	lang     = flag.String("lang", "", "Language: ja or en (default TWILIO_LANGUAGE)")
	provider = flag.String("provider", "", "TTS backend (default TTS_PROVIDER)")
	voice    = flag.String("voice", "", "Voice ID override")
	out      = flag.String("out", "speech.mp3", "Output file (.mp3 or .wav)")
	stream   = flag.Bool("stream", false, "Stream over the ElevenLabs WebSocket")
	timeout  = flag.Duration("timeout", 30*time.Second, "Synthesis timeout")
)

func main() {
	flag.Parse()
	godotenv.Load()
	log.Init(config.LogLevel())

	language := *lang
	if language == "" {
		language = config.Language()
	}
	phrase := *text
	if phrase == "" {
		phrase = defaultPhrase(language)
	}
	name := *provider
	if name == "" {
		name = config.TTSProvider()
	}
	if *stream {
		name = "elevenlabs-ws"
	}

	encoding, err := encodingForPath(*out)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	opts := []tts.Option{tts.WithOutputFormat(encoding)}
	if *voice != "" {
		opts = append(opts, tts.WithVoice(*voice))
	}

	fmt.Printf("🗣  Provider: %s\n", name)
	fmt.Printf("🌐 Language: %s\n", language)
	fmt.Printf("📝 Text:     %s\n", phrase)
	fmt.Println()

	p, err := tts.New(name, opts...)
	if err != nil {
		fmt.Printf("❌ Create provider: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *stream {
		if err := runStream(ctx, p, phrase, language); err != nil {
			fmt.Printf("❌ Stream failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	res, err := p.Synthesize(ctx, phrase, language)
	if err != nil {
		fmt.Printf("❌ Synthesis failed: %v\n", err)
		os.Exit(1)
	}
	if err := writeAudio(*out, res.Audio, res.Format); err != nil {
		fmt.Printf("❌ Write output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Wrote %s (%d bytes, %d chars, %dms)\n", *out, len(res.Audio), res.CharCount, res.LatencyMs)
	if res.Duration > 0 {
		fmt.Printf("   Playback: %s\n", res.Duration.Round(10*time.Millisecond))
	}
}

func runStream(ctx context.Context, p tts.Provider, phrase, language string) error {
	start := time.Now()
	s, err := p.Stream(ctx, phrase, language)
	if err != nil {
		return err
	}
	defer s.Close()

	var buf bytes.Buffer
	var firstChunk time.Duration
	chunks := 0
	for {
		chunk, err := s.Read()
		if err != nil {
			return err
		}
		if chunk == nil {
			break
		}
		if chunks == 0 {
			firstChunk = time.Since(start)
		}
		chunks++
		buf.Write(chunk)
	}
	total := time.Since(start)

	if err := writeAudio(*out, buf.Bytes(), s.Format()); err != nil {
		return err
	}

	fmt.Printf("✅ Wrote %s (%d bytes, %d chunks)\n", *out, buf.Len(), chunks)
	fmt.Printf("   First chunk: %s\n", firstChunk.Round(time.Millisecond))
	fmt.Printf("   Total:       %s\n", total.Round(time.Millisecond))
	return nil
}

// encodingForPath picks the requested output encoding from the file
// extension: MP3 stays compressed, WAV gets 16kHz PCM.
func encodingForPath(path string) (tts.Encoding, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return tts.EncodingMP3, nil
	case ".wav":
		return tts.EncodingPCM16, nil
	default:
		return "", fmt.Errorf("output must end in .mp3 or .wav, got %q", path)
	}
}

// writeAudio writes what the provider actually produced: raw MP3 bytes, or
// PCM wrapped in a WAV container. μ-law is decoded first so the file plays
// anywhere.
func writeAudio(path string, data []byte, format tts.AudioFormat) error {
	switch format.Encoding {
	case tts.EncodingMP3:
		return os.WriteFile(path, data, 0o644)
	case tts.EncodingULaw:
		pcm, err := audio.DecodeULaw(data)
		if err != nil {
			return err
		}
		return os.WriteFile(path, audio.WAV(pcm, 8000), 0o644)
	default:
		rate := format.SampleRate
		if rate == 0 {
			rate = tts.SampleRateFromEncoding(format.Encoding)
		}
		return os.WriteFile(path, audio.WAV(data, rate), 0o644)
	}
}

func defaultPhrase(language string) string {
	if language == "ja" {
		return "こんにちは。音声合成の確認です。"
	}
	return "This is a synthesis check."
}
