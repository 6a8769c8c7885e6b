// voiceline: telephony voice-assistant gateway.
// Answers Twilio calls over Media Streams, transcribes the caller, asks the
// assistant and speaks the reply back onto the call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-voiceline/internal/config"
	"github.com/teslashibe/go-voiceline/internal/log"
	"github.com/teslashibe/go-voiceline/pkg/calls"
	"github.com/teslashibe/go-voiceline/pkg/chat"
	"github.com/teslashibe/go-voiceline/pkg/live"
	"github.com/teslashibe/go-voiceline/pkg/pipeline"
	"github.com/teslashibe/go-voiceline/pkg/session"
	"github.com/teslashibe/go-voiceline/pkg/stt"
	"github.com/teslashibe/go-voiceline/pkg/tts"
	"github.com/teslashibe/go-voiceline/pkg/web"
)

var (
	version = "1.0.0"
	port    = flag.Int("port", 8080, "HTTP server port")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	// .env is optional; deployments set the environment directly.
	godotenv.Load()

	// Override from environment
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", port)
	}

	level := config.LogLevel()
	if *debug {
		level = "debug"
	}
	log.Init(level)

	fmt.Println()
	fmt.Println("📞 voiceline v" + version)
	fmt.Println("   Twilio voice assistant gateway")
	fmt.Println()

	language := config.Language()
	verbosity := config.Verbosity()

	sttProvider, err := stt.New(config.STTProvider())
	if err != nil {
		log.Error("stt backend unavailable", "provider", config.STTProvider(), "error", err)
		os.Exit(1)
	}
	defer sttProvider.Close()

	mediaTTS, webTTS, err := buildTTS(config.TTSProvider())
	if err != nil {
		log.Error("no tts backend available", "error", err)
		os.Exit(1)
	}
	defer mediaTTS.Close()
	defer webTTS.Close()

	chatOpts := []chat.Option{chat.WithModel(config.ChatModel())}
	if base := config.ChatBaseURL(); base != "" {
		chatOpts = append(chatOpts, chat.WithBaseURL(base))
	}
	chatClient, err := chat.NewClient(chatOpts...)
	if err != nil {
		log.Error("chat client unavailable", "error", err)
		os.Exit(1)
	}
	defer chatClient.Close()

	registry := calls.NewRegistry()
	bus := live.NewBus()

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	go bus.Run(busCtx)

	executor := pipeline.New(pipeline.Config{
		STT:       sttProvider,
		Chat:      chatClient,
		TTS:       mediaTTS,
		Registry:  registry,
		Bus:       bus,
		Language:  language,
		Verbosity: verbosity,
	})

	manager := session.NewManager(session.Config{
		Executor:  executor,
		Registry:  registry,
		Language:  language,
		Verbosity: verbosity,
	})

	srv := web.New(web.Config{
		Manager:        manager,
		Registry:       registry,
		Bus:            bus,
		STT:            sttProvider,
		STTName:        config.STTProvider(),
		TTS:            mediaTTS,
		WebTTS:         webTTS,
		Chat:           chatClient,
		PublicURL:      config.WebhookBaseURL(),
		AuthToken:      config.TwilioAuthToken(),
		SkipValidation: config.SkipTwilioValidation(),
		Language:       language,
		Verbosity:      verbosity,
		Version:        version,
		Debug:          *debug,
	})
	defer srv.Close()

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		log.Info("starting server",
			"addr", addr,
			"webhook", "/voice/incoming",
			"stream_url", srv.StreamURL(),
			"language", language,
			"stt", config.STTProvider(),
			"tts", config.TTSProvider())
		if err := srv.Listen(addr); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

// buildTTS constructs both synthesizer paths from one backend scan: the
// telephony chain (configured provider first, μ-law output) and the MP3
// instance behind /api/tts. A backend whose credentials are missing is
// skipped; at least one must construct.
func buildTTS(primary string) (tts.Provider, tts.Provider, error) {
	names := []string{primary}
	for _, name := range []string{"elevenlabs", "google", "openai"} {
		if name != primary {
			names = append(names, name)
		}
	}

	var providers []tts.Provider
	var mp3 tts.Provider
	for _, name := range names {
		p, err := tts.New(name)
		if err != nil {
			if name == primary {
				log.Warn("configured tts backend unavailable, trying fallbacks", "provider", name, "error", err)
			} else {
				log.Debug("tts fallback skipped", "provider", name, "error", err)
			}
			continue
		}
		providers = append(providers, p)
		if mp3 == nil {
			m, err := tts.New(name, tts.WithOutputFormat(tts.EncodingMP3))
			if err != nil {
				return nil, nil, err
			}
			mp3 = m
		}
	}
	if len(providers) == 0 {
		return nil, nil, errors.New("no tts backend could be constructed, set TTS credentials")
	}
	if len(providers) == 1 {
		return providers[0], mp3, nil
	}
	chain, err := tts.NewChain(providers...)
	if err != nil {
		return nil, nil, err
	}
	return chain, mp3, nil
}
