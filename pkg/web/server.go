// Package web serves the gateway's HTTP and WebSocket surface: the Twilio
// voice webhook and media stream, call transcripts with a live observer
// socket, and direct transcribe, synthesize and chat endpoints for browser
// clients.
package web

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	livews "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voiceline/internal/config"
	"github.com/teslashibe/go-voiceline/internal/log"
	"github.com/teslashibe/go-voiceline/pkg/calls"
	"github.com/teslashibe/go-voiceline/pkg/chat"
	"github.com/teslashibe/go-voiceline/pkg/live"
	"github.com/teslashibe/go-voiceline/pkg/session"
	"github.com/teslashibe/go-voiceline/pkg/stt"
	"github.com/teslashibe/go-voiceline/pkg/tts"
	"github.com/teslashibe/go-voiceline/pkg/twilio"
)

// WAV uploads for /api/transcribe run past fiber's 4MB default.
const maxUploadBytes = 32 << 20

// Config wires the server to the rest of the gateway.
type Config struct {
	// Manager owns media-stream sessions.
	Manager *session.Manager

	// Registry holds call transcripts.
	Registry *calls.Registry

	// Bus fans pipeline events out to transcript observers.
	Bus *live.Bus

	// STT is the media-path recognizer. Its health gates the stream.
	STT stt.Provider

	// STTName is the backend STT was built from, so /api/transcribe
	// requests for the same model reuse it.
	STTName string

	// TTS is the media-path synthesizer. Its health gates the stream.
	TTS tts.Provider

	// WebTTS serves /api/tts. Configured for MP3 output.
	WebTTS tts.Provider

	// Chat answers /api/chat.
	Chat chat.Provider

	// PublicURL is the TWILIO_VOICE_WEBHOOK_URL base. The media-stream
	// wss URL derives from its origin.
	PublicURL string

	// AuthToken enables webhook signature validation when set.
	AuthToken string

	// SkipValidation disables signature validation even with a token.
	SkipValidation bool

	// Language and Verbosity are the defaults for requests that omit them.
	Language  string
	Verbosity string

	// Version is reported by /health.
	Version string

	// Debug enables request logging.
	Debug bool

	Logger *slog.Logger
}

// Server is the gateway's HTTP front. It owns the fiber app and routes;
// the media and observer sockets hand off to the session manager and the
// live bus.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	validator *twilio.Validator

	mu           sync.Mutex
	transcribers map[string]stt.Provider
}

// New builds the app with middleware and all routes registered. The server
// is ready to Listen.
func New(cfg Config) *Server {
	if cfg.Language == "" {
		cfg.Language = config.DefaultLanguage
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = config.DefaultVerbosity
	}
	if cfg.Logger == nil {
		cfg.Logger = log.With("component", "web")
	}

	s := &Server{
		cfg:          cfg,
		logger:       cfg.Logger,
		transcribers: make(map[string]stt.Provider),
	}
	if cfg.AuthToken != "" {
		s.validator = twilio.NewValidator(cfg.AuthToken)
	}
	if cfg.STTName != "" && cfg.STT != nil {
		s.transcribers[strings.ToLower(cfg.STTName)] = cfg.STT
	}

	app := fiber.New(fiber.Config{
		AppName:               "voiceline",
		DisableStartupMessage: true,
		BodyLimit:             maxUploadBytes,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/", s.handleRoot)
	app.Post("/", s.handleRoot)
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	app.Post("/voice/incoming", s.handleVoiceIncoming)
	app.Use("/voice/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/voice/stream", websocket.New(s.handleMediaStream))

	api := app.Group("/api")
	api.Post("/transcribe", s.handleTranscribe)
	api.Post("/tts", s.handleTTS)
	api.Get("/tts", s.handleTTSGet)
	api.Post("/chat", s.handleChat)

	api.Use("/voice/calls/live", func(c *fiber.Ctx) error {
		if livews.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	// The live route must register before :sid or the param route would
	// capture it.
	api.Get("/voice/calls/live", livews.New(s.handleCallsLive))
	api.Get("/voice/calls", s.handleListCalls)
	api.Get("/voice/calls/:sid", s.handleGetCall)

	s.app = app
	return s
}

// Listen serves on addr. Blocks until the server stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// ShutdownWithContext stops the server, waiting for in-flight requests up
// to the context deadline.
func (s *Server) ShutdownWithContext(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Close releases recognizers built for /api/transcribe. Providers passed in
// Config stay open; their owner closes them.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, p := range s.transcribers {
		if p == s.cfg.STT {
			continue
		}
		if err := p.Close(); err != nil {
			s.logger.Warn("closing transcriber", "model", name, "error", err)
		}
	}
	s.transcribers = make(map[string]stt.Provider)
	return nil
}

// StreamURL is the public media-stream WebSocket URL, derived from the
// webhook base URL's origin. https maps to wss.
func (s *Server) StreamURL() string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	if base == "" {
		base = "localhost:" + config.DefaultPort
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "wss://localhost:" + config.DefaultPort + "/voice/stream"
	}
	scheme := "wss"
	if u.Scheme != "https" {
		scheme = "ws"
	}
	return scheme + "://" + u.Host + "/voice/stream"
}

// transcriber returns the recognizer for a model name, building it on first
// use. The media-path recognizer is reused when the model matches.
func (s *Server) transcriber(model string) (stt.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.transcribers[model]; ok {
		return p, nil
	}
	p, err := stt.New(model)
	if err != nil {
		return nil, err
	}
	s.transcribers[model] = p
	return p, nil
}
