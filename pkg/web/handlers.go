package web

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	livews "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voiceline/pkg/audio"
	"github.com/teslashibe/go-voiceline/pkg/chat"
	"github.com/teslashibe/go-voiceline/pkg/live"
	"github.com/teslashibe/go-voiceline/pkg/stt"
	"github.com/teslashibe/go-voiceline/pkg/twilio"
)

// healthProbeTimeout bounds the provider checks that gate a media stream.
const healthProbeTimeout = 5 * time.Second

// closeBadSubscribe is the app-defined close code for a missing or
// malformed subscribe frame.
const closeBadSubscribe = 4000

// TranscribeResponse is the /api/transcribe result.
type TranscribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Model    string `json:"model"`
}

// TTSRequest is the /api/tts body.
type TTSRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// ChatRequest is the /api/chat body. Language and verbosity fall back to
// the server defaults when empty.
type ChatRequest struct {
	Messages  []chat.Message `json:"messages"`
	Language  string         `json:"language"`
	Verbosity string         `json:"verbosity"`
}

// ChatResponse is the /api/chat result. EndConversation reports that the
// model invoked the end_conversation tool and the client should stop
// listening.
type ChatResponse struct {
	Content         string `json:"content"`
	EndConversation bool   `json:"end_conversation"`
}

// subscribeRequest is the first frame an observer sends. Either key works.
type subscribeRequest struct {
	Subscribe string `json:"subscribe"`
	CallSID   string `json:"call_sid"`
}

// handleRoot points misdirected webhooks at /voice/incoming. Twilio POSTs
// here when the voice URL is set to the bare host.
func (s *Server) handleRoot(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodPost {
		s.logger.Warn("POST / received, voice webhook should point at /voice/incoming")
		return c.Status(fiber.StatusNotFound).SendString("Voice webhook is at /voice/incoming")
	}
	return c.JSON(fiber.Map{
		"message":       "voiceline",
		"voice_webhook": "/voice/incoming",
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"version":       s.cfg.Version,
		"stt_available": s.cfg.STT.Health(c.Context()) == nil,
		"tts_available": s.cfg.TTS.Health(c.Context()) == nil,
		"active_calls":  s.cfg.Manager.ActiveCalls(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	stats := s.cfg.Manager.Stats()
	return c.SendString(fmt.Sprintf(`# HELP voiceline_active_calls Active media streams
# TYPE voiceline_active_calls gauge
voiceline_active_calls %d

# HELP voiceline_frames_received Total inbound media frames
# TYPE voiceline_frames_received counter
voiceline_frames_received %d

# HELP voiceline_utterances_dispatched Total utterances sent to the pipeline
# TYPE voiceline_utterances_dispatched counter
voiceline_utterances_dispatched %d

# HELP voiceline_turns_completed Total completed conversation turns
# TYPE voiceline_turns_completed counter
voiceline_turns_completed %d

# HELP voiceline_stage_failures Total pipeline stage failures
# TYPE voiceline_stage_failures counter
voiceline_stage_failures %d

# HELP voiceline_live_observers Connected transcript observers
# TYPE voiceline_live_observers gauge
voiceline_live_observers %d

# HELP voiceline_dropped_events Live events dropped on a full queue
# TYPE voiceline_dropped_events counter
voiceline_dropped_events %d
`, stats.ActiveCalls, stats.FramesReceived, stats.UtterancesDispatched,
		stats.TurnsCompleted, stats.StageFailures,
		s.cfg.Bus.ObserverCount(), s.cfg.Bus.Dropped()))
}

// handleVoiceIncoming answers the Twilio voice webhook with TwiML that
// connects the call to the media stream.
func (s *Server) handleVoiceIncoming(c *fiber.Ctx) error {
	switch {
	case s.cfg.SkipValidation:
		s.logger.Warn("signature validation skipped, TWILIO_SKIP_VALIDATION is set")
	case s.validator == nil:
		s.logger.Warn("signature validation skipped, no auth token configured")
	default:
		reqURL := s.cfg.PublicURL + "/voice/incoming"
		if s.cfg.PublicURL == "" {
			reqURL = c.BaseURL() + c.OriginalURL()
		}
		params := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})
		signature := strings.TrimSpace(c.Get("X-Twilio-Signature"))
		if !s.validator.Valid(reqURL, params, signature) {
			s.logger.Warn("webhook signature validation failed", "url", reqURL)
			return c.Status(fiber.StatusForbidden).SendString("Forbidden")
		}
	}

	streamURL := s.StreamURL()
	s.logger.Info("incoming call, connecting media stream", "stream_url", streamURL)
	c.Set(fiber.HeaderContentType, "application/xml")
	return c.SendString(twilio.StreamTwiML(streamURL))
}

// handleMediaStream gates the Twilio media stream on provider health, then
// hands the connection to the session manager for the life of the call.
func (s *Server) handleMediaStream(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	err := s.cfg.STT.Health(ctx)
	if err == nil {
		err = s.cfg.TTS.Health(ctx)
	}
	cancel()
	if err != nil {
		s.logger.Error("refusing media stream", "error", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stt or tts not available"))
		conn.Close()
		return
	}
	s.cfg.Manager.HandleStream(conn)
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Registry.List())
}

func (s *Server) handleGetCall(c *fiber.Ctx) error {
	rec, ok := s.cfg.Registry.Get(c.Params("sid"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "call not found"})
	}
	return c.JSON(rec)
}

// handleCallsLive attaches a transcript observer to one call. The first
// frame must name the call; everything after is liveness traffic.
func (s *Server) handleCallsLive(conn *livews.Conn) {
	var sub subscribeRequest
	if err := conn.ReadJSON(&sub); err != nil {
		s.rejectSubscribe(conn)
		return
	}
	callSID := sub.Subscribe
	if callSID == "" {
		callSID = sub.CallSID
	}
	if callSID == "" {
		s.rejectSubscribe(conn)
		return
	}

	client := live.NewClient(conn)
	s.cfg.Bus.Subscribe(callSID, client)
	s.logger.Debug("observer subscribed", "call_sid", callSID, "observer_id", client.ID())
	defer func() {
		s.cfg.Bus.Unsubscribe(client)
		client.Close()
	}()

	go client.WritePump()
	client.ReadPump()
}

func (s *Server) rejectSubscribe(conn *livews.Conn) {
	conn.WriteMessage(livews.CloseMessage,
		livews.FormatCloseMessage(closeBadSubscribe, `send {"subscribe": "<call_sid>"}`))
}

// handleTranscribe recognizes one uploaded WAV clip. The model form field
// picks the backend per request, independent of the media-path recognizer.
func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	model := strings.ToLower(strings.TrimSpace(c.FormValue("model", "google")))
	if model != "google" && model != "whisper" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "model must be 'google' or 'whisper'"})
	}
	language := c.FormValue("language", s.cfg.Language)

	file, err := c.FormFile("audio")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "audio upload is required"})
	}
	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable audio upload"})
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable audio upload"})
	}
	if len(data) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty audio"})
	}
	pcm, rate, err := audio.ParseWAV(data)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	p, err := s.transcriber(model)
	if err != nil {
		s.logger.Warn("transcriber unavailable", "model", model, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": model + " stt not available"})
	}
	if err := p.Health(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": model + " stt not available"})
	}
	text, err := p.Transcribe(c.Context(), pcm, rate, language)
	if err != nil {
		s.logger.Error("transcription failed", "model", model, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(TranscribeResponse{
		Text:     text,
		Language: stt.LanguageCode(language),
		Model:    model,
	})
}

func (s *Server) handleTTS(c *fiber.Ctx) error {
	var req TTSRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	return s.synthesize(c, req.Text, req.Language)
}

// handleTTSGet serves audio element src URLs.
func (s *Server) handleTTSGet(c *fiber.Ctx) error {
	return s.synthesize(c, c.Query("text"), c.Query("language"))
}

func (s *Server) synthesize(c *fiber.Ctx, text, language string) error {
	if strings.TrimSpace(text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}
	if language == "" {
		language = s.cfg.Language
	}
	if err := s.cfg.WebTTS.Health(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "tts not available"})
	}
	res, err := s.cfg.WebTTS.Synthesize(c.Context(), text, language)
	if err != nil {
		s.logger.Error("synthesis failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, "audio/mpeg")
	return c.Send(res.Audio)
}

// handleChat runs one tool-aware completion over the posted history.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "messages is required"})
	}

	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang = s.cfg.Language
	}
	if lang != "ja" && lang != "en" {
		lang = "en"
	}
	verbosity := req.Verbosity
	if verbosity == "" {
		verbosity = s.cfg.Verbosity
	}

	messages := append([]chat.Message{chat.BuildSystemMessage(lang, verbosity)}, req.Messages...)
	content, ended, err := chat.CompleteWithTools(c.Context(), s.cfg.Chat, messages, lang)
	if err != nil {
		s.logger.Error("chat completion failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(ChatResponse{Content: content, EndConversation: ended})
}
