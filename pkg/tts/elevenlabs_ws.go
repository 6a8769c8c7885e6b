package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voiceline/internal/log"
)

const elevenLabsWSBaseURL = "wss://api.elevenlabs.io/v1"

// ElevenLabsWS synthesizes over the ElevenLabs stream-input WebSocket. Each
// Stream call opens one socket, sends the whole text, closes the input side,
// and yields audio chunks as they arrive. Compared to the REST stream this
// shaves the response-header round trip, which is what cmd/speak measures.
type ElevenLabsWS struct {
	cfg    *Config
	logger *slog.Logger
}

var _ Provider = (*ElevenLabsWS)(nil)

// NewElevenLabsWS builds the WebSocket provider. The API key and a voice
// are required; both fall back to the environment.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}
	return &ElevenLabsWS{
		cfg:    cfg,
		logger: log.With("component", "tts_elevenlabs_ws"),
	}, nil
}

// Synthesize streams the synthesis and concatenates the chunks. LatencyMs
// is the time to the first audio chunk, not the whole exchange.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text, language string) (*AudioResult, error) {
	start := time.Now()
	stream, err := e.Stream(ctx, text, language)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var buf []byte
	var firstChunk time.Duration
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		if firstChunk == 0 {
			firstChunk = time.Since(start)
		}
		buf = append(buf, chunk...)
	}

	format := stream.Format()
	return &AudioResult{
		Audio:     buf,
		Format:    format,
		Duration:  estimateDuration(len(buf), format),
		CharCount: len([]rune(text)),
		LatencyMs: firstChunk.Milliseconds(),
	}, nil
}

// Stream opens the socket, sends the text, and returns the chunk reader.
func (e *ElevenLabsWS) Stream(ctx context.Context, text, language string) (AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	conn, err := e.dial(ctx, language)
	if err != nil {
		return nil, err
	}

	// Begin-of-stream carries the voice settings; the schedule asks for
	// small early chunks so first audio lands sooner.
	bos := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        e.cfg.VoiceSettings.Stability,
			"similarity_boost": e.cfg.VoiceSettings.SimilarityBoost,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	msgs := []map[string]any{
		bos,
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, msg := range msgs {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, WrapError(providerElevenLabs, fmt.Errorf("send text: %w", err))
		}
	}

	return &wsStream{
		conn:    conn,
		format:  e.outputFormat(),
		timeout: e.cfg.StreamTimeout,
		logger:  e.logger,
	}, nil
}

// Health performs the WebSocket handshake, which authenticates the key,
// then closes cleanly.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	conn, err := e.dial(ctx, "")
	if err != nil {
		return err
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

// Close is a no-op; sockets live per Stream call.
func (e *ElevenLabsWS) Close() error {
	return nil
}

// dial opens the stream-input socket for the voice serving language.
func (e *ElevenLabsWS) dial(ctx context.Context, language string) (*websocket.Conn, error) {
	voice := e.cfg.VoiceID
	if v, ok := e.cfg.languageVoice(language); ok {
		voice = v
	}

	base := e.cfg.BaseURL
	if base == "" {
		base = elevenLabsWSBaseURL
	}
	// Test servers hand out http URLs; the socket wants ws.
	if strings.HasPrefix(base, "http") {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	url := fmt.Sprintf("%s/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		base, ResolveElevenLabsVoice(voice), e.cfg.ModelID, e.cfg.OutputFormat)

	header := http.Header{}
	header.Set("xi-api-key", e.cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Provider:   providerElevenLabs,
				Message:    fmt.Sprintf("websocket handshake failed: %v", err),
			}
		}
		return nil, WrapError(providerElevenLabs, fmt.Errorf("websocket dial: %w", err))
	}
	e.logger.Debug("stream-input connected", "voice", voice, "model", e.cfg.ModelID)
	return conn, nil
}

func (e *ElevenLabsWS) outputFormat() AudioFormat {
	return AudioFormat{
		Encoding:   e.cfg.OutputFormat,
		SampleRate: SampleRateFromEncoding(e.cfg.OutputFormat),
		Channels:   1,
		BitDepth:   bitDepth(e.cfg.OutputFormat),
	}
}

// wsStream reads stream-input frames until the service marks the synthesis
// final. Not safe for concurrent readers.
type wsStream struct {
	conn    *websocket.Conn
	format  AudioFormat
	timeout time.Duration
	logger  *slog.Logger
	done    bool
}

func (s *wsStream) Read() ([]byte, error) {
	if s.done {
		return nil, nil
	}
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.timeout))

		var msg struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.done = true
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, nil
			}
			return nil, WrapError(providerElevenLabs, fmt.Errorf("read stream: %w", err))
		}
		if msg.Error != "" {
			s.done = true
			return nil, WrapError(providerElevenLabs, fmt.Errorf("stream error %s: %s", msg.Error, msg.Message))
		}
		if msg.IsFinal {
			s.done = true
		}
		if msg.Audio == "" {
			if s.done {
				return nil, nil
			}
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			s.logger.Warn("dropping undecodable audio frame", "error", err)
			continue
		}
		return chunk, nil
	}
}

func (s *wsStream) Close() error {
	s.done = true
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (s *wsStream) Format() AudioFormat { return s.format }
