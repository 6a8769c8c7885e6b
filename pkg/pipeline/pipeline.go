// Package pipeline turns one caller utterance into one assistant reply:
// μ-law audio in, transcription, a chat completion over the call history,
// synthesis, μ-law audio out. A live event is emitted as each stage
// completes so observers can follow the call in real time.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceline/internal/config"
	"github.com/teslashibe/go-voiceline/internal/log"
	"github.com/teslashibe/go-voiceline/pkg/audio"
	"github.com/teslashibe/go-voiceline/pkg/calls"
	"github.com/teslashibe/go-voiceline/pkg/chat"
	"github.com/teslashibe/go-voiceline/pkg/live"
	"github.com/teslashibe/go-voiceline/pkg/stt"
	"github.com/teslashibe/go-voiceline/pkg/tts"
)

// maxTurnTokens caps a single voice reply. Phone answers are short; a
// runaway completion would stall the line for the whole synthesis.
const maxTurnTokens = 2048

// Config wires an Executor to its collaborators. STT, Chat and TTS are
// required; Registry and Bus default to fresh instances so tests can run
// an executor standalone.
type Config struct {
	STT      stt.Provider
	Chat     chat.Provider
	TTS      tts.Provider
	Registry *calls.Registry
	Bus      *live.Bus

	// Language is the conversation language ("ja" or "en").
	Language string

	// Verbosity shapes the system prompt (brief, normal, detailed).
	Verbosity string

	Logger *slog.Logger
}

// Executor runs the transcribe → chat → synthesize pipeline for one
// utterance at a time. It is stateless across calls; per-call state
// (history, guard) lives in the session.
type Executor struct {
	stt       stt.Provider
	chat      chat.Provider
	tts       tts.Provider
	registry  *calls.Registry
	bus       *live.Bus
	language  string
	verbosity string
	logger    *slog.Logger
}

// Result is one completed turn. Audio is μ-law at 8 kHz, ready to be
// framed onto the media stream. Latencies are in milliseconds, rounded
// to 0.1 ms, matching what the registry stores and the bus emits.
type Result struct {
	UserText      string
	AssistantText string
	Audio         []byte
	SttMs         float64
	LlmMs         float64
	TtsMs         float64
}

// New returns an executor over the given collaborators.
func New(cfg Config) *Executor {
	if cfg.Registry == nil {
		cfg.Registry = calls.NewRegistry()
	}
	if cfg.Bus == nil {
		cfg.Bus = live.NewBus()
	}
	if cfg.Language == "" {
		cfg.Language = config.DefaultLanguage
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = config.DefaultVerbosity
	}
	if cfg.Logger == nil {
		cfg.Logger = log.With("component", "pipeline")
	}
	return &Executor{
		stt:       cfg.STT,
		chat:      cfg.Chat,
		tts:       cfg.TTS,
		registry:  cfg.Registry,
		bus:       cfg.Bus,
		language:  cfg.Language,
		verbosity: cfg.Verbosity,
		logger:    cfg.Logger,
	}
}

// Run processes one utterance of inbound μ-law audio and returns the
// reply. An empty or whitespace-only transcript short-circuits after the
// stt_done event: no history append, no chat call, no turn recorded, and
// the Result carries only the STT latency. On a stage failure Run returns
// a StageError and records nothing; the user message (and, past the chat
// stage, the assistant message) stays in history.
func (e *Executor) Run(ctx context.Context, callSID string, utterance []byte, history *History) (*Result, error) {
	pcm, err := audio.DecodeULaw(utterance)
	if err != nil {
		return nil, &StageError{Stage: StageTranscribe, Err: err}
	}

	// Phone audio stays at its native 8 kHz; upsampling adds no signal.
	sttStart := time.Now()
	text, err := e.stt.Transcribe(ctx, pcm, audio.TelephonyRate, e.language)
	sttMs := msSince(sttStart)
	if err != nil {
		return nil, &StageError{Stage: StageTranscribe, Err: err}
	}
	text = strings.TrimSpace(text)

	e.bus.Emit(callSID, live.KindSTTDone, map[string]any{
		"user_text": text,
		"stt_ms":    sttMs,
	})

	if text == "" {
		e.logger.Debug("empty transcript, skipping turn", "call_sid", callSID, "stt_ms", sttMs)
		return &Result{SttMs: sttMs}, nil
	}

	history.Append(chat.NewUserMessage(text))
	messages := append(
		[]chat.Message{chat.BuildSystemMessage(e.language, e.verbosity)},
		history.Snapshot()...,
	)

	llmStart := time.Now()
	resp, err := e.chat.Chat(ctx, &chat.ChatRequest{
		Messages:  messages,
		MaxTokens: maxTurnTokens,
	})
	llmMs := msSince(llmStart)
	if err != nil {
		return nil, &StageError{Stage: StageChat, Err: err}
	}
	assistant := strings.TrimSpace(resp.Message.Content)

	// The exchange is part of the conversation even if synthesis fails:
	// the model said it, so later turns must see it.
	history.Append(chat.NewAssistantMessage(assistant))

	e.bus.Emit(callSID, live.KindLLMDone, map[string]any{
		"assistant_text": assistant,
		"llm_ms":         llmMs,
	})

	speech := chat.StripMarkdown(assistant)
	e.bus.Emit(callSID, live.KindTTSStart, map[string]any{})

	ttsStart := time.Now()
	audioRes, err := e.tts.Synthesize(ctx, speech, e.language)
	if err != nil {
		return nil, &StageError{Stage: StageSynthesize, Err: err}
	}
	ulaw, err := telephonyULaw(audioRes)
	ttsMs := msSince(ttsStart)
	if err != nil {
		return nil, &StageError{Stage: StageEncode, Err: err}
	}

	e.bus.Emit(callSID, live.KindTTSDone, map[string]any{
		"tts_ms": ttsMs,
	})

	e.registry.AddTurn(callSID, calls.Turn{
		UserText:      text,
		AssistantText: assistant,
		SttMs:         sttMs,
		LlmMs:         llmMs,
		TtsMs:         ttsMs,
	})

	e.logger.Info("turn complete",
		"call_sid", callSID,
		"stt_ms", sttMs,
		"llm_ms", llmMs,
		"tts_ms", ttsMs,
		"user_chars", len([]rune(text)),
		"assistant_chars", len([]rune(assistant)),
	)

	return &Result{
		UserText:      text,
		AssistantText: assistant,
		Audio:         ulaw,
		SttMs:         sttMs,
		LlmMs:         llmMs,
		TtsMs:         ttsMs,
	}, nil
}

// telephonyULaw normalizes a synthesis result to μ-law at 8 kHz. μ-law
// passes through; linear PCM is resampled and companded; compressed
// encodings (MP3) cannot be transcoded here and fail the encode stage.
func telephonyULaw(res *tts.AudioResult) ([]byte, error) {
	f := res.Format
	switch {
	case f.Encoding == tts.EncodingULaw && f.SampleRate == audio.TelephonyRate:
		return res.Audio, nil
	case f.BitDepth == 16:
		pcm := res.Audio
		if f.SampleRate != audio.TelephonyRate {
			var err error
			pcm, err = audio.Resample(pcm, f.SampleRate, audio.TelephonyRate)
			if err != nil {
				return nil, err
			}
		}
		return audio.EncodeULaw(pcm)
	default:
		return nil, fmt.Errorf("cannot transcode %s to telephony mu-law", f.Encoding)
	}
}

func msSince(start time.Time) float64 {
	return math.Round(float64(time.Since(start).Nanoseconds())/1e6*10) / 10
}
