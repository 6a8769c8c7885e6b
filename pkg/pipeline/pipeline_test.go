package pipeline_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceline/pkg/audio"
	"github.com/teslashibe/go-voiceline/pkg/calls"
	"github.com/teslashibe/go-voiceline/pkg/chat"
	"github.com/teslashibe/go-voiceline/pkg/live"
	"github.com/teslashibe/go-voiceline/pkg/pipeline"
	"github.com/teslashibe/go-voiceline/pkg/stt"
	"github.com/teslashibe/go-voiceline/pkg/tts"
)

const testCallSID = "CA0123456789abcdef0123456789abcdef"

// recorder is a live.Observer funneling deliveries into a channel.
type recorder struct {
	id string
	ch chan live.Event
}

func newRecorder() *recorder {
	return &recorder{id: "pipeline-test", ch: make(chan live.Event, 64)}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(ev live.Event) error {
	r.ch <- ev
	return nil
}

type fixture struct {
	exec     *pipeline.Executor
	registry *calls.Registry
	history  *pipeline.History
	bus      *live.Bus
	obs      *recorder
}

func newFixture(t *testing.T, sttP stt.Provider, chatP chat.Provider, ttsP tts.Provider) *fixture {
	t.Helper()
	registry := calls.NewRegistry()
	registry.Register(testCallSID, "MZ_test")

	bus := live.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)

	obs := newRecorder()
	bus.Subscribe(testCallSID, obs)

	exec := pipeline.New(pipeline.Config{
		STT:      sttP,
		Chat:     chatP,
		TTS:      ttsP,
		Registry: registry,
		Bus:      bus,
		Language: "en",
	})
	return &fixture{exec: exec, registry: registry, history: pipeline.NewHistory(), bus: bus, obs: obs}
}

// events drains the observer until a probe marker emitted here arrives, and
// returns everything delivered before it. Dispatch is FIFO, so once the
// probe lands every pipeline event has too.
func (f *fixture) events(t *testing.T) []live.Event {
	t.Helper()
	f.bus.Emit(testCallSID, "probe", nil)
	var out []live.Event
	for {
		select {
		case ev := <-f.obs.ch:
			if ev.Kind == "probe" {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for probe event")
		}
	}
}

func kinds(evs []live.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func sameKinds(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ulawAudio returns n bytes of decodable non-silence μ-law.
func ulawAudio(n int) []byte {
	return bytes.Repeat([]byte{0x00}, n)
}

func TestRunFullTurn(t *testing.T) {
	sttMock := stt.NewMock().WithText("What time is it?")
	chatMock := chat.NewMock()
	chatMock.ChatFunc = func(ctx context.Context, req *chat.ChatRequest) (*chat.ChatResponse, error) {
		return &chat.ChatResponse{Message: chat.NewAssistantMessage("It is **3 PM**.")}, nil
	}
	ttsMock := tts.NewMock()
	f := newFixture(t, sttMock, chatMock, ttsMock)

	utterance := ulawAudio(4800)
	res, err := f.exec.Run(context.Background(), testCallSID, utterance, f.history)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.UserText != "What time is it?" {
		t.Errorf("UserText = %q", res.UserText)
	}
	if res.AssistantText != "It is **3 PM**." {
		t.Errorf("AssistantText = %q", res.AssistantText)
	}
	// The mock synthesizes 160 μ-law bytes per character of its input,
	// which is the markdown-stripped reply.
	if want := len([]rune("It is 3 PM.")) * 160; len(res.Audio) != want {
		t.Errorf("audio = %d bytes, want %d", len(res.Audio), want)
	}

	// STT received PCM16 at the native telephony rate.
	sttCall := sttMock.LastCall()
	if sttCall == nil {
		t.Fatal("STT never called")
	}
	if sttCall.SampleRate != audio.TelephonyRate {
		t.Errorf("STT sample rate = %d, want %d", sttCall.SampleRate, audio.TelephonyRate)
	}
	if len(sttCall.Audio) != len(utterance)*2 {
		t.Errorf("STT audio = %d bytes, want %d", len(sttCall.Audio), len(utterance)*2)
	}
	if sttCall.Language != "en" {
		t.Errorf("STT language = %q", sttCall.Language)
	}

	// Chat saw the system prompt plus the user message, capped for voice.
	chatCall := chatMock.LastCall()
	if chatCall == nil || chatCall.Request == nil {
		t.Fatal("chat never called")
	}
	if chatCall.Request.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", chatCall.Request.MaxTokens)
	}
	msgs := chatCall.Request.Messages
	if len(msgs) != 2 || msgs[0].Role != chat.RoleSystem || msgs[1].Role != chat.RoleUser {
		t.Fatalf("chat messages = %+v, want [system user]", msgs)
	}
	if msgs[1].Content != "What time is it?" {
		t.Errorf("user message = %q", msgs[1].Content)
	}

	// TTS received the stripped text in the session language.
	ttsCall := ttsMock.LastCall()
	if ttsCall == nil {
		t.Fatal("TTS never called")
	}
	if ttsCall.Text != "It is 3 PM." {
		t.Errorf("TTS text = %q, markdown should be stripped", ttsCall.Text)
	}
	if ttsCall.Language != "en" {
		t.Errorf("TTS language = %q", ttsCall.Language)
	}

	if f.history.Len() != 2 {
		t.Errorf("history len = %d, want 2", f.history.Len())
	}

	rec, ok := f.registry.Get(testCallSID)
	if !ok {
		t.Fatal("call record missing")
	}
	if len(rec.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(rec.Turns))
	}
	turn := rec.Turns[0]
	if turn.UserText != res.UserText || turn.AssistantText != res.AssistantText {
		t.Errorf("turn = %+v", turn)
	}
	if turn.SttMs != res.SttMs || turn.LlmMs != res.LlmMs || turn.TtsMs != res.TtsMs {
		t.Errorf("turn latencies %+v do not match result %+v", turn, res)
	}
	for _, v := range []float64{res.SttMs, res.LlmMs, res.TtsMs} {
		if v != math.Round(v*10)/10 {
			t.Errorf("latency %v not rounded to 0.1 ms", v)
		}
	}

	evs := f.events(t)
	if !sameKinds(kinds(evs), live.KindSTTDone, live.KindLLMDone, live.KindTTSStart, live.KindTTSDone) {
		t.Fatalf("event kinds = %v", kinds(evs))
	}
	if got := evs[0].Payload["user_text"]; got != "What time is it?" {
		t.Errorf("stt_done user_text = %v", got)
	}
	if got := evs[0].Payload["stt_ms"]; got != res.SttMs {
		t.Errorf("stt_done stt_ms = %v, want %v", got, res.SttMs)
	}
	if got := evs[1].Payload["assistant_text"]; got != "It is **3 PM**." {
		t.Errorf("llm_done assistant_text = %v", got)
	}
	if len(evs[2].Payload) != 0 {
		t.Errorf("tts_start payload = %v, want empty", evs[2].Payload)
	}
	if got := evs[3].Payload["tts_ms"]; got != res.TtsMs {
		t.Errorf("tts_done tts_ms = %v, want %v", got, res.TtsMs)
	}
}

func TestRunEmptyTranscriptShortCircuits(t *testing.T) {
	sttMock := stt.NewMock().WithText("  \n\t")
	chatMock := chat.NewMock()
	ttsMock := tts.NewMock()
	f := newFixture(t, sttMock, chatMock, ttsMock)

	res, err := f.exec.Run(context.Background(), testCallSID, ulawAudio(4800), f.history)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.UserText != "" || res.AssistantText != "" || res.Audio != nil {
		t.Errorf("result = %+v, want empty short-circuit", res)
	}
	if res.LlmMs != 0 || res.TtsMs != 0 {
		t.Errorf("latencies = %v/%v, want zero past STT", res.LlmMs, res.TtsMs)
	}

	if n := chatMock.CallCount("Chat"); n != 0 {
		t.Errorf("chat called %d times", n)
	}
	if n := ttsMock.CallCount("Synthesize"); n != 0 {
		t.Errorf("TTS called %d times", n)
	}
	if f.history.Len() != 0 {
		t.Errorf("history len = %d, want 0", f.history.Len())
	}
	rec, _ := f.registry.Get(testCallSID)
	if len(rec.Turns) != 0 {
		t.Errorf("turns = %d, want 0", len(rec.Turns))
	}

	evs := f.events(t)
	if !sameKinds(kinds(evs), live.KindSTTDone) {
		t.Fatalf("event kinds = %v, want only stt_done", kinds(evs))
	}
	if got := evs[0].Payload["user_text"]; got != "" {
		t.Errorf("stt_done user_text = %v, want empty", got)
	}
}

func TestRunRejectsEmptyUtterance(t *testing.T) {
	sttMock := stt.NewMock()
	f := newFixture(t, sttMock, chat.NewMock(), tts.NewMock())

	_, err := f.exec.Run(context.Background(), testCallSID, nil, f.history)
	if !errors.Is(err, audio.ErrEmptyAudio) {
		t.Fatalf("error = %v, want ErrEmptyAudio", err)
	}
	var stage *pipeline.StageError
	if !errors.As(err, &stage) || stage.Stage != pipeline.StageTranscribe {
		t.Fatalf("error = %v, want transcribe StageError", err)
	}
	if sttMock.CallCount() != 0 {
		t.Errorf("STT called on undecodable audio")
	}
}

func TestRunTranscribeFailure(t *testing.T) {
	sttErr := errors.New("recognizer unavailable")
	f := newFixture(t, stt.NewMock().WithError(sttErr), chat.NewMock(), tts.NewMock())

	_, err := f.exec.Run(context.Background(), testCallSID, ulawAudio(4800), f.history)
	var stage *pipeline.StageError
	if !errors.As(err, &stage) {
		t.Fatalf("error = %v, want StageError", err)
	}
	if stage.Stage != pipeline.StageTranscribe {
		t.Errorf("stage = %q", stage.Stage)
	}
	if !errors.Is(err, sttErr) {
		t.Errorf("cause not preserved: %v", err)
	}

	if f.history.Len() != 0 {
		t.Errorf("history len = %d, want 0", f.history.Len())
	}
	rec, _ := f.registry.Get(testCallSID)
	if len(rec.Turns) != 0 {
		t.Errorf("turns = %d, want 0", len(rec.Turns))
	}
	if evs := f.events(t); len(evs) != 0 {
		t.Errorf("events = %v, want none", kinds(evs))
	}
}

func TestRunChatFailureKeepsUserMessage(t *testing.T) {
	chatMock := chat.NewMock()
	var n atomic.Int32
	chatMock.ChatFunc = func(ctx context.Context, req *chat.ChatRequest) (*chat.ChatResponse, error) {
		if n.Add(1) == 1 {
			return nil, errors.New("upstream 500")
		}
		return &chat.ChatResponse{Message: chat.NewAssistantMessage("Recovered.")}, nil
	}
	f := newFixture(t, stt.NewMock().WithText("First question"), chatMock, tts.NewMock())

	_, err := f.exec.Run(context.Background(), testCallSID, ulawAudio(4800), f.history)
	var stage *pipeline.StageError
	if !errors.As(err, &stage) || stage.Stage != pipeline.StageChat {
		t.Fatalf("error = %v, want chat StageError", err)
	}
	if f.history.Len() != 1 {
		t.Fatalf("history len = %d, want the user message retained", f.history.Len())
	}
	rec, _ := f.registry.Get(testCallSID)
	if len(rec.Turns) != 0 {
		t.Errorf("turns = %d after failed turn, want 0", len(rec.Turns))
	}
	if evs := f.events(t); !sameKinds(kinds(evs), live.KindSTTDone) {
		t.Fatalf("event kinds = %v, want only stt_done", kinds(evs))
	}

	// The next utterance proceeds with the stranded user message in context.
	res, err := f.exec.Run(context.Background(), testCallSID, ulawAudio(4800), f.history)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.AssistantText != "Recovered." {
		t.Errorf("AssistantText = %q", res.AssistantText)
	}
	req := chatMock.LastCall().Request
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want system + both user messages", len(req.Messages))
	}
	if req.Messages[1].Role != chat.RoleUser || req.Messages[2].Role != chat.RoleUser {
		t.Errorf("message roles = %v/%v", req.Messages[1].Role, req.Messages[2].Role)
	}
	if f.history.Len() != 3 {
		t.Errorf("history len = %d, want 3", f.history.Len())
	}
	rec, _ = f.registry.Get(testCallSID)
	if len(rec.Turns) != 1 {
		t.Errorf("turns = %d after recovery, want 1", len(rec.Turns))
	}
}

func TestRunSynthesizeFailure(t *testing.T) {
	ttsErr := errors.New("voice store down")
	f := newFixture(t, stt.NewMock().WithText("Hello"), chat.NewMock(), tts.WithError(ttsErr))

	_, err := f.exec.Run(context.Background(), testCallSID, ulawAudio(4800), f.history)
	var stage *pipeline.StageError
	if !errors.As(err, &stage) || stage.Stage != pipeline.StageSynthesize {
		t.Fatalf("error = %v, want synthesize StageError", err)
	}
	if !errors.Is(err, ttsErr) {
		t.Errorf("cause not preserved: %v", err)
	}

	// Both sides of the exchange stay in history even though nothing played.
	if f.history.Len() != 2 {
		t.Errorf("history len = %d, want 2", f.history.Len())
	}
	rec, _ := f.registry.Get(testCallSID)
	if len(rec.Turns) != 0 {
		t.Errorf("turns = %d, want 0", len(rec.Turns))
	}
	evs := f.events(t)
	if !sameKinds(kinds(evs), live.KindSTTDone, live.KindLLMDone, live.KindTTSStart) {
		t.Fatalf("event kinds = %v", kinds(evs))
	}
}

func TestRunRejectsCompressedSynthesis(t *testing.T) {
	ttsMock := tts.NewMock()
	ttsMock.SynthesizeFunc = func(ctx context.Context, text, language string) (*tts.AudioResult, error) {
		return &tts.AudioResult{
			Audio:  []byte{0xFF, 0xFB, 0x90, 0x00},
			Format: tts.AudioFormat{Encoding: tts.EncodingMP3, SampleRate: 44100, Channels: 1},
		}, nil
	}
	f := newFixture(t, stt.NewMock().WithText("Hello"), chat.NewMock(), ttsMock)

	_, err := f.exec.Run(context.Background(), testCallSID, ulawAudio(4800), f.history)
	var stage *pipeline.StageError
	if !errors.As(err, &stage) || stage.Stage != pipeline.StageEncode {
		t.Fatalf("error = %v, want encode StageError", err)
	}
	rec, _ := f.registry.Get(testCallSID)
	if len(rec.Turns) != 0 {
		t.Errorf("turns = %d, want 0", len(rec.Turns))
	}
	evs := f.events(t)
	if !sameKinds(kinds(evs), live.KindSTTDone, live.KindLLMDone, live.KindTTSStart) {
		t.Fatalf("event kinds = %v", kinds(evs))
	}
}

func TestRunResamplesLinearPCM(t *testing.T) {
	// 10 ms of PCM16 at 16 kHz: 160 samples.
	pcm := make([]byte, 320)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(1000)))
	}
	ttsMock := tts.NewMock()
	ttsMock.SynthesizeFunc = func(ctx context.Context, text, language string) (*tts.AudioResult, error) {
		return &tts.AudioResult{
			Audio:  pcm,
			Format: tts.AudioFormat{Encoding: tts.EncodingPCM16, SampleRate: 16000, Channels: 1, BitDepth: 16},
		}, nil
	}
	f := newFixture(t, stt.NewMock().WithText("Hello"), chat.NewMock(), ttsMock)

	res, err := f.exec.Run(context.Background(), testCallSID, ulawAudio(4800), f.history)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Halved to 80 samples at 8 kHz, one μ-law byte each.
	if len(res.Audio) != 80 {
		t.Errorf("audio = %d bytes, want 80", len(res.Audio))
	}
	rec, _ := f.registry.Get(testCallSID)
	if len(rec.Turns) != 1 {
		t.Errorf("turns = %d, want 1", len(rec.Turns))
	}
}

func TestHistorySnapshotIsCopy(t *testing.T) {
	h := pipeline.NewHistory()
	h.Append(chat.NewUserMessage("one"))

	snap := h.Snapshot()
	h.Append(chat.NewAssistantMessage("two"))
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	snap[0].Content = "mutated"
	if got := h.Snapshot()[0].Content; got != "one" {
		t.Errorf("history content = %q, snapshot mutation leaked", got)
	}
	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}
}

func TestStageError(t *testing.T) {
	inner := errors.New("boom")
	err := &pipeline.StageError{Stage: pipeline.StageChat, Err: inner}
	if got := err.Error(); got != "pipeline stage chat: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, inner) {
		t.Error("Unwrap does not reach the cause")
	}
}
