// Package session owns the lifecycle of one Twilio media stream: the
// connected/start/media/stop state machine, utterance segmentation over the
// inbound frames, and single-flight dispatch of complete utterances through
// the pipeline while new frames keep arriving.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-voiceline/pkg/audio"
	"github.com/teslashibe/go-voiceline/pkg/calls"
	"github.com/teslashibe/go-voiceline/pkg/pipeline"
	"github.com/teslashibe/go-voiceline/pkg/segment"
	"github.com/teslashibe/go-voiceline/pkg/twilio"
)

// progressEvery throttles the inbound media log.
const progressEvery = 50

// Sender delivers outbound stream messages. Live connections use the
// websocket-backed sender; tests substitute a recorder.
type Sender interface {
	Send(*twilio.Message) error
}

// Session is the per-call state machine. All HandleMessage calls come from
// one connection read loop, in arrival order; the only concurrency is the
// pipeline goroutine, which touches nothing here except the in-flight guard,
// the history it was handed, and the sender.
type Session struct {
	manager   *Manager
	sender    Sender
	exec      *pipeline.Executor
	registry  *calls.Registry
	segmenter *segment.Segmenter
	history   *pipeline.History
	logger    *slog.Logger

	language  string
	verbosity string

	callSID   string
	streamSID string

	inFlight atomic.Bool
	closed   atomic.Bool

	frames     uint64
	utterances uint64
	stopped    bool
}

// HandleMessage advances the state machine by one inbound stream message.
func (s *Session) HandleMessage(msg *twilio.Message) {
	switch msg.Event {
	case twilio.EventConnected:
		s.logger.Info("stream connected")
	case twilio.EventStart:
		s.handleStart(msg)
	case twilio.EventMedia:
		s.handleMedia(msg)
	case twilio.EventStop:
		s.handleStop()
	case twilio.EventMark:
		// Twilio echoes a mark back once playback has passed it.
		if msg.Mark != nil {
			s.logger.Debug("mark echoed", "name", msg.Mark.Name)
		}
	default:
		s.logger.Debug("unhandled stream event", "event", msg.Event)
	}
}

func (s *Session) handleStart(msg *twilio.Message) {
	start := msg.Start
	if start == nil {
		s.logger.Warn("start event without payload")
		return
	}
	if s.callSID != "" {
		s.logger.Warn("duplicate start event", "prior_call_sid", s.callSID)
		s.manager.unregister(s)
	}
	s.callSID = start.CallSID
	s.streamSID = start.StreamSID
	if s.streamSID == "" {
		s.streamSID = msg.StreamSID
	}
	s.logger = s.logger.With("call_sid", s.callSID)

	s.registry.Register(s.callSID, s.streamSID)
	s.manager.register(s)

	s.logger.Info("call started",
		"stream_sid", s.streamSID,
		"tracks", start.Tracks,
		"encoding", start.MediaFormat.Encoding,
		"language", s.language,
		"verbosity", s.verbosity,
	)
}

func (s *Session) handleMedia(msg *twilio.Message) {
	media := msg.Media
	if media == nil || media.Payload == "" {
		return
	}
	if media.Track != "" && media.Track != twilio.TrackInbound {
		return
	}
	frame, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		s.logger.Warn("undecodable media payload, skipping frame", "error", err)
		return
	}

	s.frames++
	s.manager.frames.Add(1)
	if s.frames == 1 {
		s.logger.Info("first inbound media frame", "bytes", len(frame))
	} else if s.frames%progressEvery == 0 {
		s.logger.Info("media progress",
			"frames", s.frames,
			"buffered_bytes", s.segmenter.Len(),
			"silent_run", s.segmenter.SilentRun(),
		)
	}

	if decision := s.segmenter.Push(frame); decision != segment.DecisionNone {
		s.dispatch(decision)
	}
}

func (s *Session) handleStop() {
	s.stopped = true
	s.registry.End(s.callSID)
	s.logger.Info("call stopped",
		"frames", s.frames,
		"utterances", s.utterances,
		"buffered_bytes", s.segmenter.Len(),
	)
}

// dispatch takes the buffered utterance and runs the pipeline for it, unless
// a run is already in flight. A declined dispatch leaves the buffer intact:
// frames keep accumulating and a later boundary decision retries.
func (s *Session) dispatch(decision segment.Decision) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	utterance := s.segmenter.Take()
	s.utterances++
	s.manager.utterances.Add(1)

	s.logger.Info("pipeline dispatch",
		"reason", decision.String(),
		"bytes", len(utterance),
		"seconds", float64(len(utterance))/float64(audio.TelephonyRate),
	)
	go s.runPipeline(utterance)
}

// runPipeline executes one turn and plays the reply back. It deliberately
// uses a background context: a stop event or a dropped connection does not
// cancel a run already in flight.
func (s *Session) runPipeline(utterance []byte) {
	defer s.inFlight.Store(false)

	res, err := s.exec.Run(context.Background(), s.callSID, utterance, s.history)
	if err != nil {
		s.manager.failures.Add(1)
		s.logger.Error("pipeline failed", "error", err)
		return
	}
	if res.UserText == "" {
		s.logger.Info("pipeline done, no speech", "stt_ms", res.SttMs)
		return
	}
	s.manager.turns.Add(1)
	s.sendReply(res)
}

func (s *Session) sendReply(res *pipeline.Result) {
	frames := audio.Chunk(res.Audio, audio.FrameBytes, audio.ULawSilence)
	for i, frame := range frames {
		msg := twilio.NewMediaMessage(s.streamSID, base64.StdEncoding.EncodeToString(frame))
		if err := s.sender.Send(msg); err != nil {
			s.logger.Warn("reply send failed, dropping remainder",
				"error", err, "frames_sent", i, "frames_total", len(frames))
			return
		}
	}
	mark := fmt.Sprintf("tts-%s-%d", s.callSID, s.history.Len())
	if err := s.sender.Send(twilio.NewMarkMessage(s.streamSID, mark)); err != nil {
		s.logger.Warn("mark send failed", "error", err)
		return
	}
	s.logger.Info("reply sent",
		"frames", len(frames),
		"mark", mark,
		"user_text", truncate(res.UserText, 60),
	)
}

// Close finalizes the call record if the stream dropped without a stop event
// and detaches the session from the manager. Idempotent. An in-flight
// pipeline run is left to finish on its own.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.callSID != "" && !s.stopped {
		s.registry.End(s.callSID)
		s.logger.Info("stream closed without stop event",
			"frames", s.frames,
			"buffered_bytes", s.segmenter.Len(),
		)
	}
	s.manager.unregister(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
