// Package segment decides utterance boundaries in a continuous μ-law frame
// stream. Frames are classified voiced or silent by mean byte value (μ-law
// silence sits near 0xFF, so a high mean means a quiet line) and an utterance
// completes on a trailing silence run, or on a hard byte cap for lines that
// never go quiet.
package segment

import "fmt"

// Defaults for 8kHz μ-law in 20ms frames.
const (
	// DefaultSilenceThreshold marks a frame silent when its mean byte
	// value is at or above it. Biased toward the PSTN noise floor rather
	// than strict silence.
	DefaultSilenceThreshold = 250

	// DefaultMinViableFrame is the shortest frame classified by content.
	// Anything shorter is always silent.
	DefaultMinViableFrame = 10

	// DefaultMinUtteranceBytes is 600ms at 8kHz.
	DefaultMinUtteranceBytes = 4800

	// DefaultSilenceRunFrames is 1s of 20ms frames.
	DefaultSilenceRunFrames = 50

	// DefaultMaxUtteranceBytes is 8s at 8kHz.
	DefaultMaxUtteranceBytes = 64000
)

// Decision is the segmenter's verdict after one frame.
type Decision int

const (
	// DecisionNone: keep accumulating.
	DecisionNone Decision = iota

	// DecisionSilenceRun: enough speech buffered and the caller has gone
	// quiet for the configured run.
	DecisionSilenceRun

	// DecisionMaxBuffer: the buffer crossed the hard cap. Fires once per
	// crossing, silence state notwithstanding.
	DecisionMaxBuffer
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionSilenceRun:
		return "silence_run"
	case DecisionMaxBuffer:
		return "max_buffer"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Config tunes one segmenter. Zero fields take the package defaults.
type Config struct {
	SilenceThreshold  int // mean byte value at or above which a frame is silent
	MinViableFrame    int // frames shorter than this are always silent
	MinUtteranceBytes int // minimum buffered bytes before a silence run completes an utterance
	SilenceRunFrames  int // consecutive silent frames that end an utterance
	MaxUtteranceBytes int // buffered bytes at which dispatch is forced
}

// DefaultConfig returns the telephony defaults.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:  DefaultSilenceThreshold,
		MinViableFrame:    DefaultMinViableFrame,
		MinUtteranceBytes: DefaultMinUtteranceBytes,
		SilenceRunFrames:  DefaultSilenceRunFrames,
		MaxUtteranceBytes: DefaultMaxUtteranceBytes,
	}
}

// Segmenter accumulates inbound frames and reports utterance boundaries.
// Not safe for concurrent use: it is owned by exactly one call session and
// fed from that session's read loop.
type Segmenter struct {
	cfg       Config
	buf       []byte
	silentRun int
}

// New returns a segmenter. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Segmenter {
	def := DefaultConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.MinViableFrame <= 0 {
		cfg.MinViableFrame = def.MinViableFrame
	}
	if cfg.MinUtteranceBytes <= 0 {
		cfg.MinUtteranceBytes = def.MinUtteranceBytes
	}
	if cfg.SilenceRunFrames <= 0 {
		cfg.SilenceRunFrames = def.SilenceRunFrames
	}
	if cfg.MaxUtteranceBytes <= 0 {
		cfg.MaxUtteranceBytes = def.MaxUtteranceBytes
	}
	return &Segmenter{cfg: cfg}
}

// Push appends one frame, classifies it, and reports whether the buffered
// span now forms a complete utterance. The decision is advisory: the buffer
// is untouched until Take, so a caller that cannot dispatch yet simply keeps
// pushing and the same condition re-fires while it holds. The hard-cap
// decision is the exception: it fires only on the frame that crosses the cap.
func (s *Segmenter) Push(frame []byte) Decision {
	before := len(s.buf)
	s.buf = append(s.buf, frame...)

	if s.silent(frame) {
		s.silentRun++
	} else {
		s.silentRun = 0
	}

	if s.silentRun >= s.cfg.SilenceRunFrames && len(s.buf) >= s.cfg.MinUtteranceBytes {
		return DecisionSilenceRun
	}
	if before < s.cfg.MaxUtteranceBytes && len(s.buf) >= s.cfg.MaxUtteranceBytes {
		return DecisionMaxBuffer
	}
	return DecisionNone
}

// Take copies out the buffered utterance, clears the buffer, and resets the
// silence counter.
func (s *Segmenter) Take() []byte {
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	s.buf = s.buf[:0]
	s.silentRun = 0
	return out
}

// Len reports the buffered byte count.
func (s *Segmenter) Len() int { return len(s.buf) }

// SilentRun reports the current consecutive-silent-frame count.
func (s *Segmenter) SilentRun() int { return s.silentRun }

func (s *Segmenter) silent(frame []byte) bool {
	if len(frame) < s.cfg.MinViableFrame {
		return true
	}
	var sum int
	for _, b := range frame {
		sum += int(b)
	}
	return float64(sum)/float64(len(frame)) >= float64(s.cfg.SilenceThreshold)
}
