package tts

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// Mock implements Provider for tests. Behavior is injected through function
// fields; every invocation is recorded for assertions.
type Mock struct {
	// SynthesizeFunc handles Synthesize. Nil falls back to μ-law silence
	// paced at one frame per character.
	SynthesizeFunc func(ctx context.Context, text, language string) (*AudioResult, error)

	// StreamFunc handles Stream. Nil adapts SynthesizeFunc.
	StreamFunc func(ctx context.Context, text, language string) (AudioStream, error)

	// HealthFunc handles Health. Nil reports healthy.
	HealthFunc func(ctx context.Context) error

	// CloseFunc handles Close. Nil reports success.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one method invocation.
type MockCall struct {
	Method   string
	Text     string
	Language string
	Time     time.Time
}

var _ Provider = (*Mock)(nil)

// NewMock returns a mock that synthesizes telephony-native silence: one
// 20ms μ-law frame (160 bytes of 0xFF) per character, which keeps reply
// pacing realistic without real audio.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text, language string) (*AudioResult, error) {
			chars := len([]rune(text))
			format := AudioFormat{
				Encoding:   EncodingULaw,
				SampleRate: 8000,
				Channels:   1,
				BitDepth:   8,
			}
			return &AudioResult{
				Audio:     bytes.Repeat([]byte{0xFF}, chars*160),
				Format:    format,
				Duration:  time.Duration(chars) * 20 * time.Millisecond,
				CharCount: chars,
				LatencyMs: 10,
			}, nil
		},
		HealthFunc: func(ctx context.Context) error { return nil },
	}
}

// Synthesize records the call and delegates to SynthesizeFunc.
func (m *Mock) Synthesize(ctx context.Context, text, language string) (*AudioResult, error) {
	m.record("Synthesize", text, language)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text, language)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Stream records the call and delegates to StreamFunc, adapting
// SynthesizeFunc when no stream handler is set.
func (m *Mock) Stream(ctx context.Context, text, language string) (AudioStream, error) {
	m.record("Stream", text, language)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, text, language)
	}
	if m.SynthesizeFunc != nil {
		result, err := m.SynthesizeFunc(ctx, text, language)
		if err != nil {
			return nil, err
		}
		return &bufferStream{data: result.Audio, format: result.Format}, nil
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Health records the call and delegates to HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", "", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call and delegates to CloseFunc.
func (m *Mock) Close() error {
	m.record("Close", "", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) record(method, text, language string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:   method,
		Text:     text,
		Language: language,
		Time:     time.Now(),
	})
}

// Calls returns a copy of all recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastCall returns the most recent invocation, or nil.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears the recorded invocations.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose every method fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text, language string) (*AudioResult, error) {
			return nil, err
		},
		StreamFunc: func(ctx context.Context, text, language string) (AudioStream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error { return err },
	}
}

// WithLatency wraps m's Synthesize with an artificial delay that still
// honors context cancellation.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	inner := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text, language string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if inner != nil {
			return inner(ctx, text, language)
		}
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m
}
