package stt

import (
	"context"
	"sync"
	"time"
)

// MockCall records one Transcribe invocation.
type MockCall struct {
	Audio      []byte
	SampleRate int
	Language   string
}

// Mock is a test double. Function fields override behavior per call; every
// invocation is recorded. Safe for concurrent use.
type Mock struct {
	TranscribeFunc func(ctx context.Context, audio []byte, sampleRate int, language string) (string, error)
	HealthFunc     func(ctx context.Context) error

	mu      sync.Mutex
	calls   []MockCall
	text    string
	err     error
	latency time.Duration
}

var _ Provider = (*Mock)(nil)

// NewMock returns a mock that transcribes everything as a canned string.
func NewMock() *Mock {
	return &Mock{text: "mock transcript"}
}

// WithText sets the canned transcript.
func (m *Mock) WithText(text string) *Mock {
	m.text = text
	return m
}

// WithError makes every Transcribe fail.
func (m *Mock) WithError(err error) *Mock {
	m.err = err
	return m
}

// WithLatency delays every Transcribe.
func (m *Mock) WithLatency(d time.Duration) *Mock {
	m.latency = d
	return m
}

func (m *Mock) Transcribe(ctx context.Context, audio []byte, sampleRate int, language string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Audio: audio, SampleRate: sampleRate, Language: language})
	m.mu.Unlock()

	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.latency):
		}
	}
	if m.err != nil {
		return "", m.err
	}
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, sampleRate, language)
	}
	return m.text, nil
}

func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

func (m *Mock) Close() error { return nil }

// CallCount reports how many Transcribe calls were made.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent recorded call, or nil.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
