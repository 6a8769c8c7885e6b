// Package live broadcasts pipeline stage completions to websocket observers
// watching a call. Producers run in pipeline goroutines; a single consumer
// goroutine owns all fan-out, so events for one call reach every observer in
// emission order.
package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-voiceline/internal/log"
)

// Event kinds emitted by the pipeline, in stage order.
const (
	KindSTTDone  = "stt_done"
	KindLLMDone  = "llm_done"
	KindTTSStart = "tts_start"
	KindTTSDone  = "tts_done"
)

// Event is one stage completion. Transient: delivered to current observers
// or dropped, never stored.
type Event struct {
	CallSID string         `json:"call_sid"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Observer receives events for the one call it is subscribed to. Send must
// not block; returning an error removes the observer from the bus.
type Observer interface {
	ID() string
	Send(Event) error
}

const queueSize = 256

// Bus routes events from pipeline goroutines to observers. Emit never
// blocks; when the queue is full the event is dropped and counted. Run is
// the sole consumer and the only place observers are sent to.
type Bus struct {
	events  chan Event
	dropped atomic.Uint64

	mu   sync.RWMutex
	subs map[string]map[string]Observer // call SID -> observer ID -> observer
	byID map[string]string              // observer ID -> call SID

	logger *slog.Logger
}

// NewBus returns a bus. Call Run in a goroutine before emitting.
func NewBus() *Bus {
	return &Bus{
		events: make(chan Event, queueSize),
		subs:   make(map[string]map[string]Observer),
		byID:   make(map[string]string),
		logger: log.With("component", "live_bus"),
	}
}

// Emit queues a stage event for the call. Never blocks: if the queue is
// full the event is dropped and the drop counter incremented.
func (b *Bus) Emit(callSID, kind string, payload map[string]any) {
	ev := Event{CallSID: callSID, Kind: kind, Payload: payload}
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping", "call_sid", callSID, "kind", kind)
	}
}

// Subscribe attaches the observer to one call. An observer watches at most
// one call: subscribing again moves it.
func (b *Bus) Subscribe(callSID string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(obs.ID())
	set, ok := b.subs[callSID]
	if !ok {
		set = make(map[string]Observer)
		b.subs[callSID] = set
	}
	set[obs.ID()] = obs
	b.byID[obs.ID()] = callSID
}

// Unsubscribe detaches the observer from whatever call it watches.
func (b *Bus) Unsubscribe(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(obs.ID())
}

func (b *Bus) removeLocked(id string) {
	callSID, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)
	if set, ok := b.subs[callSID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(b.subs, callSID)
		}
	}
}

// Run drains the queue in emission order and fans each event out to the
// observers subscribed to its call. An observer whose Send fails is removed;
// others are unaffected. Returns when ctx is done.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	targets := make([]Observer, 0, len(b.subs[ev.CallSID]))
	for _, obs := range b.subs[ev.CallSID] {
		targets = append(targets, obs)
	}
	b.mu.RUnlock()

	for _, obs := range targets {
		if err := obs.Send(ev); err != nil {
			b.logger.Debug("removing observer", "observer_id", obs.ID(), "call_sid", ev.CallSID, "error", err)
			b.Unsubscribe(obs)
		}
	}
}

// ObserverCount reports the number of attached observers across all calls.
func (b *Bus) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Dropped reports how many events were discarded on a full queue.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
