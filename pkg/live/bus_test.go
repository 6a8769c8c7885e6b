package live_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceline/pkg/live"
)

// recorder is an Observer that funnels deliveries into a channel. A non-nil
// fail makes every Send report it.
type recorder struct {
	id   string
	ch   chan live.Event
	fail error
}

func newRecorder(id string) *recorder {
	return &recorder{id: id, ch: make(chan live.Event, 512)}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(ev live.Event) error {
	if r.fail != nil {
		return r.fail
	}
	r.ch <- ev
	return nil
}

func startBus(t *testing.T) *live.Bus {
	t.Helper()
	b := live.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b
}

func recv(t *testing.T, r *recorder) live.Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return live.Event{}
	}
}

func TestEmissionOrderPreserved(t *testing.T) {
	b := startBus(t)
	obs := newRecorder("obs-1")
	b.Subscribe("CA1", obs)

	const n = 100
	for i := 0; i < n; i++ {
		b.Emit("CA1", live.KindSTTDone, map[string]any{"seq": i})
	}
	for i := 0; i < n; i++ {
		ev := recv(t, obs)
		if ev.CallSID != "CA1" || ev.Kind != live.KindSTTDone {
			t.Fatalf("event %d = %s/%s", i, ev.CallSID, ev.Kind)
		}
		if got := ev.Payload["seq"].(int); got != i {
			t.Fatalf("event %d carries seq %d, delivery reordered", i, got)
		}
	}
}

func TestCallIsolation(t *testing.T) {
	b := startBus(t)
	obs1 := newRecorder("obs-1")
	obs2 := newRecorder("obs-2")
	b.Subscribe("CA1", obs1)
	b.Subscribe("CA2", obs2)

	b.Emit("CA1", live.KindSTTDone, nil)
	b.Emit("CA2", live.KindLLMDone, nil)
	b.Emit("CA1", live.KindTTSDone, nil)

	if ev := recv(t, obs1); ev.Kind != live.KindSTTDone {
		t.Errorf("obs1 first event = %s", ev.Kind)
	}
	if ev := recv(t, obs1); ev.Kind != live.KindTTSDone {
		t.Errorf("obs1 second event = %s", ev.Kind)
	}
	if ev := recv(t, obs2); ev.CallSID != "CA2" || ev.Kind != live.KindLLMDone {
		t.Errorf("obs2 event = %s/%s", ev.CallSID, ev.Kind)
	}

	select {
	case ev := <-obs1.ch:
		t.Errorf("obs1 received foreign event %s/%s", ev.CallSID, ev.Kind)
	case ev := <-obs2.ch:
		t.Errorf("obs2 received foreign event %s/%s", ev.CallSID, ev.Kind)
	default:
	}
}

func TestDeadObserverRemovedAlone(t *testing.T) {
	b := startBus(t)
	dead := newRecorder("dead")
	dead.fail = fmt.Errorf("socket gone")
	healthy := newRecorder("healthy")
	b.Subscribe("CA1", dead)
	b.Subscribe("CA1", healthy)

	b.Emit("CA1", live.KindSTTDone, nil)
	recv(t, healthy)

	deadline := time.Now().Add(2 * time.Second)
	for b.ObserverCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("observer count = %d, want 1", b.ObserverCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Emit("CA1", live.KindTTSDone, nil)
	if ev := recv(t, healthy); ev.Kind != live.KindTTSDone {
		t.Errorf("healthy observer got %s after removal of the dead one", ev.Kind)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := startBus(t)
	obs := newRecorder("obs-1")
	sentinel := newRecorder("sentinel")
	b.Subscribe("CA1", obs)
	b.Subscribe("CA2", sentinel)

	b.Emit("CA1", live.KindSTTDone, nil)
	recv(t, obs)

	b.Unsubscribe(obs)
	b.Emit("CA1", live.KindLLMDone, nil)
	// FIFO dispatch: once the sentinel's later event arrives, the CA1 event
	// above has already been (not) delivered.
	b.Emit("CA2", live.KindTTSDone, nil)
	recv(t, sentinel)

	select {
	case ev := <-obs.ch:
		t.Errorf("unsubscribed observer received %s", ev.Kind)
	default:
	}
	if b.ObserverCount() != 1 {
		t.Errorf("observer count = %d, want 1", b.ObserverCount())
	}
}

func TestResubscribeMovesObserver(t *testing.T) {
	b := startBus(t)
	obs := newRecorder("obs-1")
	b.Subscribe("CA1", obs)
	b.Subscribe("CA2", obs)

	if b.ObserverCount() != 1 {
		t.Fatalf("observer count = %d, want 1 after move", b.ObserverCount())
	}

	b.Emit("CA1", live.KindSTTDone, nil)
	b.Emit("CA2", live.KindLLMDone, nil)

	if ev := recv(t, obs); ev.CallSID != "CA2" {
		t.Errorf("observer still attached to old call: got %s/%s", ev.CallSID, ev.Kind)
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	// No consumer running: the queue fills, then overflow is dropped and
	// counted, and Emit keeps returning.
	b := live.NewBus()
	const overflow = 5
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 256+overflow; i++ {
			b.Emit("CA1", live.KindSTTDone, nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	if got := b.Dropped(); got != overflow {
		t.Errorf("dropped = %d, want %d", got, overflow)
	}
}
