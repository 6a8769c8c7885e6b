// Package calls keeps the in-memory transcript of every call the process has
// handled: one record per call SID with its turns and per-stage latencies.
// Records live until process exit; there is no persistence.
package calls

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Turn is one completed utterance: what the caller said, what the assistant
// answered, and how long each pipeline stage took.
type Turn struct {
	UserText      string  `json:"user_text"`
	AssistantText string  `json:"assistant_text"`
	SttMs         float64 `json:"stt_ms"`
	LlmMs         float64 `json:"llm_ms"`
	TtsMs         float64 `json:"tts_ms"`
}

// Record is the full transcript of one call. EndTime is nil while the call
// is active.
type Record struct {
	CallSID   string     `json:"call_sid"`
	StreamSID string     `json:"stream_sid"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Turns     []Turn     `json:"turns"`
}

// Summary is the list view of a record.
type Summary struct {
	CallSID   string     `json:"call_sid"`
	StreamSID string     `json:"stream_sid"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	TurnCount int        `json:"turn_count"`
}

// Registry is a concurrency-safe map of call SID to record. Every operation
// is atomic and self-contained.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register opens a record for the call, replacing any prior record under the
// same SID.
func (r *Registry) Register(callSID, streamSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[callSID] = &Record{
		CallSID:   callSID,
		StreamSID: streamSID,
		StartTime: time.Now(),
		Turns:     []Turn{},
	}
}

// AddTurn appends a turn to a registered call. Latencies are stored rounded
// to 0.1ms. Unregistered SIDs are a no-op.
func (r *Registry) AddTurn(callSID string, turn Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callSID]
	if !ok {
		return
	}
	turn.SttMs = round1(turn.SttMs)
	turn.LlmMs = round1(turn.LlmMs)
	turn.TtsMs = round1(turn.TtsMs)
	rec.Turns = append(rec.Turns, turn)
}

// End stamps the call's end time. Unregistered SIDs are a no-op.
func (r *Registry) End(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callSID]
	if !ok {
		return
	}
	now := time.Now()
	rec.EndTime = &now
}

// List returns summaries of every record, most recently started first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, Summary{
			CallSID:   rec.CallSID,
			StreamSID: rec.StreamSID,
			StartTime: rec.StartTime,
			EndTime:   copyTime(rec.EndTime),
			TurnCount: len(rec.Turns),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Get returns a deep copy of the call's record. The copy shares nothing with
// the live record, so callers may hold it across later mutations.
func (r *Registry) Get(callSID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[callSID]
	if !ok {
		return Record{}, false
	}
	turns := make([]Turn, len(rec.Turns))
	copy(turns, rec.Turns)
	return Record{
		CallSID:   rec.CallSID,
		StreamSID: rec.StreamSID,
		StartTime: rec.StartTime,
		EndTime:   copyTime(rec.EndTime),
		Turns:     turns,
	}, true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
