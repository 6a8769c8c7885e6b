package pipeline

import "github.com/teslashibe/go-voiceline/pkg/chat"

// History holds one call's conversation turns, user and assistant messages
// interleaved, without the system prompt (that is rebuilt per run). It is
// owned by the session and serialized by the in-flight guard, so it needs
// no lock of its own.
type History struct {
	messages []chat.Message
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds a message to the end of the conversation.
func (h *History) Append(msg chat.Message) {
	h.messages = append(h.messages, msg)
}

// Snapshot returns a copy of the conversation so far. The copy is safe to
// hand to a provider while later turns are appended.
func (h *History) Snapshot() []chat.Message {
	out := make([]chat.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len reports the number of messages in the conversation.
func (h *History) Len() int {
	return len(h.messages)
}
