// Package twilio carries the Media Streams wire protocol: the JSON envelope
// exchanged over the stream websocket, TwiML generation for the voice
// webhook, and webhook signature validation.
package twilio

import (
	"encoding/json"
	"fmt"
)

// Stream event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
)

// TrackInbound tags caller audio. Frames on any other track are ignored.
const TrackInbound = "inbound"

// Message is the envelope for every stream event, inbound and outbound.
// Exactly one of Start, Media, Stop, Mark is set, matching Event.
type Message struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`
	Start          *Start `json:"start,omitempty"`
	Media          *Media `json:"media,omitempty"`
	Stop           *Stop  `json:"stop,omitempty"`
	Mark           *Mark  `json:"mark,omitempty"`
}

// Start carries the stream metadata delivered once per call.
type Start struct {
	AccountSID  string      `json:"accountSid"`
	StreamSID   string      `json:"streamSid"`
	CallSID     string      `json:"callSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat describes the codec of the stream's frames.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media is one audio frame. Payload is base64 μ-law.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Stop carries the closing identifiers.
type Stop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Mark names a position in the outbound audio; the remote endpoint echoes
// it back once everything queued before it has played.
type Mark struct {
	Name string `json:"name"`
}

// Parse decodes one stream message.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("twilio: parse message: %w", err)
	}
	if m.Event == "" {
		return nil, fmt.Errorf("twilio: message without event")
	}
	return &m, nil
}

// NewMediaMessage builds an outbound audio frame. payloadB64 is base64 μ-law.
func NewMediaMessage(streamSID, payloadB64 string) *Message {
	return &Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &Media{Payload: payloadB64},
	}
}

// NewMarkMessage builds the end-of-reply marker sent after the last frame.
func NewMarkMessage(streamSID, name string) *Message {
	return &Message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &Mark{Name: name},
	}
}

// Bytes serializes the message for the socket.
func (m *Message) Bytes() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("twilio: encode %s message: %w", m.Event, err)
	}
	return data, nil
}
