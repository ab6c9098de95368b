package models

import (
	"encoding/json"
	"time"
)

// EnvelopeType tags the kind of event an envelope carries
type EnvelopeType string

const (
	EnvelopeStart     EnvelopeType = "start"
	EnvelopeContent   EnvelopeType = "content"
	EnvelopeEnd       EnvelopeType = "end"
	EnvelopeError     EnvelopeType = "error"
	EnvelopeStatus    EnvelopeType = "status"
	EnvelopeConnected EnvelopeType = "connected"
)

// Envelope is the pub/sub wire message: one typed, timestamped event per
// discrete moment in a task's execution. Immutable once published.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	Data      string       `json:"data,omitempty"`
	TaskID    string       `json:"taskId,omitempty"`
	Timestamp int64        `json:"timestamp"` // epoch milliseconds
}

func now() int64 {
	return time.Now().UnixMilli()
}

// NewStartEnvelope marks the beginning of a task's generation run
func NewStartEnvelope(taskID string) Envelope {
	return Envelope{Type: EnvelopeStart, TaskID: taskID, Timestamp: now()}
}

// NewContentEnvelope carries one output fragment
func NewContentEnvelope(content string) Envelope {
	return Envelope{Type: EnvelopeContent, Data: content, Timestamp: now()}
}

// NewEndEnvelope carries the full concatenated output
func NewEndEnvelope(fullContent string) Envelope {
	return Envelope{Type: EnvelopeEnd, Data: fullContent, Timestamp: now()}
}

// NewErrorEnvelope carries a failure message
func NewErrorEnvelope(message string) Envelope {
	return Envelope{Type: EnvelopeError, Data: message, Timestamp: now()}
}

// NewStatusEnvelope carries a status transition
func NewStatusEnvelope(status TaskStatus) Envelope {
	return Envelope{Type: EnvelopeStatus, Data: string(status), Timestamp: now()}
}

// NewConnectedEnvelope is the synthetic event sent when a stream opens
func NewConnectedEnvelope(taskID string) Envelope {
	return Envelope{Type: EnvelopeConnected, TaskID: taskID, Timestamp: now()}
}

// ToJSON serializes the envelope for the wire
func (e Envelope) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseEnvelope decodes a wire message into an Envelope. Returns false when
// the message is not a typed envelope (opaque relay text).
func ParseEnvelope(message string) (Envelope, bool) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(message), &envelope); err != nil {
		return Envelope{}, false
	}
	if envelope.Type == "" {
		return Envelope{}, false
	}
	return envelope, true
}
