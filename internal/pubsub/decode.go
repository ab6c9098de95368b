package pubsub

import (
	"encoding/json"
	"strings"
)

// wireFrame is the relay transport's wrapper around a published message
type wireFrame struct {
	Message *string `json:"message"`
}

// DecodeWireLine extracts the published message from one line of the relay's
// subscribe feed. The transport is a foreign service whose framing is not
// fully under our control, so decoding is a fixed fallback chain:
//
//  1. strip outer "data: " streaming framing if present
//  2. parse the payload as JSON and unwrap the transport's {"message": ...}
//     wrapper, or accept a bare JSON string
//  3. fall back to the whole trimmed payload as an opaque text message
//
// Returns false for blank lines and frames that carry no message.
func DecodeWireLine(line string) (string, bool) {
	payload := strings.TrimSpace(line)
	if payload == "" {
		return "", false
	}

	payload = strings.TrimPrefix(payload, "data: ")

	var frame wireFrame
	if err := json.Unmarshal([]byte(payload), &frame); err == nil && frame.Message != nil {
		return *frame.Message, true
	}

	var text string
	if err := json.Unmarshal([]byte(payload), &text); err == nil {
		return text, true
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", false
	}
	return payload, true
}
