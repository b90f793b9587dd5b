package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type enumerates the structured event kinds carried over the SSE wire.
type Type string

const (
	TypeServerOutput     Type = "serverOutput"
	TypeServerInput      Type = "serverInput"
	TypeServerRestarting Type = "serverRestarting"
	TypeServerStopped    Type = "serverStopped"
	TypePlayerChat       Type = "playerChat"
	TypePlayerList       Type = "playerList"
	TypeUserAttach       Type = "userAttach"
	TypeUserDetach       Type = "userDetach"
)

// Event is a structured lifecycle/console notification. The payload always
// carries an ISO-8601 "timestamp" field plus type-specific fields.
type Event struct {
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload"`
}

// New builds an event and stamps the payload with the current time.
func New(t Type, payload map[string]any) Event {
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["timestamp"] = time.Now().Format(time.RFC3339)
	return Event{Type: t, Payload: payload}
}

// SSE encodes the event in server-sent-events wire format:
// "event: <type>\ndata: <json-object>\n\n".
func (e Event) SSE() string {
	b, err := json.Marshal(e.Payload)
	if err != nil {
		b = []byte("{}")
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, b)
}
