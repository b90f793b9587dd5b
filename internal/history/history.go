package history

import (
	"context"
	"time"
)

// EventType defines the kind of analytics event.
type EventType string

const (
	EventServerStart EventType = "server_start"
	EventServerStop  EventType = "server_stop"
	EventPlayerJoin  EventType = "player_join"
	EventPlayerLeave EventType = "player_leave"
	EventPlayerChat  EventType = "player_chat"
	EventPlayerCount EventType = "player_count"
)

// Event represents an analytics event to be exported to external systems.
// Username, Message and Count are set only where the type warrants.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Server     string    `json:"server"`
	Username   string    `json:"username,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Message    string    `json:"message,omitempty"`
	Count      int       `json:"count"`
}

// Sink is a destination for analytics events (statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
