package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// APIKey is a named credential for the HTTP API. Exactly one admin key is
// expected per deployment; only it may mint new keys.
type APIKey struct {
	Name      string    `json:"name"`
	Key       string    `json:"-"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one player's presence window on a server. DisconnectedAt is
// zero while the session is still open.
type Session struct {
	ID             int64     `json:"id"`
	Server         string    `json:"server"`
	Username       string    `json:"username"`
	IP             string    `json:"ip,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
	DisconnectedAt time.Time `json:"disconnected_at,omitempty"`
}

// CountSample is a point-in-time player count for a server.
type CountSample struct {
	Server  string    `json:"server"`
	Count   int       `json:"count"`
	Players []string  `json:"players"`
	At      time.Time `json:"at"`
}

// SessionQuery filters Sessions. Zero fields are ignored.
type SessionQuery struct {
	Server   string
	Username string
	From     time.Time
	To       time.Time
}

// Store persists API keys and player analytics. Implementations must be
// safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error

	AddAPIKey(ctx context.Context, name, key string, admin bool) error
	HasAPIKey(ctx context.Context, key string) (bool, error)
	IsAdminKey(ctx context.Context, key string) (bool, error)
	KeyName(ctx context.Context, key string) (string, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, name string) error

	OpenSession(ctx context.Context, server, username, ip string, at time.Time) error
	CloseSession(ctx context.Context, server, username string, at time.Time) error
	// CloseOpenSessions closes every open session on the server; used when
	// the subprocess stops and per-player disconnect lines never arrive.
	CloseOpenSessions(ctx context.Context, server string, at time.Time) error
	Sessions(ctx context.Context, q SessionQuery) ([]Session, error)

	RecordPlayerCount(ctx context.Context, sample CountSample) error
	PlayerCounts(ctx context.Context, server string, from, to time.Time) ([]CountSample, error)

	Close() error
}
