package client

import "time"

// ServerStatus is a snapshot of one supervised server.
type ServerStatus struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	State     string   `json:"state"`
	Players   []string `json:"players"`
	Autostart bool     `json:"autostart"`
}

// ConsoleLine is one line of console scrollback.
type ConsoleLine struct {
	Text      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// InputResult is the structured outcome of a console command. Success is
// false when the server did not recognize the command.
type InputResult struct {
	Success bool   `json:"success"`
	Line    string `json:"line"`
}

// ChatMessage is one chat line extracted from console output.
type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// APIKey describes a provisioned API key (the secret itself is only
// returned at generation time).
type APIKey struct {
	Name      string    `json:"name"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
