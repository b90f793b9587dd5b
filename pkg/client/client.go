package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to a running mcconsole daemon over its HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Config holds client configuration. APIKey is sent as the x-api-key
// header on every request; leave it empty against a daemon running with
// authentication disabled.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS settings for HTTPS daemons.
type TLSClientConfig struct {
	CACert     string // CA certificate file, e.g. the daemon's tls_ca.crt
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns a configuration for a local daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 30 * time.Second,
	}
}

// New creates an API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := &http.Transport{}
	if cfg.TLS != nil || cfg.Insecure {
		tlsCfg, err := clientTLS(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}, nil
}

func clientTLS(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.Insecure {
		tlsCfg.InsecureSkipVerify = true
		return tlsCfg, nil
	}
	if cfg.TLS.SkipVerify {
		tlsCfg.InsecureSkipVerify = true
	}
	if cfg.TLS.ServerName != "" {
		tlsCfg.ServerName = cfg.TLS.ServerName
	}
	if cfg.TLS.CACert != "" {
		pem, err := os.ReadFile(cfg.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate %s", cfg.TLS.CACert)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// Servers lists all configured servers and their states.
func (c *Client) Servers(ctx context.Context) ([]ServerStatus, error) {
	var out []ServerStatus
	if err := c.do(ctx, http.MethodGet, "/servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start starts the named server.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/servers/"+url.PathEscape(name)+"/start", nil, nil)
}

// Stop stops the named server.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/servers/"+url.PathEscape(name)+"/stop", nil, nil)
}

// Restart restarts the named server immediately.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/servers/"+url.PathEscape(name)+"/restart", nil, nil)
}

// ScheduleRestart schedules a restart after the given number of seconds.
// Players receive advance warnings per the server's restart policy.
func (c *Client) ScheduleRestart(ctx context.Context, name string, delaySeconds int) error {
	path := "/servers/" + url.PathEscape(name) + "/restart?delay=" + strconv.Itoa(delaySeconds)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Input sends a console command and returns the correlated response line.
func (c *Client) Input(ctx context.Context, name, command string) (InputResult, error) {
	var out InputResult
	body := map[string]string{"command": command}
	err := c.do(ctx, http.MethodPost, "/servers/"+url.PathEscape(name)+"/input", body, &out)
	return out, err
}

// Output returns the most recent console lines; lines <= 0 fetches the
// whole retained scrollback window.
func (c *Client) Output(ctx context.Context, name string, lines int) ([]ConsoleLine, error) {
	path := "/servers/" + url.PathEscape(name) + "/output"
	if lines > 0 {
		path += "?lines=" + strconv.Itoa(lines)
	}
	var out struct {
		Lines []ConsoleLine `json:"lines"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// Players returns the currently connected players.
func (c *Client) Players(ctx context.Context, name string) ([]string, error) {
	var out struct {
		Players []string `json:"players"`
	}
	if err := c.do(ctx, http.MethodGet, "/servers/"+url.PathEscape(name)+"/players", nil, &out); err != nil {
		return nil, err
	}
	return out.Players, nil
}

// Chat returns the chat history of the current session.
func (c *Client) Chat(ctx context.Context, name string) ([]ChatMessage, error) {
	var out struct {
		Chat []ChatMessage `json:"chat"`
	}
	if err := c.do(ctx, http.MethodGet, "/servers/"+url.PathEscape(name)+"/chat", nil, &out); err != nil {
		return nil, err
	}
	return out.Chat, nil
}

// GenerateAPIKey mints a new API key (requires an admin key).
func (c *Client) GenerateAPIKey(ctx context.Context, name string, admin bool) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	body := map[string]any{"name": name, "admin": admin}
	if err := c.do(ctx, http.MethodPost, "/gen_api_key", body, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// APIKeys lists provisioned keys (requires an admin key).
func (c *Client) APIKeys(ctx context.Context) ([]APIKey, error) {
	var out struct {
		Keys []APIKey `json:"keys"`
	}
	if err := c.do(ctx, http.MethodGet, "/api_keys", nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// do issues a request and decodes the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("api error: %s", apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
