package mcconsole

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/mcconsole/internal/auth"
	cfg "github.com/loykin/mcconsole/internal/config"
	"github.com/loykin/mcconsole/internal/history"
	hfactory "github.com/loykin/mcconsole/internal/history/factory"
	"github.com/loykin/mcconsole/internal/manager"
	"github.com/loykin/mcconsole/internal/metrics"
	iapi "github.com/loykin/mcconsole/internal/server"
	"github.com/loykin/mcconsole/internal/store"
	sfactory "github.com/loykin/mcconsole/internal/store/factory"
	itls "github.com/loykin/mcconsole/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ServerConfig = cfg.ServerConfig

type SinkConfig = cfg.SinkConfig

type ServerStatus = manager.Status

type Store = store.Store

type HistorySink = history.Sink

type AuthService = auth.Service

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.

type Manager struct{ inner *manager.Manager }

// NewManager builds a server manager. st and sinks may be nil; player
// activity recording degrades to a no-op for the missing pieces.
func NewManager(c *Config, st Store, sinks []HistorySink) *Manager {
	return &Manager{inner: manager.New(c, st, sinks)}
}

func (m *Manager) Start(ctx context.Context, name string) error { return m.inner.Start(ctx, name) }
func (m *Manager) Stop(ctx context.Context, name string) error  { return m.inner.Stop(ctx, name) }
func (m *Manager) Restart(ctx context.Context, name string) error {
	return m.inner.Restart(ctx, name)
}
func (m *Manager) ScheduleRestart(name string, delay time.Duration, offsets []time.Duration) error {
	return m.inner.ScheduleRestart(name, delay, offsets)
}
func (m *Manager) List() []ServerStatus               { return m.inner.List() }
func (m *Manager) StartAutostart(ctx context.Context) { m.inner.StartAutostart(ctx) }
func (m *Manager) StopAll(ctx context.Context)        { m.inner.StopAll(ctx) }
func (m *Manager) ReloadConfig() error                { return m.inner.ReloadConfig() }

// ServerInput sends a console command to the named server and waits for the
// correlated response line.
func (m *Manager) ServerInput(ctx context.Context, name, command string) (bool, string, error) {
	inst, ok := m.inner.Get(name)
	if !ok {
		return false, "", manager.ErrUnknownInstance
	}
	return inst.ServerInput(ctx, command)
}

// Players returns the connected players of the named server.
func (m *Manager) Players(name string) ([]string, error) {
	inst, ok := m.inner.Get(name)
	if !ok {
		return nil, manager.ErrUnknownInstance
	}
	return inst.Players(), nil
}

// LoadConfig reads the daemon configuration file.
func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// LoadServerConfig reads a server's config.toml from its working directory.
func LoadServerConfig(dir string) (*ServerConfig, error) {
	return cfg.LoadServer(dir)
}

// OpenStore opens the persistence backend. driver is "sqlite" or
// "postgres"; an empty driver defaults to sqlite.
func OpenStore(driver, dsn string) (Store, error) {
	return sfactory.Open(driver, dsn)
}

// NewAuthService builds an API key service over the store.
func NewAuthService(st Store) *AuthService { return auth.NewService(st) }

// NewHistorySinks builds the configured analytics sinks.
func NewHistorySinks(entries []SinkConfig) ([]HistorySink, error) {
	return hfactory.NewSinks(entries)
}

// NewAPIHandler returns the HTTP API as an http.Handler for mounting in an
// existing server or mux. authEnabled=false disables API key checks.
func NewAPIHandler(m *Manager, st Store, authSvc *AuthService, authEnabled bool, basePath string) http.Handler {
	return iapi.NewRouter(m.inner, st, authSvc, authEnabled, basePath).Handler()
}

// NewHTTPServer starts an HTTP server on addr exposing the API.
func NewHTTPServer(addr, basePath string, m *Manager, st Store, authSvc *AuthService, authEnabled bool) *http.Server {
	r := iapi.NewRouter(m.inner, st, authSvc, authEnabled, basePath)
	return iapi.NewServer(addr, r, nil)
}

// NewHTTPSServer starts an HTTPS server on addr using the given TLS
// configuration (see SetupTLS).
func NewHTTPSServer(addr, basePath string, m *Manager, st Store, authSvc *AuthService, authEnabled bool, tlsCfg *tls.Config) *http.Server {
	r := iapi.NewRouter(m.inner, st, authSvc, authEnabled, basePath)
	return iapi.NewServer(addr, r, tlsCfg)
}

// SetupTLS builds a listener TLS configuration from the daemon config,
// generating a self-signed certificate when so configured.
func SetupTLS(c *Config) (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}
	return itls.Setup(c.TLS)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler exposes the Prometheus registry for mounting at /metrics.
func MetricsHandler() http.Handler { return metrics.Handler() }
