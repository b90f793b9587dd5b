package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/mcconsole/internal/config"
	"github.com/loykin/mcconsole/internal/history"
	"github.com/loykin/mcconsole/internal/instance"
	"github.com/loykin/mcconsole/internal/logger"
	"github.com/loykin/mcconsole/internal/store"
)

// ErrUnknownInstance means the server name is not in the configuration.
var ErrUnknownInstance = errors.New("unknown server")

// recorderTimeout bounds each store/sink write made from console dispatch.
const recorderTimeout = 5 * time.Second

// stopWait bounds how long Stop waits for the subprocess to exit.
const stopWait = 30 * time.Second

// Status is a snapshot of one supervised server.
type Status struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	State     string   `json:"state"`
	Players   []string `json:"players"`
	Autostart bool     `json:"autostart"`
}

// Manager owns the set of supervised server instances. Instances are
// created lazily on the first start request and dropped when their
// subprocess is gone for good.
type Manager struct {
	cfg    *config.Config
	store  store.Store
	sinks  []history.Sink
	logCfg logger.Config
	log    *slog.Logger

	mu        sync.Mutex
	instances map[string]*instance.Instance
}

// New builds a Manager. store and sinks may be nil/empty; player activity
// recording degrades to a no-op for the missing pieces.
func New(cfg *config.Config, st store.Store, sinks []history.Sink) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		sinks:     sinks,
		logCfg:    logger.Config{Dir: cfg.General.LogDir},
		log:       slog.Default().With("component", "manager"),
		instances: make(map[string]*instance.Instance),
	}
}

// Get returns the live instance for name, if one exists.
func (m *Manager) Get(name string) (*instance.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	return inst, ok
}

// Start spawns the named server. The instance is created on first use.
func (m *Manager) Start(ctx context.Context, name string) error {
	entry, ok := m.cfg.Server(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}

	m.mu.Lock()
	inst, ok := m.instances[name]
	if !ok {
		inst = instance.New(entry.Name, entry.Path, instance.Options{
			Recorder:   &recorder{m: m},
			ExitNotify: m.serverGone,
			Log:        m.logCfg,
		})
		m.instances[name] = inst
	}
	m.mu.Unlock()

	if err := inst.Start(ctx); err != nil {
		return err
	}
	m.sendSink(history.Event{
		Type:       history.EventServerStart,
		OccurredAt: time.Now().UTC(),
		Server:     name,
	})
	return nil
}

// Stop sends the stop command and waits for the subprocess to exit. The
// instance is removed from the registry once it is down.
func (m *Manager) Stop(ctx context.Context, name string) error {
	inst, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}

	inst.CancelScheduledRestart()
	if inst.Running() {
		if _, _, err := inst.ServerInput(ctx, "stop"); err != nil {
			m.log.Warn("stop command failed", "server", name, "error", err)
		}
		deadline := time.Now().Add(stopWait)
		for inst.Running() && time.Now().Before(deadline) {
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if inst.Running() {
			return fmt.Errorf("server %s did not stop within %s", name, stopWait)
		}
	}

	m.remove(name)
	return nil
}

// Restart restarts the named server immediately.
func (m *Manager) Restart(ctx context.Context, name string) error {
	inst, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}
	return inst.Restart(ctx)
}

// ScheduleRestart arms a delayed restart with advance warnings.
func (m *Manager) ScheduleRestart(name string, delay time.Duration, offsets []time.Duration) error {
	inst, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}
	if delay <= 0 {
		return errors.New("restart delay must be positive")
	}
	inst.ScheduleRestart(delay, offsets)
	return nil
}

// List returns a status snapshot for every configured server, running or
// not.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.cfg.Servers))
	for _, entry := range m.cfg.Servers {
		st := Status{
			Name:      entry.Name,
			Path:      entry.Path,
			State:     string(instance.StateStopped),
			Players:   []string{},
			Autostart: entry.Autostart,
		}
		if inst, ok := m.instances[entry.Name]; ok {
			st.State = string(inst.State())
			st.Players = inst.Players()
		}
		out = append(out, st)
	}
	return out
}

// StartAutostart starts every server flagged autostart. Failures are
// logged and do not stop the remaining servers.
func (m *Manager) StartAutostart(ctx context.Context) {
	for _, entry := range m.cfg.Servers {
		if !entry.Autostart {
			continue
		}
		if err := m.Start(ctx, entry.Name); err != nil {
			m.log.Error("autostart failed", "server", entry.Name, "error", err)
		}
	}
}

// StopAll stops every live instance; used on daemon shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		if err := m.Stop(ctx, name); err != nil {
			m.log.Error("shutdown stop failed", "server", name, "error", err)
		}
	}
}

// ReloadConfig re-reads the daemon configuration file.
func (m *Manager) ReloadConfig() error {
	return m.cfg.Reload()
}

// ReloadServerConfig re-reads one server's config.toml. Launch-command
// changes apply on the next start.
func (m *Manager) ReloadServerConfig(name string) error {
	inst, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}
	return inst.ReloadConfig()
}

// serverGone is the exit notification target: the subprocess stopped for
// good (clean exit, no restart pending).
func (m *Manager) serverGone(name string, exitCode int) {
	m.log.Info("server has stopped", "server", name, "exit_code", exitCode)
	m.sendSink(history.Event{
		Type:       history.EventServerStop,
		OccurredAt: time.Now().UTC(),
		Server:     name,
		Count:      exitCode,
	})
	m.remove(name)
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	delete(m.instances, name)
	m.mu.Unlock()
}

func (m *Manager) sendSink(e history.Event) {
	if len(m.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
	defer cancel()
	for _, s := range m.sinks {
		if err := s.Send(ctx, e); err != nil {
			m.log.Warn("analytics sink send failed", "error", err)
		}
	}
}

// recorder adapts the manager's store and sinks to the supervisor's
// player-activity hooks.
type recorder struct {
	m *Manager
}

func (r *recorder) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), recorderTimeout)
}

func (r *recorder) PlayerConnected(server, username, ip string) {
	if r.m.store != nil {
		ctx, cancel := r.ctx()
		defer cancel()
		if err := r.m.store.OpenSession(ctx, server, username, ip, time.Now().UTC()); err != nil {
			r.m.log.Warn("failed to open player session", "server", server, "username", username, "error", err)
		}
	}
	r.m.sendSink(history.Event{
		Type:       history.EventPlayerJoin,
		OccurredAt: time.Now().UTC(),
		Server:     server,
		Username:   username,
		IP:         ip,
	})
}

func (r *recorder) PlayerDisconnected(server, username string) {
	if r.m.store != nil {
		ctx, cancel := r.ctx()
		defer cancel()
		if err := r.m.store.CloseSession(ctx, server, username, time.Now().UTC()); err != nil {
			r.m.log.Warn("failed to close player session", "server", server, "username", username, "error", err)
		}
	}
	r.m.sendSink(history.Event{
		Type:       history.EventPlayerLeave,
		OccurredAt: time.Now().UTC(),
		Server:     server,
		Username:   username,
	})
}

func (r *recorder) PlayerChat(server, username, message string) {
	r.m.sendSink(history.Event{
		Type:       history.EventPlayerChat,
		OccurredAt: time.Now().UTC(),
		Server:     server,
		Username:   username,
		Message:    message,
	})
}

func (r *recorder) PlayerCount(server string, count int, players []string) {
	if r.m.store != nil {
		ctx, cancel := r.ctx()
		defer cancel()
		err := r.m.store.RecordPlayerCount(ctx, store.CountSample{
			Server:  server,
			Count:   count,
			Players: players,
			At:      time.Now().UTC(),
		})
		if err != nil {
			r.m.log.Warn("failed to record player count", "server", server, "error", err)
		}
	}
	r.m.sendSink(history.Event{
		Type:       history.EventPlayerCount,
		OccurredAt: time.Now().UTC(),
		Server:     server,
		Count:      count,
	})
}

func (r *recorder) ServerStopped(server string) {
	if r.m.store == nil {
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.m.store.CloseOpenSessions(ctx, server, time.Now().UTC()); err != nil {
		r.m.log.Warn("failed to close open sessions", "server", server, "error", err)
	}
}
