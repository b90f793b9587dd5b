package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/mcconsole/internal/config"
	"github.com/loykin/mcconsole/internal/console"
	"github.com/loykin/mcconsole/internal/env"
	"github.com/loykin/mcconsole/internal/events"
	"github.com/loykin/mcconsole/internal/logger"
	"github.com/loykin/mcconsole/internal/metrics"
	"github.com/loykin/mcconsole/internal/restart"
	"github.com/loykin/mcconsole/internal/scrollback"
)

var (
	// ErrArtifactNotFound means the server jar glob matched zero files.
	ErrArtifactNotFound = errors.New("server jar not found")
	// ErrCommandTimeout means a command's console response never arrived
	// within the configured window.
	ErrCommandTimeout = errors.New("command timed out waiting for console response")
	// ErrAlreadyRunning rejects a start request against a live subprocess.
	ErrAlreadyRunning = errors.New("server is already running")
)

// noChannelMessage is the structured-result text returned for commands
// issued against an instance whose subprocess was never started.
const noChannelMessage = "Server protocol is not present... has the server been started?"

// Exit codes that do not count as a crash. 3221225786 is STATUS_CONTROL_C_EXIT
// on Windows; a ctrl+c in the supervising terminal gets forwarded to the
// server process and should not trigger crash recovery.
var cleanExitCodes = map[int]bool{0: true, 3221225786: true}

// chatHistoryLimit bounds the per-session chat log.
const chatHistoryLimit = 1000

// State is the lifecycle phase of a supervised server.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
)

// ChatMessage is one chat line extracted from console output.
type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Recorder receives player activity extracted from console lines. The
// supervisor calls it inline with dispatch, so implementations must be
// quick or offload. A nil Recorder disables recording.
type Recorder interface {
	PlayerConnected(server, username, ip string)
	PlayerDisconnected(server, username string)
	PlayerChat(server, username, message string)
	PlayerCount(server string, count int, players []string)
	ServerStopped(server string)
}

// Options configures a new Instance.
type Options struct {
	Fanout     *events.Fanout
	Recorder   Recorder
	ExitNotify func(name string, exitCode int)
	Log        logger.Config
}

// Instance supervises one server subprocess: spawn, console multiplexing,
// command/response correlation, crash recovery, and scheduled restarts.
// The scrollback buffer persists across restarts of the same instance.
type Instance struct {
	name string
	dir  string

	buf       *scrollback.Buffer
	fanout    *events.Fanout
	env       *env.Env
	scheduler *restart.Scheduler
	recorder  Recorder
	exitFn    func(name string, exitCode int)
	logCfg    logger.Config
	log       *slog.Logger

	mu         sync.Mutex
	state      State
	cfg        *config.ServerConfig
	classifier console.Classifier
	channel    *console.Channel
	cmd        *exec.Cmd
	restarting bool
	players    []string
	chat       []ChatMessage
	consoleLog io.WriteCloser

	// cmdMu serializes in-flight commands: console output carries no
	// request id, so submission order is the only correlation available.
	cmdMu sync.Mutex
}

// New builds a stopped Instance for the server at dir.
func New(name, dir string, opts Options) *Instance {
	fanout := opts.Fanout
	if fanout == nil {
		fanout = events.NewFanout(0)
	}
	return &Instance{
		name:      name,
		dir:       dir,
		buf:       scrollback.New(0),
		fanout:    fanout,
		env:       env.New(),
		scheduler: restart.NewScheduler(),
		recorder:  opts.Recorder,
		exitFn:    opts.ExitNotify,
		logCfg:    opts.Log,
		log:       slog.Default().With("server", name),
		state:     StateStopped,
	}
}

func (i *Instance) Name() string { return i.name }

func (i *Instance) Dir() string { return i.dir }

// Scrollback exposes the console history buffer.
func (i *Instance) Scrollback() *scrollback.Buffer { return i.buf }

// Events exposes the structured event fanout.
func (i *Instance) Events() *events.Fanout { return i.fanout }

func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Running reports whether the subprocess is currently alive.
func (i *Instance) Running() bool {
	return i.State() == StateRunning
}

// Players returns the connected players in connection order.
func (i *Instance) Players() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.players))
	copy(out, i.players)
	return out
}

// Chat returns the chat history of the current session.
func (i *Instance) Chat() []ChatMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]ChatMessage, len(i.chat))
	copy(out, i.chat)
	return out
}

// ReloadConfig re-reads config.toml from the working directory and
// recompiles the console patterns. A running subprocess keeps its launch
// command; the new one applies on the next start.
func (i *Instance) ReloadConfig() error {
	cfg, err := config.LoadServer(i.dir)
	if err != nil {
		return err
	}
	cls, err := console.NewRegexClassifier(
		cfg.Minecraft.Console.PlayerConnected,
		cfg.Minecraft.Console.PlayerDisconnected,
		cfg.Minecraft.Console.PlayerChat,
	)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.cfg = cfg
	i.classifier = cls
	i.mu.Unlock()
	return nil
}

// AlertOffsets returns the restart policy's advance-warning offsets from
// the loaded configuration.
func (i *Instance) AlertOffsets() []time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cfg == nil {
		return nil
	}
	return i.cfg.Minecraft.Restarts.AlertOffsets()
}

// buildCommand resolves the launch command from config. The jar is located
// by glob inside the working directory; zero matches is fatal to start.
func (i *Instance) buildCommand(cfg *config.ServerConfig) (string, []string, error) {
	mc := cfg.Minecraft
	matches, err := filepath.Glob(filepath.Join(i.dir, mc.ServerJar))
	if err != nil {
		return "", nil, fmt.Errorf("server jar pattern %q: %w", mc.ServerJar, err)
	}
	if len(matches) == 0 {
		return "", nil, fmt.Errorf("%w: no file matches %q in %s", ErrArtifactNotFound, mc.ServerJar, i.dir)
	}

	args := make([]string, 0, len(mc.JVMArgs)+4)
	args = append(args, mc.JVMArgs...)
	args = append(args, "-Djline.terminal=jline.UnsupportedTerminal")
	args = append(args, "-jar", matches[0], "nogui")
	return mc.JavaPath, args, nil
}

// Start reloads configuration, clears per-session state, spawns the
// subprocess, and arms the policy restart schedule when enabled.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.state == StateRunning || i.state == StateStarting {
		i.mu.Unlock()
		return ErrAlreadyRunning
	}
	i.state = StateStarting
	i.mu.Unlock()
	metrics.SetCurrentState(i.name, string(StateStarting), true)

	err := i.startLocked(ctx)
	if err != nil {
		i.mu.Lock()
		i.state = StateStopped
		i.mu.Unlock()
		metrics.SetCurrentState(i.name, string(StateStarting), false)
		metrics.SetCurrentState(i.name, string(StateRunning), false)
		metrics.SetCurrentState(i.name, string(StateStopped), true)
	}
	return err
}

func (i *Instance) startLocked(ctx context.Context) error {
	if err := i.ReloadConfig(); err != nil {
		return err
	}

	i.mu.Lock()
	cfg := i.cfg
	i.players = nil
	i.chat = nil
	i.mu.Unlock()
	metrics.SetConnectedPlayers(i.name, 0)

	javaPath, args, err := i.buildCommand(cfg)
	if err != nil {
		i.log.Error("failed to build launch command", "error", err)
		return err
	}

	// the subprocess outlives the request that started it
	cmd := exec.Command(javaPath, args...)
	cmd.Dir = i.dir
	cmd.Env = i.env.Merge(cfg.Minecraft.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	ch := console.New(i.buf)
	if err := ch.Connect(stdin, stdout, stderr); err != nil {
		return err
	}
	ch.AddStreaming(i.onConsoleLine)

	i.log.Info("starting server", "cmd", javaPath+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn subprocess: %w", err)
	}

	i.mu.Lock()
	i.cmd = cmd
	i.channel = ch
	i.state = StateRunning
	if i.consoleLog == nil {
		i.consoleLog = i.logCfg.ConsoleWriter(i.name)
	}
	i.mu.Unlock()

	metrics.IncStart(i.name)
	metrics.SetCurrentState(i.name, string(StateStarting), false)
	metrics.SetCurrentState(i.name, string(StateStopped), false)
	metrics.SetCurrentState(i.name, string(StateRunning), true)

	go i.monitor(cmd, ch)

	policy := cfg.Minecraft.Restarts
	if policy.AutoRestart {
		delay := policy.RestartDelay()
		i.log.Info("automatic restarts enabled", "interval_hours", policy.RestartInterval)
		i.ScheduleRestart(delay, policy.AlertOffsets())
	}
	return nil
}

// monitor waits for the subprocess to exit and runs crash-recovery.
func (i *Instance) monitor(cmd *exec.Cmd, ch *console.Channel) {
	err := cmd.Wait()
	ch.MarkClosed()
	ch.WaitReaders()

	code := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}
	i.procClosed(code)
}

// procClosed transitions out of Running and decides between crash recovery
// and a terminal stop.
func (i *Instance) procClosed(exitCode int) {
	i.log.Info("server process closed", "exit_code", exitCode)

	i.mu.Lock()
	i.state = StateStopped
	i.channel = nil
	i.cmd = nil
	i.players = nil
	i.mu.Unlock()

	metrics.IncStop(i.name)
	metrics.SetConnectedPlayers(i.name, 0)
	metrics.SetCurrentState(i.name, string(StateRunning), false)
	metrics.SetCurrentState(i.name, string(StateStopped), true)

	if !cleanExitCodes[exitCode] {
		i.log.Warn("server exited with a non-zero exit code, it may have crashed, restarting the server")
		metrics.IncRestart(i.name, "crash")
		if err := i.Restart(context.Background()); err != nil {
			i.log.Error("crash recovery restart failed", "error", err)
		}
	} else {
		i.log.Info("server exited normally")
		i.scheduler.Cancel()
	}

	if i.recorder != nil {
		i.recorder.PlayerCount(i.name, 0, []string{})
		i.recorder.ServerStopped(i.name)
	}

	i.mu.Lock()
	terminal := !i.restarting && i.state != StateRunning
	i.mu.Unlock()
	if terminal {
		i.fanout.Publish(events.New(events.TypeServerStopped, map[string]any{
			"message": fmt.Sprintf("%s has stopped with exit code: %d", i.name, exitCode),
		}))
		i.closeConsoleLog()
		if i.exitFn != nil {
			i.exitFn(i.name, exitCode)
		}
	}
}

func (i *Instance) closeConsoleLog() {
	i.mu.Lock()
	w := i.consoleLog
	i.consoleLog = nil
	i.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// ServerInput writes a command to the subprocess stdin and waits for the
// next console line as its response. The returned flag is false when the
// response contains "unknown command" (case-insensitive). Commands against
// an instance with no bound channel return the structured no-channel
// message rather than an error.
func (i *Instance) ServerInput(ctx context.Context, command string) (bool, string, error) {
	i.cmdMu.Lock()
	defer i.cmdMu.Unlock()

	i.mu.Lock()
	ch := i.channel
	var timeout time.Duration
	if i.cfg != nil {
		timeout = i.cfg.Minecraft.CommandTimeout
	}
	i.mu.Unlock()
	if timeout <= 0 {
		timeout = config.DefaultCommandTimeout
	}

	if ch == nil {
		return false, noChannelMessage, nil
	}

	i.log.Info("sending input to server stdin", "command", command)
	wait := ch.Expect()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ch.Write(command); err != nil {
		// unblocks and unregisters the waiter
		cancel()
		_, _ = wait(waitCtx)
		metrics.IncCommand(i.name, "failed")
		return false, "", err
	}

	line, err := wait(waitCtx)
	if err != nil {
		metrics.IncCommand(i.name, "timeout")
		return false, "", fmt.Errorf("%w: %q", ErrCommandTimeout, command)
	}

	i.fanout.Publish(events.New(events.TypeServerInput, map[string]any{
		"message": command,
		"result":  line.Text,
	}))

	ok := !strings.Contains(strings.ToLower(line.Text), "unknown command")
	if ok {
		metrics.IncCommand(i.name, "ok")
	} else {
		metrics.IncCommand(i.name, "unknown")
	}
	return ok, line.Text, nil
}

// stopPollInterval and stopWait bound the restart sequence's wait for the
// subprocess to exit after the stop command.
const (
	stopPollInterval = time.Second
	stopWait         = 30 * time.Second
)

// Restart stops the subprocess and starts it again. If the instance is not
// running, Restart degrades to Start. A subprocess that ignores the stop
// command is killed once the bounded wait elapses.
func (i *Instance) Restart(ctx context.Context) error {
	i.fanout.Publish(events.New(events.TypeServerRestarting, map[string]any{
		"message": fmt.Sprintf("%s is being restarted.", i.name),
	}))

	i.mu.Lock()
	i.restarting = true
	running := i.state == StateRunning
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.restarting = false
		i.mu.Unlock()
	}()

	if !running {
		i.log.Info("server is not currently running, starting the server instead")
		return i.Start(ctx)
	}

	metrics.SetCurrentState(i.name, string(StateRestarting), true)
	defer metrics.SetCurrentState(i.name, string(StateRestarting), false)

	i.log.Info("restarting the server")
	if _, _, err := i.ServerInput(ctx, "stop"); err != nil {
		i.log.Warn("stop command failed during restart", "error", err)
	}

	if !i.waitStopped(ctx) {
		i.log.Warn("server did not stop in time, killing the subprocess")
		i.mu.Lock()
		cmd := i.cmd
		i.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if !i.waitStopped(ctx) {
			return errors.New("subprocess did not exit after kill")
		}
	}

	i.log.Info("server stopped, starting the server again")
	if err := i.Start(ctx); err != nil {
		return err
	}
	i.log.Info("server restarted successfully")
	return nil
}

// waitStopped polls until the subprocess is no longer running, bounded by
// stopWait. Returns false on timeout or ctx cancellation.
func (i *Instance) waitStopped(ctx context.Context) bool {
	deadline := time.Now().Add(stopWait)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		if i.State() != StateRunning {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return i.State() != StateRunning
		}
	}
}

// ScheduleRestart arms a restart after delay with advance warnings at the
// given offsets before it. A previously pending cycle is cancelled.
func (i *Instance) ScheduleRestart(delay time.Duration, offsets []time.Duration) {
	i.scheduler.Schedule(delay, offsets,
		func(offset time.Duration) { i.sendRestartReminder(offset) },
		func() {
			metrics.IncRestart(i.name, "scheduled")
			if err := i.Restart(context.Background()); err != nil {
				i.log.Error("scheduled restart failed", "error", err)
			}
		},
	)
}

// CancelScheduledRestart drops any pending restart cycle.
func (i *Instance) CancelScheduledRestart() { i.scheduler.Cancel() }

// PendingRestartTimers reports how many restart/reminder timers are armed.
func (i *Instance) PendingRestartTimers() int { return i.scheduler.Pending() }

func (i *Instance) sendRestartReminder(offset time.Duration) {
	msg := "say WARNING: PLANNED SERVER RESTART IN " + restart.FormatDuration(int(offset.Seconds()))
	if _, _, err := i.ServerInput(context.Background(), msg); err != nil {
		i.log.Warn("restart reminder failed", "error", err)
	}
}

// onConsoleLine is the streaming consumer bound to every spawned channel.
// It mirrors the line to the rotated console log, publishes a serverOutput
// event, and extracts player activity.
func (i *Instance) onConsoleLine(line scrollback.Line) {
	metrics.IncConsoleLine(i.name)

	i.mu.Lock()
	w := i.consoleLog
	cls := i.classifier
	i.mu.Unlock()
	if w != nil {
		_, _ = io.WriteString(w, line.Text+"\n")
	}

	i.fanout.Publish(events.New(events.TypeServerOutput, map[string]any{
		"message": line.Text,
	}))

	if cls == nil {
		return
	}
	c := cls.Classify(line.Text)
	switch c.Kind {
	case console.KindChat:
		i.mu.Lock()
		i.chat = append(i.chat, ChatMessage{Username: c.Username, Message: c.Message})
		if len(i.chat) > chatHistoryLimit {
			i.chat = i.chat[len(i.chat)-chatHistoryLimit:]
		}
		i.mu.Unlock()
		i.fanout.Publish(events.New(events.TypePlayerChat, map[string]any{
			"message":  c.Message,
			"username": c.Username,
		}))
		if i.recorder != nil {
			i.recorder.PlayerChat(i.name, c.Username, c.Message)
		}

	case console.KindConnect:
		i.log.Info("player connected", "username", c.Username, "ip", c.IP)
		i.mu.Lock()
		if !containsPlayer(i.players, c.Username) {
			i.players = append(i.players, c.Username)
		}
		players := append([]string(nil), i.players...)
		i.mu.Unlock()
		metrics.SetConnectedPlayers(i.name, len(players))
		i.fanout.Publish(events.New(events.TypePlayerList, map[string]any{
			"players": players,
		}))
		if i.recorder != nil {
			i.recorder.PlayerConnected(i.name, c.Username, c.IP)
			i.recorder.PlayerCount(i.name, len(players), players)
		}

	case console.KindDisconnect:
		i.log.Info("player disconnected", "username", c.Username, "reason", c.Reason)
		i.mu.Lock()
		i.players = removePlayer(i.players, c.Username)
		players := append([]string(nil), i.players...)
		i.mu.Unlock()
		metrics.SetConnectedPlayers(i.name, len(players))
		i.fanout.Publish(events.New(events.TypePlayerList, map[string]any{
			"players": players,
		}))
		if i.recorder != nil {
			i.recorder.PlayerDisconnected(i.name, c.Username)
			i.recorder.PlayerCount(i.name, len(players), players)
		}
	}
}

func containsPlayer(players []string, name string) bool {
	for _, p := range players {
		if p == name {
			return true
		}
	}
	return false
}

func removePlayer(players []string, name string) []string {
	for idx, p := range players {
		if p == name {
			return append(players[:idx], players[idx+1:]...)
		}
	}
	return players
}
