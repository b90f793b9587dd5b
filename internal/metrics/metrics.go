package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcconsole",
			Subsystem: "instance",
			Name:      "starts_total",
			Help:      "Number of successful server instance starts.",
		}, []string{"name"},
	)
	instanceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcconsole",
			Subsystem: "instance",
			Name:      "restarts_total",
			Help:      "Number of restarts by reason (manual, crash, scheduled).",
		}, []string{"name", "reason"},
	)
	instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcconsole",
			Subsystem: "instance",
			Name:      "stops_total",
			Help:      "Number of instance stops (clean or crash).",
		}, []string{"name"},
	)
	consoleLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcconsole",
			Subsystem: "console",
			Name:      "lines_total",
			Help:      "Console output lines observed per instance.",
		}, []string{"name"},
	)
	consoleCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcconsole",
			Subsystem: "console",
			Name:      "commands_total",
			Help:      "Commands written to instance stdin by result (ok, unknown, timeout, failed).",
		}, []string{"name", "result"},
	)
	connectedPlayers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcconsole",
			Subsystem: "instance",
			Name:      "connected_players",
			Help:      "Currently connected players per instance.",
		}, []string{"name"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcconsole",
			Subsystem: "instance",
			Name:      "current_state",
			Help:      "Current state of instances (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{instanceStarts, instanceRestarts, instanceStops, consoleLines, consoleCommands, connectedPlayers, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		instanceStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, reason string) {
	if regOK.Load() {
		instanceRestarts.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		instanceStops.WithLabelValues(name).Inc()
	}
}

func IncConsoleLine(name string) {
	if regOK.Load() {
		consoleLines.WithLabelValues(name).Inc()
	}
}

func IncCommand(name, result string) {
	if regOK.Load() {
		consoleCommands.WithLabelValues(name, result).Inc()
	}
}

func SetConnectedPlayers(name string, n int) {
	if regOK.Load() {
		connectedPlayers.WithLabelValues(name).Set(float64(n))
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		currentStates.WithLabelValues(name, state).Set(v)
	}
}
