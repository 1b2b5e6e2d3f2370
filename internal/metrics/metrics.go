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

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"id"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of restart attempts.",
		}, []string{"id"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or emergency).",
		}, []string{"id"},
	)
	processHealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "health_score",
			Help:      "Current health score (0-100) per process.",
		}, []string{"id"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"id", "from", "to"},
	)
	systemRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "system",
			Name:      "running",
			Help:      "Whether the supervised system is running (1) or stopped (0).",
		},
	)
	watchdogPerformance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "performance_score",
			Help:      "Watchdog performance score (0-100).",
		},
	)
	watchdogStability = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "stability_score",
			Help:      "Watchdog stability score (0-100).",
		},
	)
	watchdogCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage percentage.",
		},
	)
	watchdogMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "memory_mb",
			Help:      "Last sampled memory usage in MB.",
		},
	)
	watchdogAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "alerts_total",
			Help:      "Number of watchdog alerts by type.",
		}, []string{"type"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processRestarts, processStops, processHealthScore,
		stateTransitions, systemRunning,
		watchdogPerformance, watchdogStability, watchdogCPUPercent,
		watchdogMemoryMB, watchdogAlerts,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
// DefaultGatherer. The caller wires the route and runs the server.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(id string) {
	if regOK.Load() {
		processStarts.WithLabelValues(id).Inc()
	}
}

func IncRestart(id string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(id).Inc()
	}
}

func IncStop(id string) {
	if regOK.Load() {
		processStops.WithLabelValues(id).Inc()
	}
}

func SetHealthScore(id string, score int) {
	if regOK.Load() {
		processHealthScore.WithLabelValues(id).Set(float64(score))
	}
}

func RecordStateTransition(id, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(id, from, to).Inc()
	}
}

func SetSystemRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1.0
		}
		systemRunning.Set(v)
	}
}

func SetWatchdogScores(performance, stability int) {
	if regOK.Load() {
		watchdogPerformance.Set(float64(performance))
		watchdogStability.Set(float64(stability))
	}
}

func SetWatchdogSample(cpuPercent, memoryMB float64) {
	if regOK.Load() {
		watchdogCPUPercent.Set(cpuPercent)
		watchdogMemoryMB.Set(memoryMB)
	}
}

func IncAlert(alertType string) {
	if regOK.Load() {
		watchdogAlerts.WithLabelValues(alertType).Inc()
	}
}
