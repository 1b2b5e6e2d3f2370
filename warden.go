package warden

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/event"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/history/factory"
	"github.com/loykin/warden/internal/manager"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/process"
	iapi "github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/watchdog"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = process.Config

type Criticality = process.Criticality

const (
	CriticalityHigh   = process.CriticalityHigh
	CriticalityMedium = process.CriticalityMedium
	CriticalityLow    = process.CriticalityLow
)

type State = process.State

type Options = manager.Options

type WatchdogOptions = watchdog.Options

type Result = manager.Result

type Notification = manager.Notification

type Listener = manager.Listener

type SystemStatus = manager.SystemStatus

type SystemMetrics = manager.SystemMetrics

type Report = watchdog.Report

type HistorySink = history.Sink

type Event = event.Event

type EventType = event.Type

// Supervisor wires a process manager and a watchdog to a shared event bus
// and owns their single lifetime. Hosts construct one instance and pass it
// around explicitly; there is no package-level singleton.
type Supervisor struct {
	bus *event.Bus
	mgr *manager.Manager
	wd  *watchdog.Watchdog
}

// New creates a Supervisor with a fresh event bus.
func New(opts Options, wopts WatchdogOptions) (*Supervisor, error) {
	bus := event.NewBus()
	mgr := manager.NewManager(bus, opts)
	wd, err := watchdog.New(bus, wopts)
	if err != nil {
		return nil, err
	}
	return &Supervisor{bus: bus, mgr: mgr, wd: wd}, nil
}

// Register adds a process definition. Must happen before Start.
func (s *Supervisor) Register(c Config) error { return s.mgr.Register(c) }

// Start starts the supervised system and the watchdog loop.
func (s *Supervisor) Start(ctx context.Context) Result {
	res := s.mgr.StartSystem(ctx)
	if res.Success {
		s.wd.Start(ctx)
	}
	return res
}

// Stop stops the watchdog loop and the supervised system.
func (s *Supervisor) Stop(ctx context.Context) Result {
	s.wd.Stop()
	return s.mgr.StopSystem(ctx)
}

func (s *Supervisor) Status() SystemStatus   { return s.mgr.Status() }
func (s *Supervisor) Metrics() SystemMetrics { return s.mgr.Metrics() }
func (s *Supervisor) Report() Report         { return s.wd.GenerateReport() }

// AddListener registers a host notification listener for lifecycle
// notices (process:started, system:stable, ...).
func (s *Supervisor) AddListener(l Listener) { s.mgr.AddListener(l) }

// Subscribe registers a handler for bus events of the given type.
func (s *Supervisor) Subscribe(t EventType, h func(Event)) {
	s.bus.Subscribe(t, h)
}

// SetHistorySinks configures audit sinks. Lifecycle notifications and
// watchdog alerts are exported to every sink, best-effort; a later call
// replaces the sink list for both export paths.
func (s *Supervisor) SetHistorySinks(sinks ...HistorySink) {
	s.mgr.SetHistorySinks(sinks...)
}

// WatchSignals installs SIGINT/SIGTERM handlers that drive a graceful
// system stop, bounded by timeout, before the host exits.
func (s *Supervisor) WatchSignals(timeout time.Duration) func() {
	return s.mgr.WatchSignals(timeout)
}

// NewHistorySink creates an audit sink from a DSN (sqlite, postgres or
// clickhouse).
func NewHistorySink(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// LoadConfig reads a daemon TOML config file.
func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the supervision API.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.mgr, s.wd)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it
// runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
