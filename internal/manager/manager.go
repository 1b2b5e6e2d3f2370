package manager

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/loykin/warden/internal/event"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/process"
)

// Options tunes supervisor behavior. Zero values take the documented
// defaults.
type Options struct {
	HealthInterval     time.Duration // recurring health sweep, default 5m
	StabilityWindow    time.Duration // one-shot stability timer, default 30m
	StartupDelay       time.Duration // default pause between process starts, 1s
	RestartCooldown    time.Duration // fixed pause before a restart retry, 2s
	ProbeAttempts      int           // initial health check attempts, default 3
	ProbeInterval      time.Duration // pause between failed initial probes, 1s
	UnhealthyThreshold int           // health score below this is unhealthy, default 50
}

func (o *Options) normalize() {
	if o.HealthInterval <= 0 {
		o.HealthInterval = 5 * time.Minute
	}
	if o.StabilityWindow <= 0 {
		o.StabilityWindow = 30 * time.Minute
	}
	if o.StartupDelay <= 0 {
		o.StartupDelay = time.Second
	}
	if o.RestartCooldown <= 0 {
		o.RestartCooldown = 2 * time.Second
	}
	if o.ProbeAttempts <= 0 {
		o.ProbeAttempts = 3
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = time.Second
	}
	if o.UnhealthyThreshold <= 0 {
		o.UnhealthyThreshold = 50
	}
}

// Manager supervises a fixed set of registered units: dependency-ordered
// startup and shutdown, bounded auto-restart, periodic health checks and a
// one-shot stability declaration. It talks to the watchdog only through
// the event bus.
//
// Configs are immutable caller intent; states are runtime-owned and only
// ever mutated here and by the health checker.
type Manager struct {
	mu        sync.RWMutex
	bus       *event.Bus
	opts      Options
	configs   map[string]*process.Config
	states    map[string]*process.State
	regOrder  []string // registration order, keeps start order deterministic
	order     []string // start order computed by the last StartSystem
	running   bool
	startedAt time.Time
	lastStab  time.Time

	health    *healthChecker
	stability *stabilityMonitor
	listeners []Listener
	sinks     []history.Sink
}

// NewManager creates a Manager publishing on bus.
func NewManager(bus *event.Bus, opts Options) *Manager {
	opts.normalize()
	m := &Manager{
		bus:     bus,
		opts:    opts,
		configs: make(map[string]*process.Config),
		states:  make(map[string]*process.State),
	}
	m.health = newHealthChecker(m)
	m.stability = newStabilityMonitor(m)
	bus.Subscribe(event.TypeWatchdogAlert, m.onAlert)
	return m
}

// Register inserts a config and its initial stopped state. Dependency ids
// are not checked for existence here; a missing dependency fails the start
// instead.
func (m *Manager) Register(cfg process.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if _, exists := m.configs[cfg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("process %q already registered", cfg.ID)
	}
	m.configs[cfg.ID] = &cfg
	m.states[cfg.ID] = process.NewState()
	m.regOrder = append(m.regOrder, cfg.ID)
	m.mu.Unlock()

	slog.Debug("registered process", "id", cfg.ID, "name", cfg.DisplayName())
	m.notify(NotifyProcessRegistered, cfg.ID, cfg.DisplayName())
	return nil
}

// IsRunning reports whether the system is currently started.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// StartSystem computes a dependency-respecting start order and starts
// every registered process. A high-criticality start failure triggers an
// emergency shutdown and a failure result; other failures are collected as
// warnings. Per-process failures never propagate as errors from this call.
func (m *Manager) StartSystem(ctx context.Context) Result {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Result{Success: false, Message: "ALREADY_RUNNING"}
	}
	m.running = true
	m.startedAt = time.Now()
	m.mu.Unlock()

	order, err := m.computeStartOrder()
	if err != nil {
		// Broken configuration surfaced before anything started; tear down
		// whatever may be left from a previous life and report failure.
		m.emergencyShutdown(ctx, err.Error())
		return Result{Success: false, Message: "startup failed", Errors: []string{err.Error()}}
	}
	m.mu.Lock()
	m.order = order
	m.mu.Unlock()

	slog.Info("starting system", "processes", len(order))
	var warnings []string
	for i, id := range order {
		if err := m.startProcess(ctx, id); err != nil {
			cfg := m.config(id)
			if cfg != nil && cfg.Criticality == process.CriticalityHigh {
				slog.Error("critical process failed to start", "id", id, "error", err)
				m.emergencyShutdown(ctx, fmt.Sprintf("critical process %s failed: %v", id, err))
				return Result{
					Success:  false,
					Message:  fmt.Sprintf("critical process %s failed to start", id),
					Errors:   []string{err.Error()},
					Warnings: warnings,
				}
			}
			slog.Warn("process failed to start", "id", id, "error", err)
			warnings = append(warnings, fmt.Sprintf("%s: %v", id, err))
		}
		// The pause applies between consecutive starts whether or not this
		// one succeeded.
		if i < len(order)-1 {
			delay := m.opts.StartupDelay
			if cfg := m.config(id); cfg != nil && cfg.StartupDelay > 0 {
				delay = cfg.StartupDelay
			}
			sleepCtx(ctx, delay)
		}
	}

	m.health.start()
	m.stability.arm()
	metrics.SetSystemRunning(true)
	m.publishStatus(event.TypeSystemHealthy)
	m.notify(NotifySystemStarted, "", fmt.Sprintf("%d of %d processes running", m.runningCount(), m.totalCount()))
	slog.Info("system started", "running", m.runningCount(), "warnings", len(warnings))

	return Result{Success: true, Message: "system started", Warnings: warnings}
}

// StopSystem disarms the timers and stops processes in the reverse of the
// computed start order, continuing past individual failures.
func (m *Manager) StopSystem(ctx context.Context) Result {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return Result{Success: false, Message: "NOT_RUNNING"}
	}
	m.running = false
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	m.stability.clear()
	m.health.stop()
	m.publishStatus(event.TypeSystemDegraded)

	slog.Info("stopping system", "processes", len(order))
	var errs []string
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.stopProcess(ctx, order[i]); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", order[i], err))
		}
	}

	metrics.SetSystemRunning(false)
	m.notify(NotifySystemStopped, "", "system stopped")
	if len(errs) > 0 {
		return Result{Success: false, Message: "system stopped with errors", Errors: errs}
	}
	return Result{Success: true, Message: "system stopped"}
}

// emergencyShutdown best-effort stops every process that made it past
// stopped, ignoring individual stop failures. Processes already in error
// keep their error status.
func (m *Manager) emergencyShutdown(ctx context.Context, reason string) {
	slog.Error("emergency shutdown", "reason", reason)
	m.stability.clear()
	m.health.stop()

	m.mu.Lock()
	m.running = false
	var toStop []string
	for _, id := range m.regOrder {
		st := m.states[id]
		if st.Status == process.StatusRunning || st.Status == process.StatusStarting {
			toStop = append(toStop, id)
		}
	}
	m.mu.Unlock()

	for i := len(toStop) - 1; i >= 0; i-- {
		_ = m.stopProcess(ctx, toStop[i])
	}
	metrics.SetSystemRunning(false)
	m.publishStatus(event.TypeSystemError)
	m.notify(NotifySystemEmergency, "", reason)
}

// startProcess runs one unit through starting -> initial health check ->
// running. Already running is a no-op; a failure at any step ends in error
// status and, when permitted, an immediate restart attempt.
func (m *Manager) startProcess(ctx context.Context, id string) error {
	cfg, st := m.entry(id)
	if cfg == nil {
		return fmt.Errorf("unknown process: %s", id)
	}

	m.mu.RLock()
	if st.Status == process.StatusRunning {
		m.mu.RUnlock()
		return nil
	}
	for _, dep := range cfg.DependsOn {
		depState, ok := m.states[dep]
		if !ok {
			m.mu.RUnlock()
			return m.failStart(ctx, cfg, st, fmt.Errorf("dependency %q is not registered", dep))
		}
		if depState.Status != process.StatusRunning {
			m.mu.RUnlock()
			return m.failStart(ctx, cfg, st,
				fmt.Errorf("dependency %q is not running (status %s)", dep, depState.Status))
		}
	}
	m.mu.RUnlock()

	m.setStatus(id, process.StatusStarting)
	slog.Debug("starting process", "id", id)

	err := safeCall(ctx, cfg.Start)
	if err == nil {
		// The start action succeeding is not enough; the unit must also
		// answer its probe.
		err = m.health.initialCheck(ctx, cfg)
	}
	if err != nil {
		return m.failStart(ctx, cfg, st, err)
	}

	now := time.Now()
	m.mu.Lock()
	st.StartedAt = now
	st.HealthScore = process.InitialHealthScore
	m.mu.Unlock()
	m.setStatus(id, process.StatusRunning)

	metrics.IncStart(id)
	metrics.SetHealthScore(id, process.InitialHealthScore)
	m.bus.Publish(event.Event{
		Type:   event.TypeProcessStarted,
		Source: "manager",
		Payload: event.ProcessPayload{
			ID: id, Name: cfg.DisplayName(), HealthScore: process.InitialHealthScore,
		},
	})
	m.notify(NotifyProcessStarted, id, cfg.DisplayName())
	slog.Info("process started", "id", id)
	return nil
}

// failStart records a start failure and attempts a restart when the config
// permits one. It returns nil if a restart ultimately succeeded.
func (m *Manager) failStart(ctx context.Context, cfg *process.Config, st *process.State, cause error) error {
	m.mu.Lock()
	st.RecordError(time.Now(), cause.Error())
	restartable := cfg.AutoRestart && st.RestartCount < cfg.MaxRestarts
	m.mu.Unlock()
	m.setStatus(cfg.ID, process.StatusError)

	m.bus.Publish(event.Event{
		Type:    event.TypeProcessError,
		Source:  "manager",
		Payload: event.ProcessPayload{ID: cfg.ID, Name: cfg.DisplayName(), Message: cause.Error()},
	})
	m.notify(NotifyProcessError, cfg.ID, cause.Error())
	slog.Error("process failed to start", "id", cfg.ID, "error", cause)

	if restartable {
		if rerr := m.restartProcess(ctx, cfg.ID); rerr == nil {
			return nil
		}
	}
	return fmt.Errorf("start %s: %w", cfg.ID, cause)
}

// restartProcess is a bounded retry with a fixed cooldown, not exponential
// backoff. The count is incremented before the attempt.
func (m *Manager) restartProcess(ctx context.Context, id string) error {
	cfg, st := m.entry(id)
	if cfg == nil {
		return fmt.Errorf("unknown process: %s", id)
	}

	m.mu.Lock()
	st.RestartCount++
	count := st.RestartCount
	m.mu.Unlock()
	metrics.IncRestart(id)

	if count > cfg.MaxRestarts {
		m.setStatus(id, process.StatusError)
		m.notify(NotifyProcessMaxRestarts, id,
			fmt.Sprintf("restart limit reached (%d)", cfg.MaxRestarts))
		slog.Error("max restarts exceeded", "id", id, "restarts", count)
		return fmt.Errorf("process %s: max restarts exceeded (%d)", id, cfg.MaxRestarts)
	}

	m.setStatus(id, process.StatusRestarting)
	m.notify(NotifyProcessRestarting, id, fmt.Sprintf("restart %d of %d", count, cfg.MaxRestarts))
	slog.Warn("restarting process", "id", id, "attempt", count)

	_ = m.stopProcess(ctx, id)
	sleepCtx(ctx, m.opts.RestartCooldown)
	return m.startProcess(ctx, id)
}

// stopProcess stops one unit. Already stopped is a no-op success. The stop
// timestamps and accumulated uptime are recorded even when the stop action
// fails; the failure is kept in the unit's error list.
func (m *Manager) stopProcess(ctx context.Context, id string) error {
	cfg, st := m.entry(id)
	if cfg == nil {
		return fmt.Errorf("unknown process: %s", id)
	}

	m.mu.RLock()
	if st.Status == process.StatusStopped {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	m.setStatus(id, process.StatusStopping)
	err := safeCall(ctx, cfg.Stop)

	now := time.Now()
	m.mu.Lock()
	st.StoppedAt = now
	if !st.StartedAt.IsZero() && st.StartedAt.Before(now) {
		st.Uptime += now.Sub(st.StartedAt)
	}
	if err != nil {
		st.RecordError(now, err.Error())
	}
	m.mu.Unlock()

	if err != nil {
		m.setStatus(id, process.StatusError)
		slog.Error("process failed to stop", "id", id, "error", err)
		return fmt.Errorf("stop %s: %w", id, err)
	}

	m.setStatus(id, process.StatusStopped)
	metrics.IncStop(id)
	m.notify(NotifyProcessStopped, id, cfg.DisplayName())
	slog.Info("process stopped", "id", id)
	return nil
}

// --- snapshots ---

// SystemStatus is a read-only snapshot of the supervisor.
type SystemStatus struct {
	Running    bool                     `json:"running"`
	StartedAt  time.Time                `json:"started_at"`
	StartOrder []string                 `json:"start_order,omitempty"`
	Processes  map[string]process.State `json:"processes"`
}

// SystemMetrics is derived from current state on every call; nothing is
// cached.
type SystemMetrics struct {
	TotalProcesses     int           `json:"total_processes"`
	RunningProcesses   int           `json:"running_processes"`
	HealthyProcesses   int           `json:"healthy_processes"`
	Uptime             time.Duration `json:"uptime"`
	MemoryMB           float64       `json:"memory_mb"`
	AverageHealthScore float64       `json:"average_health_score"`
	TotalRestarts      int           `json:"total_restarts"`
	LastStabilityCheck time.Time     `json:"last_stability_check"`
}

// Status returns a snapshot of the system and every process state.
func (m *Manager) Status() SystemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	procs := make(map[string]process.State, len(m.states))
	for id, st := range m.states {
		procs[id] = st.Snapshot()
	}
	return SystemStatus{
		Running:    m.running,
		StartedAt:  m.startedAt,
		StartOrder: append([]string(nil), m.order...),
		Processes:  procs,
	}
}

// Metrics recomputes aggregate system metrics from current state.
func (m *Manager) Metrics() SystemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.RLock()
	defer m.mu.RUnlock()
	sm := SystemMetrics{
		TotalProcesses:     len(m.states),
		MemoryMB:           float64(ms.HeapAlloc) / 1024 / 1024,
		LastStabilityCheck: m.lastStab,
	}
	if m.running {
		sm.Uptime = time.Since(m.startedAt)
	}
	var scoreSum int
	for _, st := range m.states {
		sm.TotalRestarts += st.RestartCount
		if st.Status == process.StatusRunning {
			sm.RunningProcesses++
			scoreSum += st.HealthScore
			if st.HealthScore >= m.opts.UnhealthyThreshold {
				sm.HealthyProcesses++
			}
		}
	}
	if sm.RunningProcesses > 0 {
		sm.AverageHealthScore = float64(scoreSum) / float64(sm.RunningProcesses)
	}
	return sm
}

// ProcessState returns a snapshot for one process.
func (m *Manager) ProcessState(id string) (process.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[id]
	if !ok {
		return process.State{}, false
	}
	return st.Snapshot(), true
}

// --- internals ---

func (m *Manager) config(id string) *process.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configs[id]
}

func (m *Manager) entry(id string) (*process.Config, *process.State) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configs[id], m.states[id]
}

func (m *Manager) setStatus(id string, status process.Status) {
	m.mu.Lock()
	st := m.states[id]
	if st == nil {
		m.mu.Unlock()
		return
	}
	from := st.Status
	st.Status = status
	m.mu.Unlock()
	if from != status {
		metrics.RecordStateTransition(id, from.String(), status.String())
	}
}

func (m *Manager) runningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, st := range m.states {
		if st.Status == process.StatusRunning {
			n++
		}
	}
	return n
}

func (m *Manager) totalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func (m *Manager) setLastStabilityCheck(t time.Time) {
	m.mu.Lock()
	m.lastStab = t
	m.mu.Unlock()
}

// publishStatus pushes the current aggregate status onto the bus for the
// watchdog to mirror.
func (m *Manager) publishStatus(t event.Type) {
	m.mu.RLock()
	services := make(map[string]string, len(m.states))
	var running, errored, restarts int
	for id, st := range m.states {
		services[id] = st.Status.String()
		restarts += st.RestartCount
		switch st.Status {
		case process.StatusRunning:
			running++
		case process.StatusError:
			errored++
		}
	}
	total := len(m.states)
	m.mu.RUnlock()

	var errorRate float64
	if total > 0 {
		errorRate = float64(errored) / float64(total) * 100
	}
	status := "healthy"
	switch t {
	case event.TypeSystemDegraded:
		status = "degraded"
	case event.TypeSystemError:
		status = "error"
	}
	m.bus.Publish(event.Event{
		Type:   t,
		Source: "manager",
		Payload: event.StatusPayload{
			Status:       status,
			Services:     services,
			ErrorRate:    errorRate,
			RestartCount: restarts,
			RunningCount: running,
			TotalCount:   total,
		},
	})
}

// safeCall invokes a lifecycle callback, converting a panic into an error
// so one unit can never take the supervisor down.
func safeCall(ctx context.Context, f func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return f(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
