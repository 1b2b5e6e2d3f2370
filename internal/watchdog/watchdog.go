package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	gproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/warden/internal/event"
	"github.com/loykin/warden/internal/metrics"
)

// Alert types emitted by the watchdog.
const (
	AlertMemoryLeak       = "memory_leak"
	AlertHighErrorRate    = "high_error_rate"
	AlertPerformance      = "performance_degradation"
	AlertFrequentRestarts = "frequent_restarts"
	AlertLowStability     = "low_stability"
)

// Scoring thresholds and penalties.
const (
	memWarnMB  = 500.0
	memCritMB  = 1000.0
	cpuWarnPct = 70.0
	cpuCritPct = 90.0
	errWarnPct = 10.0
	errCritPct = 25.0

	restartWarnCount = 3
	restartCritCount = 10
	restartAlertOver = 5

	perfAlertBelow = 60
	stabAlertBelow = 70

	alertFreqWindow = 10 * time.Minute
	alertFreqOver   = 5

	leakSampleCount = 10
	leakRatio       = 0.8

	maxAlertHistory = 100
	reportWindow    = 15 * time.Minute
)

// Sample is one point in a bounded time series.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// AlertEntry is one entry in the capped alert history.
type AlertEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Metrics is a snapshot of the watchdog's own metric state, independent of
// the supervisor's per-process states.
type Metrics struct {
	CPU              []Sample  `json:"cpu"`
	MemoryMB         []Sample  `json:"memory_mb"`
	ErrorRate        float64   `json:"error_rate"`
	RestartCount     int       `json:"restart_count"`
	PerformanceScore int       `json:"performance_score"`
	StabilityScore   int       `json:"stability_score"`
	LastCollectedAt  time.Time `json:"last_collected_at"`
}

// Options tunes the watchdog. Zero values take the defaults.
type Options struct {
	Interval time.Duration // monitoring cycle, default 30s
	Window   time.Duration // sample retention, default 5m
	PID      int32         // process to sample; defaults to own pid
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.Window <= 0 {
		o.Window = 5 * time.Minute
	}
	if o.PID <= 0 {
		o.PID = int32(os.Getpid())
	}
}

// Watchdog is an independent monitoring loop: it samples CPU and memory,
// derives performance and stability scores, detects memory-leak patterns
// and raises categorized alerts. It never calls the supervisor directly;
// status flows in and alerts flow out over the event bus.
type Watchdog struct {
	mu   sync.Mutex
	bus  *event.Bus
	opts Options
	proc *gproc.Process

	cpu          []Sample
	mem          []Sample
	errorRate    float64
	restartCount int
	perfScore    int
	stabScore    int
	alerts       []AlertEntry

	lastStatus   *event.StatusPayload
	lastCPUTotal float64
	lastSampleAt time.Time
	collectedAt  time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Watchdog wired to bus. It subscribes to the supervisor's
// status events so error rate and restart count can be mirrored into the
// local metrics on the next collection cycle.
func New(bus *event.Bus, opts Options) (*Watchdog, error) {
	opts.normalize()
	proc, err := gproc.NewProcess(opts.PID)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d for sampling: %w", opts.PID, err)
	}
	w := &Watchdog{
		bus:       bus,
		opts:      opts,
		proc:      proc,
		perfScore: 100,
		stabScore: 100,
	}
	for _, t := range []event.Type{event.TypeSystemHealthy, event.TypeSystemDegraded, event.TypeSystemError} {
		bus.Subscribe(t, w.onStatus)
	}
	return w, nil
}

func (w *Watchdog) onStatus(e event.Event) {
	payload, ok := e.Payload.(event.StatusPayload)
	if !ok {
		return
	}
	w.mu.Lock()
	w.lastStatus = &payload
	w.mu.Unlock()
}

// Start launches the recurring monitoring cycle. A second Start while the
// loop is armed is a no-op; a stopped watchdog can be started again, so
// the loop survives supervisor stop/start cycles.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if w.stopCh != nil {
		w.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	w.stopCh = stop
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(w.opts.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				// Disarm so a later Start can re-launch the loop.
				w.mu.Lock()
				if w.stopCh == stop {
					w.stopCh = nil
				}
				w.mu.Unlock()
				return
			case <-stop:
				return
			case <-t.C:
				w.Cycle()
			}
		}
	}()
}

// Stop disarms the monitoring loop and waits for the in-flight cycle.
// Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	ch := w.stopCh
	w.stopCh = nil
	w.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	w.wg.Wait()
}

// Cycle runs one monitoring pass. The phase order is fixed: collect
// metrics, analyze stability, check alerts.
func (w *Watchdog) Cycle() {
	w.collect()
	w.analyze()
	w.checkAlerts()
}

// collect samples memory and CPU, prunes the sliding window, mirrors the
// last received supervisor status and publishes an informational event.
// A sampling failure is logged and the rest of the cycle proceeds on the
// data already gathered.
func (w *Watchdog) collect() {
	now := time.Now()
	var memMB, cpuPct float64

	mi, err := w.proc.MemoryInfo()
	if err != nil {
		slog.Warn("watchdog memory sampling failed", "error", err)
	} else {
		memMB = float64(mi.RSS) / 1024 / 1024
	}

	times, err := w.proc.Times()
	if err != nil {
		slog.Warn("watchdog cpu sampling failed", "error", err)
	}

	w.mu.Lock()
	if err == nil {
		total := times.User + times.System
		// CPU usage is the cumulative CPU time spent since the previous
		// sample over the wall clock elapsed. The very first sample has no
		// baseline and reads 0.
		if !w.lastSampleAt.IsZero() {
			wall := now.Sub(w.lastSampleAt).Seconds()
			if wall > 0 {
				cpuPct = (total - w.lastCPUTotal) / wall * 100
				if cpuPct < 0 {
					cpuPct = 0
				}
			}
		}
		w.lastCPUTotal = total
		w.lastSampleAt = now
	}

	if mi != nil {
		w.mem = append(w.mem, Sample{Timestamp: now, Value: memMB})
	}
	w.cpu = append(w.cpu, Sample{Timestamp: now, Value: cpuPct})
	cutoff := now.Add(-w.opts.Window)
	w.mem = pruneSamples(w.mem, cutoff)
	w.cpu = pruneSamples(w.cpu, cutoff)

	if w.lastStatus != nil {
		w.errorRate = w.lastStatus.ErrorRate
		w.restartCount = w.lastStatus.RestartCount
	}
	w.collectedAt = now
	perf, stab := w.perfScore, w.stabScore
	w.mu.Unlock()

	metrics.SetWatchdogSample(cpuPct, memMB)
	w.bus.Publish(event.Event{
		Type:   event.TypeMetricsUpdated,
		Source: "watchdog",
		Payload: event.MetricsPayload{
			MemoryMB:         memMB,
			CPUPercent:       cpuPct,
			PerformanceScore: perf,
			StabilityScore:   stab,
		},
	})
}

// analyze recomputes both scores from the sample windows and the mirrored
// status. Downward threshold crossings are recorded in the alert history
// here but not published; publication is the check phase's job, so a
// crossing cycle can produce two history entries for the same condition.
func (w *Watchdog) analyze() {
	w.mu.Lock()
	avgMem := averageSamples(w.mem)
	avgCPU := averageSamples(w.cpu)

	perf := 100
	if avgMem > memWarnMB {
		perf -= 20
		if avgMem > memCritMB {
			perf -= 30
		}
	}
	if avgCPU > cpuWarnPct {
		perf -= 15
		if avgCPU > cpuCritPct {
			perf -= 25
		}
	}
	if w.errorRate > errWarnPct {
		perf -= 20
		if w.errorRate > errCritPct {
			perf -= 30
		}
	}
	if perf < 0 {
		perf = 0
	}

	stab := 100
	if w.restartCount > restartWarnCount {
		stab -= 20
		if w.restartCount > restartCritCount {
			stab -= 40
		}
	}
	leak := w.detectLeakLocked()
	if leak {
		stab -= 30
	}
	if w.alertsSinceLocked(time.Now().Add(-alertFreqWindow)) > alertFreqOver {
		stab -= 25
	}
	if stab < 0 {
		stab = 0
	}

	now := time.Now()
	if w.perfScore >= perfAlertBelow && perf < perfAlertBelow {
		w.appendAlertLocked(AlertEntry{
			Timestamp: now,
			Type:      AlertPerformance,
			Message:   fmt.Sprintf("performance score dropped to %d", perf),
		})
	}
	if w.stabScore >= stabAlertBelow && stab < stabAlertBelow {
		w.appendAlertLocked(AlertEntry{
			Timestamp: now,
			Type:      AlertLowStability,
			Message:   fmt.Sprintf("stability score dropped to %d", stab),
		})
	}

	w.perfScore, w.stabScore = perf, stab
	w.mu.Unlock()

	metrics.SetWatchdogScores(perf, stab)
}

// checkAlerts evaluates the current alert conditions; each true condition
// both appends to the history and publishes a severity-tagged event with a
// metric snapshot.
func (w *Watchdog) checkAlerts() {
	w.mu.Lock()
	leak := w.detectLeakLocked()
	errorRate := w.errorRate
	restarts := w.restartCount
	perf, stab := w.perfScore, w.stabScore
	avgMem := averageSamples(w.mem)
	avgCPU := averageSamples(w.cpu)
	w.mu.Unlock()

	snapshot := map[string]float64{
		"avg_memory_mb":     avgMem,
		"avg_cpu_percent":   avgCPU,
		"error_rate":        errorRate,
		"restart_count":     float64(restarts),
		"performance_score": float64(perf),
		"stability_score":   float64(stab),
	}

	if leak {
		w.raise(AlertMemoryLeak, "critical", "memory usage shows a sustained upward trend", snapshot)
	}
	if errorRate > errCritPct {
		w.raise(AlertHighErrorRate, "warning",
			fmt.Sprintf("error rate at %.1f%%", errorRate), snapshot)
	}
	if perf < perfAlertBelow {
		w.raise(AlertPerformance, "warning",
			fmt.Sprintf("performance score at %d", perf), snapshot)
	}
	if restarts > restartAlertOver {
		w.raise(AlertFrequentRestarts, "warning",
			fmt.Sprintf("%d restarts observed", restarts), snapshot)
	}
	if stab < stabAlertBelow {
		w.raise(AlertLowStability, "warning",
			fmt.Sprintf("stability score at %d", stab), snapshot)
	}
}

func (w *Watchdog) raise(alertType, severity, message string, snapshot map[string]float64) {
	now := time.Now()
	w.mu.Lock()
	w.appendAlertLocked(AlertEntry{Timestamp: now, Type: alertType, Message: message})
	w.mu.Unlock()

	metrics.IncAlert(alertType)
	slog.Warn("watchdog alert", "type", alertType, "severity", severity, "message", message)
	w.bus.Publish(event.Event{
		Type:   event.TypeWatchdogAlert,
		Source: "watchdog",
		Payload: event.AlertPayload{
			AlertType: alertType,
			Severity:  severity,
			Message:   message,
			Metrics:   snapshot,
		},
	})
}

func (w *Watchdog) appendAlertLocked(a AlertEntry) {
	w.alerts = append(w.alerts, a)
	if len(w.alerts) > maxAlertHistory {
		w.alerts = w.alerts[len(w.alerts)-maxAlertHistory:]
	}
}

func (w *Watchdog) alertsSinceLocked(cutoff time.Time) int {
	n := 0
	for _, a := range w.alerts {
		if a.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// detectLeakLocked flags a leak when more than 80% of the adjacent
// comparisons over the most recent 10 memory samples are increases. A
// monotonicity heuristic, not a trend test.
func (w *Watchdog) detectLeakLocked() bool {
	if len(w.mem) < leakSampleCount {
		return false
	}
	recent := w.mem[len(w.mem)-leakSampleCount:]
	increases := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].Value > recent[i-1].Value {
			increases++
		}
	}
	return float64(increases)/float64(leakSampleCount-1) > leakRatio
}

// Metrics returns a copy of the current metric state.
func (w *Watchdog) Metrics() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Metrics{
		CPU:              append([]Sample(nil), w.cpu...),
		MemoryMB:         append([]Sample(nil), w.mem...),
		ErrorRate:        w.errorRate,
		RestartCount:     w.restartCount,
		PerformanceScore: w.perfScore,
		StabilityScore:   w.stabScore,
		LastCollectedAt:  w.collectedAt,
	}
}

// Alerts returns a copy of the alert history, newest last.
func (w *Watchdog) Alerts() []AlertEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]AlertEntry(nil), w.alerts...)
}

func pruneSamples(samples []Sample, cutoff time.Time) []Sample {
	i := 0
	for i < len(samples) && !samples[i].Timestamp.After(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return append(samples[:0:0], samples[i:]...)
}

func averageSamples(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}
