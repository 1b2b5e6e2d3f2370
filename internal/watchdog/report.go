package watchdog

import "time"

// CurrentAlerts holds the four boolean alert conditions as of the last
// look at the metrics.
type CurrentAlerts struct {
	MemoryLeak             bool `json:"memory_leak"`
	HighErrorRate          bool `json:"high_error_rate"`
	PerformanceDegradation bool `json:"performance_degradation"`
	FrequentRestarts       bool `json:"frequent_restarts"`
}

// Report is a point-in-time diagnostic summary.
type Report struct {
	GeneratedAt    time.Time     `json:"generated_at"`
	Metrics        Metrics       `json:"metrics"`
	Alerts         CurrentAlerts `json:"alerts"`
	RecentAlerts   []AlertEntry  `json:"recent_alerts"`
	Recommendation string        `json:"recommendation"`
}

// GenerateReport returns current metrics, the current alert booleans,
// alerts from the last 15 minutes and a single recommendation chosen by
// priority: leak > error rate > performance > restarts > normal.
func (w *Watchdog) GenerateReport() Report {
	now := time.Now()

	w.mu.Lock()
	current := CurrentAlerts{
		MemoryLeak:             w.detectLeakLocked(),
		HighErrorRate:          w.errorRate > errCritPct,
		PerformanceDegradation: w.perfScore < perfAlertBelow,
		FrequentRestarts:       w.restartCount > restartAlertOver,
	}
	cutoff := now.Add(-reportWindow)
	var recent []AlertEntry
	for _, a := range w.alerts {
		if a.Timestamp.After(cutoff) {
			recent = append(recent, a)
		}
	}
	w.mu.Unlock()

	return Report{
		GeneratedAt:    now,
		Metrics:        w.Metrics(),
		Alerts:         current,
		RecentAlerts:   recent,
		Recommendation: recommend(current),
	}
}

func recommend(a CurrentAlerts) string {
	switch {
	case a.MemoryLeak:
		return "memory usage is growing steadily; inspect recent allocations and consider restarting the affected components"
	case a.HighErrorRate:
		return "error rate is elevated; check failing processes and their dependencies"
	case a.PerformanceDegradation:
		return "performance is degraded; review resource usage and reduce load"
	case a.FrequentRestarts:
		return "processes are restarting frequently; investigate crash causes before raising restart limits"
	default:
		return "system operating normally"
	}
}
