package watchdog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/warden/internal/event"
)

func newTestWatchdog(t *testing.T) (*event.Bus, *Watchdog) {
	t.Helper()
	bus := event.NewBus()
	w, err := New(bus, Options{})
	require.NoError(t, err)
	return bus, w
}

// series builds samples with ascending timestamps ending now.
func series(values ...float64) []Sample {
	now := time.Now()
	out := make([]Sample, len(values))
	for i, v := range values {
		out[i] = Sample{Timestamp: now.Add(time.Duration(i-len(values)) * time.Second), Value: v}
	}
	return out
}

func TestLeakDetection(t *testing.T) {
	_, w := newTestWatchdog(t)

	cases := []struct {
		name string
		mem  []Sample
		want bool
	}{
		{"ten increasing", series(100, 110, 120, 130, 140, 150, 160, 170, 180, 190), true},
		{"ten decreasing", series(190, 180, 170, 160, 150, 140, 130, 120, 110, 100), false},
		{"flat", series(100, 100, 100, 100, 100, 100, 100, 100, 100, 100), false},
		{"too few samples", series(100, 110, 120), false},
		{"eight of nine increases", series(100, 110, 120, 130, 140, 150, 160, 170, 165, 180), true},
		{"seven of nine increases", series(100, 110, 120, 130, 140, 150, 160, 155, 150, 180), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w.mu.Lock()
			w.mem = tc.mem
			got := w.detectLeakLocked()
			w.mu.Unlock()
			assert.Equal(t, tc.want, got)
		})
	}
}

// perfScoreFor runs one analyze pass over fixed inputs on a fresh watchdog.
func perfScoreFor(t *testing.T, memMB, cpuPct, errRate float64) int {
	t.Helper()
	_, w := newTestWatchdog(t)
	w.mu.Lock()
	w.mem = series(memMB, memMB, memMB)
	w.cpu = series(cpuPct, cpuPct, cpuPct)
	w.errorRate = errRate
	w.mu.Unlock()
	w.analyze()
	return w.Metrics().PerformanceScore
}

func TestPerformanceScorePenalties(t *testing.T) {
	assert.Equal(t, 100, perfScoreFor(t, 100, 20, 0))
	assert.Equal(t, 80, perfScoreFor(t, 600, 20, 0), "memory past warning")
	assert.Equal(t, 50, perfScoreFor(t, 1200, 20, 0), "memory past critical")
	assert.Equal(t, 85, perfScoreFor(t, 100, 80, 0), "cpu past warning")
	assert.Equal(t, 60, perfScoreFor(t, 100, 95, 0), "cpu past critical")
	assert.Equal(t, 80, perfScoreFor(t, 100, 20, 15), "error rate past warning")
	assert.Equal(t, 50, perfScoreFor(t, 100, 20, 30), "error rate past critical")
	assert.Equal(t, 0, perfScoreFor(t, 1200, 95, 30), "all critical floors at zero")
}

func TestPerformanceScoreMonotonicInLoad(t *testing.T) {
	prev := 101
	for _, mem := range []float64{100, 600, 1200} {
		score := perfScoreFor(t, mem, 20, 0)
		assert.Less(t, score, prev)
		prev = score
	}
}

func TestStabilityScorePenalties(t *testing.T) {
	stabFor := func(restarts int, leak bool, recentAlerts int) int {
		_, w := newTestWatchdog(t)
		w.mu.Lock()
		w.restartCount = restarts
		if leak {
			w.mem = series(100, 110, 120, 130, 140, 150, 160, 170, 180, 190)
		}
		now := time.Now()
		for i := 0; i < recentAlerts; i++ {
			w.alerts = append(w.alerts, AlertEntry{Timestamp: now, Type: AlertPerformance})
		}
		w.mu.Unlock()
		w.analyze()
		return w.Metrics().StabilityScore
	}

	assert.Equal(t, 100, stabFor(0, false, 0))
	assert.Equal(t, 100, stabFor(3, false, 0), "warning bar is exclusive")
	assert.Equal(t, 80, stabFor(5, false, 0))
	assert.Equal(t, 40, stabFor(12, false, 0))
	assert.Equal(t, 70, stabFor(0, true, 0))
	assert.Equal(t, 75, stabFor(0, false, 6))
	assert.Equal(t, 0, stabFor(12, true, 6), "combined penalties floor at zero")
}

func TestAnalyzeRecordsDownwardCrossingOnce(t *testing.T) {
	_, w := newTestWatchdog(t)
	w.mu.Lock()
	w.mem = series(1200, 1200, 1200)
	w.errorRate = 30
	w.mu.Unlock()

	w.analyze()
	alerts := w.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPerformance, alerts[0].Type)

	// already below the bar, no second crossing entry
	w.analyze()
	assert.Len(t, w.Alerts(), 1)
}

func TestCheckAlertsPublishes(t *testing.T) {
	bus, w := newTestWatchdog(t)

	var raised []event.AlertPayload
	bus.Subscribe(event.TypeWatchdogAlert, func(e event.Event) {
		if p, ok := e.Payload.(event.AlertPayload); ok {
			raised = append(raised, p)
		}
	})

	w.mu.Lock()
	w.mem = series(100, 110, 120, 130, 140, 150, 160, 170, 180, 190) // leak pattern
	w.errorRate = 30
	w.restartCount = 7
	w.perfScore = 50
	w.stabScore = 60
	w.mu.Unlock()

	w.checkAlerts()

	require.Len(t, raised, 5)
	byType := make(map[string]event.AlertPayload, len(raised))
	for _, p := range raised {
		byType[p.AlertType] = p
	}
	assert.Equal(t, "critical", byType[AlertMemoryLeak].Severity)
	assert.Equal(t, "warning", byType[AlertHighErrorRate].Severity)
	assert.Equal(t, "warning", byType[AlertPerformance].Severity)
	assert.Equal(t, "warning", byType[AlertFrequentRestarts].Severity)
	assert.Equal(t, "warning", byType[AlertLowStability].Severity)

	snap := byType[AlertHighErrorRate].Metrics
	assert.Equal(t, 30.0, snap["error_rate"])
	assert.Equal(t, 7.0, snap["restart_count"])

	assert.Len(t, w.Alerts(), 5)
}

func TestCheckAlertsQuietWhenHealthy(t *testing.T) {
	bus, w := newTestWatchdog(t)
	var raised int
	bus.Subscribe(event.TypeWatchdogAlert, func(event.Event) { raised++ })

	w.mu.Lock()
	w.mem = series(100, 100, 100)
	w.cpu = series(10, 10, 10)
	w.mu.Unlock()

	w.checkAlerts()
	assert.Zero(t, raised)
	assert.Empty(t, w.Alerts())
}

func TestAlertHistoryCapped(t *testing.T) {
	_, w := newTestWatchdog(t)
	now := time.Now()
	w.mu.Lock()
	for i := 0; i < maxAlertHistory+50; i++ {
		w.appendAlertLocked(AlertEntry{
			Timestamp: now,
			Type:      AlertPerformance,
			Message:   fmt.Sprintf("entry %d", i),
		})
	}
	w.mu.Unlock()

	alerts := w.Alerts()
	require.Len(t, alerts, maxAlertHistory)
	assert.Equal(t, "entry 50", alerts[0].Message, "oldest entries dropped")
	assert.Equal(t, fmt.Sprintf("entry %d", maxAlertHistory+49), alerts[len(alerts)-1].Message)
}

func TestCollectMirrorsSupervisorStatus(t *testing.T) {
	bus, w := newTestWatchdog(t)

	var published []event.MetricsPayload
	bus.Subscribe(event.TypeMetricsUpdated, func(e event.Event) {
		if p, ok := e.Payload.(event.MetricsPayload); ok {
			published = append(published, p)
		}
	})

	bus.Publish(event.Event{
		Type:   event.TypeSystemDegraded,
		Source: "manager",
		Payload: event.StatusPayload{
			Status: "degraded", ErrorRate: 12.5, RestartCount: 4,
		},
	})

	w.collect()

	m := w.Metrics()
	assert.Equal(t, 12.5, m.ErrorRate)
	assert.Equal(t, 4, m.RestartCount)
	assert.False(t, m.LastCollectedAt.IsZero())
	require.NotEmpty(t, m.CPU)
	assert.Zero(t, m.CPU[len(m.CPU)-1].Value, "first sample has no cpu baseline")
	require.NotEmpty(t, m.MemoryMB)
	assert.Greater(t, m.MemoryMB[len(m.MemoryMB)-1].Value, 0.0)

	require.Len(t, published, 1)
	assert.Equal(t, m.MemoryMB[len(m.MemoryMB)-1].Value, published[0].MemoryMB)
}

func TestPruneSamples(t *testing.T) {
	now := time.Now()
	samples := []Sample{
		{Timestamp: now.Add(-10 * time.Minute), Value: 1},
		{Timestamp: now.Add(-6 * time.Minute), Value: 2},
		{Timestamp: now.Add(-time.Minute), Value: 3},
		{Timestamp: now, Value: 4},
	}
	kept := pruneSamples(samples, now.Add(-5*time.Minute))
	require.Len(t, kept, 2)
	assert.Equal(t, 3.0, kept[0].Value)
}

func TestAverageSamples(t *testing.T) {
	assert.Zero(t, averageSamples(nil))
	assert.Equal(t, 20.0, averageSamples(series(10, 20, 30)))
}

func TestGenerateReportRecommendationPriority(t *testing.T) {
	_, w := newTestWatchdog(t)

	r := w.GenerateReport()
	assert.Equal(t, "system operating normally", r.Recommendation)

	w.mu.Lock()
	w.restartCount = 7
	w.mu.Unlock()
	assert.Contains(t, w.GenerateReport().Recommendation, "restarting frequently")

	w.mu.Lock()
	w.perfScore = 50
	w.mu.Unlock()
	assert.Contains(t, w.GenerateReport().Recommendation, "performance is degraded")

	w.mu.Lock()
	w.errorRate = 30
	w.mu.Unlock()
	assert.Contains(t, w.GenerateReport().Recommendation, "error rate is elevated")

	w.mu.Lock()
	w.mem = series(100, 110, 120, 130, 140, 150, 160, 170, 180, 190)
	w.mu.Unlock()
	r = w.GenerateReport()
	assert.Contains(t, r.Recommendation, "memory usage is growing")
	assert.True(t, r.Alerts.MemoryLeak)
	assert.True(t, r.Alerts.HighErrorRate)
	assert.True(t, r.Alerts.PerformanceDegradation)
	assert.True(t, r.Alerts.FrequentRestarts)
}

func TestReportRecentAlertWindow(t *testing.T) {
	_, w := newTestWatchdog(t)
	now := time.Now()
	w.mu.Lock()
	w.alerts = []AlertEntry{
		{Timestamp: now.Add(-20 * time.Minute), Type: AlertPerformance, Message: "old"},
		{Timestamp: now.Add(-time.Minute), Type: AlertLowStability, Message: "recent"},
	}
	w.mu.Unlock()

	r := w.GenerateReport()
	require.Len(t, r.RecentAlerts, 1)
	assert.Equal(t, "recent", r.RecentAlerts[0].Message)
}

func TestRestartResumesCycles(t *testing.T) {
	bus := event.NewBus()
	w, err := New(bus, Options{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	var mu sync.Mutex
	updates := 0
	bus.Subscribe(event.TypeMetricsUpdated, func(event.Event) {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	w.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	mu.Lock()
	firstRun := updates
	mu.Unlock()
	require.Greater(t, firstRun, 0)

	w.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	mu.Lock()
	secondRun := updates - firstRun
	mu.Unlock()
	assert.Greater(t, secondRun, 0, "restarted loop must keep monitoring")
}

func TestStartWhileArmedIsNoop(t *testing.T) {
	bus := event.NewBus()
	w, err := New(bus, Options{Interval: time.Hour})
	require.NoError(t, err)

	w.Start(context.Background())
	w.Start(context.Background())
	w.Stop()
}

func TestStartStopRunsCycles(t *testing.T) {
	bus := event.NewBus()
	w, err := New(bus, Options{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	w.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	m := w.Metrics()
	assert.False(t, m.LastCollectedAt.IsZero())
	assert.NotEmpty(t, m.CPU)

	assert.NotPanics(t, w.Stop, "stop is idempotent")
}
