package manager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// stabilityMonitor is a single-shot timer armed on every successful
// StartSystem. When it fires with every running process clearing the
// healthy bar, the system is declared stable exactly once per start.
type stabilityMonitor struct {
	m     *Manager
	mu    sync.Mutex
	timer *time.Timer
}

func newStabilityMonitor(m *Manager) *stabilityMonitor {
	return &stabilityMonitor{m: m}
}

// arm (re)arms the timer, clearing any prior one first.
func (s *stabilityMonitor) arm() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.m.opts.StabilityWindow, s.fire)
	s.mu.Unlock()
}

// clear cancels a pending timer. Idempotent.
func (s *stabilityMonitor) clear() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

func (s *stabilityMonitor) fire() {
	if !s.m.IsRunning() {
		return
	}
	now := time.Now()
	s.m.setLastStabilityCheck(now)
	sm := s.m.Metrics()
	if sm.TotalProcesses > 0 && sm.HealthyProcesses == sm.TotalProcesses {
		slog.Info("system stable", "processes", sm.TotalProcesses,
			"avg_health", sm.AverageHealthScore)
		s.m.notify(NotifySystemStable, "",
			fmt.Sprintf("all %d processes healthy for %s", sm.TotalProcesses, s.m.opts.StabilityWindow))
	} else {
		slog.Debug("stability window elapsed without all processes healthy",
			"healthy", sm.HealthyProcesses, "total", sm.TotalProcesses)
	}
}
