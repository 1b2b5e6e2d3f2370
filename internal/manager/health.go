package manager

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
	"github.com/loykin/warden/internal/process"
)

// Health score adjustments per probe outcome. A probe exception is
// penalized harder than a clean failure.
const (
	healthRewardSuccess    = 5
	healthPenaltyFailure   = 20
	healthPenaltyException = 30
)

// healthChecker runs the recurring liveness sweep and the 3-attempt
// initial probe used during process start. It mutates nothing but the
// health fields of manager-owned states.
type healthChecker struct {
	m      *Manager
	mu     sync.Mutex
	stopCh chan struct{}
	self   *gproc.Process // own-process handle for resource snapshots
}

func newHealthChecker(m *Manager) *healthChecker {
	hc := &healthChecker{m: m}
	if p, err := gproc.NewProcess(int32(os.Getpid())); err == nil {
		hc.self = p
	}
	return hc
}

// start arms the fixed-interval sweep. A second start while armed is a
// no-op.
func (h *healthChecker) start() {
	h.mu.Lock()
	if h.stopCh != nil {
		h.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	h.stopCh = stop
	h.mu.Unlock()

	go func() {
		t := time.NewTicker(h.m.opts.HealthInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if !h.m.IsRunning() {
					// System stopped underneath us; disarm rather than keep
					// ticking against a stopped system.
					h.stop()
					return
				}
				h.sweep()
			case <-stop:
				return
			}
		}
	}()
}

// stop disarms the sweep. Idempotent.
func (h *healthChecker) stop() {
	h.mu.Lock()
	ch := h.stopCh
	h.stopCh = nil
	h.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// sweep checks every registered process sequentially.
func (h *healthChecker) sweep() {
	h.m.mu.RLock()
	ids := append([]string(nil), h.m.regOrder...)
	h.m.mu.RUnlock()
	for _, id := range ids {
		h.check(context.Background(), id)
	}
}

// check performs one health check: no-op unless the system and the process
// are both running. On success the score recovers by 5 (capped at 100); a
// probe failure costs 20 and a probe exception 30 (floored at 0). Dropping
// below the unhealthy bar publishes a health-check event with a resource
// snapshot and notifies the host.
func (h *healthChecker) check(ctx context.Context, id string) {
	if !h.m.IsRunning() {
		return
	}
	cfg, st := h.m.entry(id)
	if cfg == nil {
		return
	}

	h.m.mu.RLock()
	running := st.Status == process.StatusRunning
	h.m.mu.RUnlock()
	if !running {
		return
	}

	ok, err := safeProbe(ctx, cfg.HealthCheck)
	delta := healthRewardSuccess
	switch {
	case err != nil:
		delta = -healthPenaltyException
		slog.Warn("health probe raised", "id", id, "error", err)
	case !ok:
		delta = -healthPenaltyFailure
		slog.Warn("health probe failed", "id", id)
	}

	now := time.Now()
	h.m.mu.Lock()
	score := st.AdjustHealth(delta)
	st.LastHealthCheck = now
	h.m.mu.Unlock()
	metrics.SetHealthScore(id, score)

	if score < h.m.opts.UnhealthyThreshold {
		memMB, cpu := h.resourceSnapshot()
		h.m.bus.Publish(event.Event{
			Type:   event.TypeProcessHealthCheck,
			Source: "manager",
			Payload: event.ProcessPayload{
				ID: id, Name: cfg.DisplayName(), HealthScore: score,
				MemoryMB: memMB, CPUPercent: cpu,
			},
		})
		h.m.notify(NotifyProcessUnhealthy, id, fmt.Sprintf("health score %d", score))
	}
}

// initialCheck is the probe loop used during process start: up to
// ProbeAttempts attempts, pausing ProbeInterval between failures. All
// attempts failing makes the start fail even though the start action
// itself succeeded.
func (h *healthChecker) initialCheck(ctx context.Context, cfg *process.Config) error {
	var lastErr error
	for attempt := 1; attempt <= h.m.opts.ProbeAttempts; attempt++ {
		ok, err := safeProbe(ctx, cfg.HealthCheck)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("health probe returned unhealthy")
		}
		if attempt < h.m.opts.ProbeAttempts {
			sleepCtx(ctx, h.m.opts.ProbeInterval)
		}
	}
	return fmt.Errorf("initial health check failed after %d attempts: %w",
		h.m.opts.ProbeAttempts, lastErr)
}

// resourceSnapshot reports the host process's current RSS and CPU usage.
func (h *healthChecker) resourceSnapshot() (memMB, cpuPercent float64) {
	if h.self == nil {
		return 0, 0
	}
	if mi, err := h.self.MemoryInfo(); err == nil {
		memMB = float64(mi.RSS) / 1024 / 1024
	}
	if pct, err := h.self.CPUPercent(); err == nil {
		cpuPercent = pct
	}
	return memMB, cpuPercent
}

// safeProbe invokes a health callback, converting a panic into an error.
func safeProbe(ctx context.Context, f process.HealthFunc) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return f(ctx)
}
