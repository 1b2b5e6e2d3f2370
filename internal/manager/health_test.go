package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/warden/internal/event"
	"github.com/loykin/warden/internal/process"
)

func startedManager(t *testing.T, u *unitRecorder) (*event.Bus, *Manager) {
	t.Helper()
	bus := event.NewBus()
	m := NewManager(bus, fastOptions())
	require.NoError(t, m.Register(u.config()))
	require.True(t, m.StartSystem(context.Background()).Success)
	t.Cleanup(func() { m.StopSystem(context.Background()) })
	return bus, m
}

func TestHealthCheckRewardsSuccess(t *testing.T) {
	u := newUnitRecorder("a")
	_, m := startedManager(t, u)

	m.mu.Lock()
	m.states["a"].HealthScore = 90
	m.mu.Unlock()

	m.health.check(context.Background(), "a")
	st, _ := m.ProcessState("a")
	assert.Equal(t, 95, st.HealthScore)
	assert.False(t, st.LastHealthCheck.IsZero())

	// recovery is capped at 100
	m.health.check(context.Background(), "a")
	m.health.check(context.Background(), "a")
	st, _ = m.ProcessState("a")
	assert.Equal(t, 100, st.HealthScore)
}

func TestHealthCheckPenalizesFailureAndException(t *testing.T) {
	u := newUnitRecorder("a")
	_, m := startedManager(t, u)

	u.mu.Lock()
	u.healthy = false
	u.mu.Unlock()
	m.health.check(context.Background(), "a")
	st, _ := m.ProcessState("a")
	assert.Equal(t, 80, st.HealthScore, "clean failure costs 20")

	u.mu.Lock()
	u.probeErr = errors.New("timeout")
	u.mu.Unlock()
	m.health.check(context.Background(), "a")
	st, _ = m.ProcessState("a")
	assert.Equal(t, 50, st.HealthScore, "exception costs 30")
}

func TestHealthScoreFloorsAtZero(t *testing.T) {
	u := newUnitRecorder("a")
	_, m := startedManager(t, u)

	u.mu.Lock()
	u.probeErr = errors.New("timeout")
	u.mu.Unlock()
	for i := 0; i < 6; i++ {
		m.health.check(context.Background(), "a")
	}
	st, _ := m.ProcessState("a")
	assert.Equal(t, 0, st.HealthScore)
}

func TestUnhealthyScorePublishesEvent(t *testing.T) {
	u := newUnitRecorder("a")
	bus, m := startedManager(t, u)

	var unhealthy []event.ProcessPayload
	bus.Subscribe(event.TypeProcessHealthCheck, func(e event.Event) {
		if p, ok := e.Payload.(event.ProcessPayload); ok {
			unhealthy = append(unhealthy, p)
		}
	})
	var notes []Notification
	m.AddListener(func(n Notification) {
		if n.Kind == NotifyProcessUnhealthy {
			notes = append(notes, n)
		}
	})

	m.mu.Lock()
	m.states["a"].HealthScore = 60
	m.mu.Unlock()

	u.mu.Lock()
	u.healthy = false
	u.mu.Unlock()
	m.health.check(context.Background(), "a") // 60 -> 40, below the bar

	require.Len(t, unhealthy, 1)
	assert.Equal(t, "a", unhealthy[0].ID)
	assert.Equal(t, 40, unhealthy[0].HealthScore)
	require.Len(t, notes, 1)
}

func TestHealthCheckSkipsNonRunning(t *testing.T) {
	u := newUnitRecorder("a")
	_, m := startedManager(t, u)

	m.setStatus("a", process.StatusStopped)
	_, _, before := u.counts()
	m.health.check(context.Background(), "a")
	_, _, after := u.counts()
	assert.Equal(t, before, after, "stopped process is not probed")
}

func TestInitialCheckRetriesBeforeSucceeding(t *testing.T) {
	bus := event.NewBus()
	m := NewManager(bus, fastOptions())

	attempts := 0
	cfg := process.Config{
		ID:    "slow",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { return nil },
		HealthCheck: func(ctx context.Context) (bool, error) {
			attempts++
			return attempts >= 3, nil
		},
	}
	require.NoError(t, m.Register(cfg))

	res := m.StartSystem(context.Background())
	require.True(t, res.Success)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 3, attempts)

	st, _ := m.ProcessState("slow")
	assert.Equal(t, process.StatusRunning, st.Status)
	m.StopSystem(context.Background())
}

func TestStabilityDeclaredWhenAllHealthy(t *testing.T) {
	bus := event.NewBus()
	opts := fastOptions()
	opts.StabilityWindow = 10 * time.Millisecond
	m := NewManager(bus, opts)

	stable := make(chan Notification, 1)
	m.AddListener(func(n Notification) {
		if n.Kind == NotifySystemStable {
			select {
			case stable <- n:
			default:
			}
		}
	})

	u := newUnitRecorder("a")
	require.NoError(t, m.Register(u.config()))
	require.True(t, m.StartSystem(context.Background()).Success)
	defer m.StopSystem(context.Background())

	select {
	case <-stable:
	case <-time.After(2 * time.Second):
		t.Fatal("stability was never declared")
	}
	assert.False(t, m.Metrics().LastStabilityCheck.IsZero())
}

func TestStabilityTimerClearedOnStop(t *testing.T) {
	bus := event.NewBus()
	opts := fastOptions()
	opts.StabilityWindow = 20 * time.Millisecond
	m := NewManager(bus, opts)

	var stable int
	m.AddListener(func(n Notification) {
		if n.Kind == NotifySystemStable {
			stable++
		}
	})

	u := newUnitRecorder("a")
	require.NoError(t, m.Register(u.config()))
	require.True(t, m.StartSystem(context.Background()).Success)
	require.True(t, m.StopSystem(context.Background()).Success)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, stable, "cleared timer must not fire")
}
