package manager

import (
	"context"
	"time"

	"github.com/loykin/warden/internal/event"
	"github.com/loykin/warden/internal/history"
)

// Notification kinds delivered to host listeners. These cover the
// caller-facing lifecycle surface; supervisor/watchdog coordination goes
// through the event bus instead.
const (
	NotifyProcessRegistered  = "process:registered"
	NotifyProcessStarted     = "process:started"
	NotifyProcessError       = "process:error"
	NotifyProcessStopped     = "process:stopped"
	NotifyProcessRestarting  = "process:restarting"
	NotifyProcessMaxRestarts = "process:max-restarts-exceeded"
	NotifyProcessUnhealthy   = "process:unhealthy"
	NotifySystemStarted      = "system:started"
	NotifySystemStopped      = "system:stopped"
	NotifySystemStable       = "system:stable"
	NotifySystemEmergency    = "system:emergency-shutdown"
)

// Notification is a host-facing lifecycle notice.
type Notification struct {
	Kind      string    `json:"kind"`
	ProcessID string    `json:"process_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Listener receives host notifications. Listeners run synchronously on the
// goroutine that produced the notification and must not block.
type Listener func(Notification)

// Result is returned by StartSystem and StopSystem. Per-process failures
// never surface as errors from those calls; they are aggregated here.
type Result struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AddListener registers a host notification listener.
func (m *Manager) AddListener(l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// SetHistorySinks configures external audit sinks (SQLite, PostgreSQL,
// ClickHouse). Lifecycle notifications and watchdog alerts are exported to
// every sink. Passing no sinks clears the list; a later call replaces it
// for both export paths.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// onAlert exports a watchdog alert to the sinks configured at delivery
// time. Registered once on the bus at construction, so replacing the sink
// list never leaks a stale subscription.
func (m *Manager) onAlert(e event.Event) {
	payload, ok := e.Payload.(event.AlertPayload)
	if !ok {
		return
	}
	m.mu.RLock()
	sinks := append([]history.Sink(nil), m.sinks...)
	m.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       history.EventAlert,
		OccurredAt: e.Timestamp.UTC(),
		Record: history.Record{
			Kind:     "watchdog:" + payload.AlertType,
			Severity: payload.Severity,
			Message:  payload.Message,
		},
	}
	for _, s := range sinks {
		_ = s.Send(context.Background(), evt)
	}
}

// notify fans a notification out to listeners and audit sinks.
// Sink failures are deliberately ignored; audit export is best-effort.
func (m *Manager) notify(kind, processID, message string) {
	now := time.Now()
	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	sinks := append([]history.Sink(nil), m.sinks...)
	var status string
	if st, ok := m.states[processID]; ok {
		status = st.Status.String()
	}
	m.mu.RUnlock()

	n := Notification{Kind: kind, ProcessID: processID, Timestamp: now, Message: message}
	for _, l := range listeners {
		l(n)
	}
	if len(sinks) > 0 {
		evt := history.Event{
			Type:       history.EventLifecycle,
			OccurredAt: now.UTC(),
			Record: history.Record{
				ProcessID: processID,
				Kind:      kind,
				Status:    status,
				Message:   message,
			},
		}
		for _, s := range sinks {
			_ = s.Send(context.Background(), evt)
		}
	}
}
