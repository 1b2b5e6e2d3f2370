package history

import (
	"context"
	"time"
)

// EventType defines the kind of audit event.
type EventType string

const (
	EventLifecycle EventType = "lifecycle"
	EventAlert     EventType = "alert"
)

// Record carries the details of one audit event. ProcessID is empty for
// system-wide events (system started/stopped, watchdog alerts).
type Record struct {
	ProcessID string `json:"process_id,omitempty"`
	Kind      string `json:"kind"`               // e.g. "process:started", "watchdog:memory_leak"
	Status    string `json:"status,omitempty"`   // lifecycle status at the time
	Severity  string `json:"severity,omitempty"` // alert severity, if any
	Message   string `json:"message,omitempty"`
}

// Event is an audit event to be exported to external systems. Supervision
// state itself stays in memory; sinks are an append-only export.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for audit events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
