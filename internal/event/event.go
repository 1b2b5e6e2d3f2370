package event

import "time"

// Type identifies the kind of event carried on the bus. The set is closed:
// publishers and subscribers agree on payload shapes per type.
type Type string

const (
	TypeSystemHealthy      Type = "system_healthy"
	TypeSystemDegraded     Type = "system_degraded"
	TypeSystemError        Type = "system_error"
	TypeProcessStarted     Type = "process_started"
	TypeProcessError       Type = "process_error"
	TypeProcessHealthCheck Type = "process_health_check"
	TypeMetricsUpdated     Type = "metrics_updated"
	TypeWatchdogAlert      Type = "watchdog_alert"
)

// Event is the envelope exchanged between the supervisor and the watchdog.
// Payload is one of the typed payload structs below, keyed by Type.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   any       `json:"payload,omitempty"`
}

// StatusPayload accompanies the system_* event types.
type StatusPayload struct {
	Status       string            `json:"status"`
	Services     map[string]string `json:"services"` // process id -> lifecycle status
	ErrorRate    float64           `json:"error_rate"`
	RestartCount int               `json:"restart_count"`
	RunningCount int               `json:"running_count"`
	TotalCount   int               `json:"total_count"`
}

// ProcessPayload accompanies process_started, process_error and
// process_health_check events.
type ProcessPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Message     string  `json:"message,omitempty"`
	HealthScore int     `json:"health_score"`
	MemoryMB    float64 `json:"memory_mb,omitempty"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
}

// AlertPayload accompanies watchdog_alert events.
type AlertPayload struct {
	AlertType string             `json:"alert_type"`
	Severity  string             `json:"severity"` // "critical" or "warning"
	Message   string             `json:"message"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// MetricsPayload accompanies metrics_updated events.
type MetricsPayload struct {
	MemoryMB         float64 `json:"memory_mb"`
	CPUPercent       float64 `json:"cpu_percent"`
	PerformanceScore int     `json:"performance_score"`
	StabilityScore   int     `json:"stability_score"`
}
