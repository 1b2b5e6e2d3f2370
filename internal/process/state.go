package process

import "time"

// Status is the lifecycle status of a supervised unit.
type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusError
	StatusRestarting
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	case StatusRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// MaxErrorRecords bounds the per-process error list; the oldest entries
// are dropped once the bound is reached.
const MaxErrorRecords = 10

// InitialHealthScore is the score a unit starts with and recovers to on a
// successful start.
const InitialHealthScore = 100

// ErrorRecord is one entry in a unit's recent-error list.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// State is the mutable runtime state of one registered unit. It is owned
// by the Manager that created it; callers only ever see copies via
// Snapshot.
type State struct {
	Status          Status        `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	StoppedAt       time.Time     `json:"stopped_at"`
	LastHealthCheck time.Time     `json:"last_health_check"`
	RestartCount    int           `json:"restart_count"`
	Errors          []ErrorRecord `json:"errors,omitempty"`
	Uptime          time.Duration `json:"uptime"`
	HealthScore     int           `json:"health_score"`
}

// NewState returns the state a unit carries right after registration.
func NewState() *State {
	return &State{Status: StatusStopped, HealthScore: InitialHealthScore}
}

// RecordError appends an error record, dropping the oldest entry when the
// bound is exceeded.
func (s *State) RecordError(at time.Time, msg string) {
	s.Errors = append(s.Errors, ErrorRecord{Timestamp: at, Message: msg})
	if len(s.Errors) > MaxErrorRecords {
		s.Errors = s.Errors[len(s.Errors)-MaxErrorRecords:]
	}
}

// AdjustHealth moves the health score by delta, clamped to [0, 100].
// It returns the new score.
func (s *State) AdjustHealth(delta int) int {
	s.HealthScore += delta
	if s.HealthScore > InitialHealthScore {
		s.HealthScore = InitialHealthScore
	}
	if s.HealthScore < 0 {
		s.HealthScore = 0
	}
	return s.HealthScore
}

// Snapshot returns a copy of the state safe to hand outside the owning
// Manager. The error slice is copied, not shared.
func (s *State) Snapshot() State {
	cp := *s
	cp.Errors = append([]ErrorRecord(nil), s.Errors...)
	return cp
}
