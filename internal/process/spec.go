package process

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Criticality classifies how a process start failure affects the system.
// Only high-criticality failures escalate to a whole-system emergency
// shutdown.
type Criticality string

const (
	CriticalityHigh   Criticality = "high"
	CriticalityMedium Criticality = "medium"
	CriticalityLow    Criticality = "low"
)

// StartFunc starts the unit. It may block until the unit is up.
type StartFunc func(ctx context.Context) error

// StopFunc stops the unit.
type StopFunc func(ctx context.Context) error

// HealthFunc probes liveness. A (false, nil) return is a probe failure; a
// non-nil error is a probe exception and is penalized more heavily.
type HealthFunc func(ctx context.Context) (bool, error)

// Config describes a supervised unit. It is caller-supplied and immutable
// after registration. The Start/Stop/HealthCheck callbacks are the only
// I/O the supervisor performs; what they do internally is opaque.
//
// DependsOn lists ids of other registered configs that must be running
// before this one starts. Existence of the referenced ids is not validated
// at registration time; a missing dependency surfaces as a start failure.
type Config struct {
	ID           string
	Name         string
	Start        StartFunc
	Stop         StopFunc
	HealthCheck  HealthFunc
	Criticality  Criticality
	AutoRestart  bool
	MaxRestarts  int
	DependsOn    []string
	StartupDelay time.Duration // wait after starting this unit before the next one
}

var ErrInvalidConfig = errors.New("invalid process config")

// Validate checks the parts of a Config the supervisor relies on.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}
	if c.Start == nil {
		return fmt.Errorf("%w: %s: nil start callback", ErrInvalidConfig, c.ID)
	}
	if c.Stop == nil {
		return fmt.Errorf("%w: %s: nil stop callback", ErrInvalidConfig, c.ID)
	}
	if c.HealthCheck == nil {
		return fmt.Errorf("%w: %s: nil health check callback", ErrInvalidConfig, c.ID)
	}
	switch c.Criticality {
	case CriticalityHigh, CriticalityMedium, CriticalityLow, "":
	default:
		return fmt.Errorf("%w: %s: unknown criticality %q", ErrInvalidConfig, c.ID, c.Criticality)
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("%w: %s: negative max restarts", ErrInvalidConfig, c.ID)
	}
	return nil
}

// DisplayName returns Name, falling back to ID.
func (c *Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
