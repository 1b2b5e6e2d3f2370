package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/manager"
	"github.com/loykin/warden/internal/watchdog"
)

// Config represents the top-level TOML structure consumed by the warden
// daemon.
type Config struct {
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Watchdog   WatchdogConfig   `toml:"watchdog" mapstructure:"watchdog"`
	History    *HistoryConfig   `toml:"history" mapstructure:"history"`
	Server     *ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics    *MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Units      []UnitConfig     `toml:"units" mapstructure:"units"`
}

// SupervisorConfig tunes the process manager. Absent values fall back to
// the documented defaults.
type SupervisorConfig struct {
	HealthInterval  time.Duration `toml:"health_interval" mapstructure:"health_interval"`
	StabilityWindow time.Duration `toml:"stability_window" mapstructure:"stability_window"`
	StartupDelay    time.Duration `toml:"startup_delay" mapstructure:"startup_delay"`
	RestartCooldown time.Duration `toml:"restart_cooldown" mapstructure:"restart_cooldown"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ManagerOptions converts the section into manager options.
func (c SupervisorConfig) ManagerOptions() manager.Options {
	return manager.Options{
		HealthInterval:  c.HealthInterval,
		StabilityWindow: c.StabilityWindow,
		StartupDelay:    c.StartupDelay,
		RestartCooldown: c.RestartCooldown,
	}
}

// WatchdogConfig tunes the monitoring loop.
type WatchdogConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Window   time.Duration `toml:"window" mapstructure:"window"`
}

// WatchdogOptions converts the section into watchdog options.
func (c WatchdogConfig) WatchdogOptions() watchdog.Options {
	return watchdog.Options{Interval: c.Interval, Window: c.Window}
}

// HistoryConfig selects an external audit sink by DSN (sqlite, postgres or
// clickhouse; see the history factory for formats).
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the embedded HTTP API.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// UnitConfig declares one supervised unit whose lifecycle callbacks are
// shell commands run by the daemon host. Embedding callers build
// process.Config values directly instead.
type UnitConfig struct {
	ID            string        `toml:"id" mapstructure:"id"`
	Name          string        `toml:"name" mapstructure:"name"`
	Command       string        `toml:"command" mapstructure:"command"`
	StopCommand   string        `toml:"stop_command" mapstructure:"stop_command"`
	HealthCommand string        `toml:"health_command" mapstructure:"health_command"`
	Criticality   string        `toml:"criticality" mapstructure:"criticality"`
	AutoRestart   bool          `toml:"autorestart" mapstructure:"autorestart"`
	MaxRestarts   int           `toml:"max_restarts" mapstructure:"max_restarts"`
	DependsOn     []string      `toml:"depends_on" mapstructure:"depends_on"`
	StartupDelay  time.Duration `toml:"startup_delay" mapstructure:"startup_delay"`
}

// Load reads and decodes a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Units))
	for i := range c.Units {
		u := &c.Units[i]
		if u.ID == "" {
			return fmt.Errorf("unit %d: missing id", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate unit id %q", u.ID)
		}
		seen[u.ID] = true
		switch u.Criticality {
		case "", "high", "medium", "low":
		default:
			return fmt.Errorf("unit %s: unknown criticality %q", u.ID, u.Criticality)
		}
	}
	for _, u := range c.Units {
		for _, dep := range u.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("unit %s: depends on unknown unit %q", u.ID, dep)
			}
		}
	}
	return nil
}
