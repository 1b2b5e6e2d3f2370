package main

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/loykin/warden"
	"github.com/loykin/warden/internal/config"
)

// buildUnit turns a config unit into a process definition whose lifecycle
// callbacks run shell commands. Embedding callers supply their own
// callbacks instead; this adapter is the daemon host's collaborator.
func buildUnit(uc config.UnitConfig) warden.Config {
	return warden.Config{
		ID:           uc.ID,
		Name:         uc.Name,
		Start:        commandAction(uc.Command),
		Stop:         commandAction(uc.StopCommand),
		HealthCheck:  commandProbe(uc.HealthCommand),
		Criticality:  warden.Criticality(uc.Criticality),
		AutoRestart:  uc.AutoRestart,
		MaxRestarts:  uc.MaxRestarts,
		DependsOn:    uc.DependsOn,
		StartupDelay: uc.StartupDelay,
	}
}

// commandAction wraps a shell command as a lifecycle action. An empty
// command is a no-op so units can omit e.g. a stop command.
func commandAction(cmdStr string) func(ctx context.Context) error {
	cmdStr = strings.TrimSpace(cmdStr)
	return func(ctx context.Context) error {
		if cmdStr == "" {
			return nil
		}
		// #nosec G204 -- command comes from the operator's config file
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr).Run()
	}
}

// commandProbe wraps a shell command as a health probe: exit 0 is healthy,
// a nonzero exit is a probe failure, anything else (command not runnable)
// is a probe exception. With no command configured, the unit is always
// considered healthy.
func commandProbe(cmdStr string) func(ctx context.Context) (bool, error) {
	cmdStr = strings.TrimSpace(cmdStr)
	return func(ctx context.Context) (bool, error) {
		if cmdStr == "" {
			return true, nil
		}
		// #nosec G204 -- command comes from the operator's config file
		err := exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr).Run()
		if err == nil {
			return true, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
}
