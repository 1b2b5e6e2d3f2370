package manager

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// WatchSignals installs handlers for SIGINT and SIGTERM that drive a
// graceful StopSystem before the host process exits. The overall shutdown
// is bounded by timeout; once it elapses, exit is forced regardless of
// outcome. The returned function uninstalls the handlers.
func (m *Manager) WatchSignals(timeout time.Duration) func() {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("termination signal received", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			stopped := make(chan Result, 1)
			go func() { stopped <- m.StopSystem(ctx) }()
			select {
			case res := <-stopped:
				cancel()
				if !res.Success && res.Message != "NOT_RUNNING" {
					slog.Error("shutdown finished with errors", "errors", res.Errors)
					os.Exit(1)
				}
				os.Exit(0)
			case <-ctx.Done():
				cancel()
				slog.Error("shutdown timed out, forcing exit", "timeout", timeout)
				os.Exit(1)
			}
		case <-done:
			signal.Stop(sigCh)
		}
	}()

	return func() { close(done) }
}
