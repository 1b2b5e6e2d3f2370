package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/warden"
	"github.com/loykin/warden/internal/logger"
)

const defaultShutdownTimeout = 30 * time.Second

func runServe(configPath string) error {
	cfg, err := warden.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Log)

	sup, err := warden.New(cfg.Supervisor.ManagerOptions(), cfg.Watchdog.WatchdogOptions())
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	if cfg.History != nil && cfg.History.DSN != "" {
		sink, err := warden.NewHistorySink(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("failed to open history sink: %w", err)
		}
		sup.SetHistorySinks(sink)
	}

	for _, uc := range cfg.Units {
		if err := sup.Register(buildUnit(uc)); err != nil {
			return fmt.Errorf("failed to register unit %s: %w", uc.ID, err)
		}
	}

	if err := warden.RegisterMetricsDefault(); err != nil {
		slog.Warn("failed to register metrics", "error", err)
	}
	if cfg.Metrics != nil && cfg.Metrics.Listen != "" {
		go func() {
			if err := warden.ServeMetrics(cfg.Metrics.Listen); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	ctx := context.Background()
	res := sup.Start(ctx)
	if !res.Success {
		return fmt.Errorf("startup failed: %s (%v)", res.Message, res.Errors)
	}
	for _, w := range res.Warnings {
		slog.Warn("startup warning", "warning", w)
	}

	if cfg.Server != nil && cfg.Server.Listen != "" {
		server, err := warden.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
		if err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		defer func() { _ = server.Close() }()
		slog.Info("HTTP server listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	}

	timeout := cfg.Supervisor.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	// Wait for shutdown signal, then stop the system within the bounded
	// timeout.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	stopRes := sup.Stop(stopCtx)
	if !stopRes.Success {
		return fmt.Errorf("shutdown finished with errors: %v", stopRes.Errors)
	}
	return nil
}
