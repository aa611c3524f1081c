package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/config"
	"github.com/xdg/tinygate/internal/metrics"
	"github.com/xdg/tinygate/internal/proxy"
	"github.com/xdg/tinygate/internal/stats"
)

const shutdownTimeout = 5 * time.Second

// ExitCodeError signals that the process should exit with a specific code
// without the caller needing to call os.Exit directly, keeping Execute's
// callers testable.
type ExitCodeError struct {
	Code int
}

// Error implements the error interface.
func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// runServe loads configuration, builds the proxy server, and runs it until
// SIGINT or SIGTERM, per §6's CLI surface: exit 0 on graceful shutdown, 1
// on startup or fatal runtime error.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		clog.Error("tinygate: failed to load configuration: %v", err)
		return &ExitCodeError{Code: 1}
	}
	if debugFlag {
		cfg.Debug = true
	}

	sink := stats.New()
	srv, err := proxy.New(cfg, sink)
	if err != nil {
		clog.Error("tinygate: failed to construct proxy server: %v", err)
		return &ExitCodeError{Code: 1}
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		registry := metrics.NewRegistry(sink)
		mux := http.NewServeMux()
		mux.Handle("/metrics", registry.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				clog.Warn("tinygate: metrics listener stopped: %v", err)
			}
		}()
		clog.Info("tinygate: metrics listening on %s", cfg.MetricsAddr)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		clog.Info("tinygate: received %v, shutting down", sig)
		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		clog.Error("tinygate: server error: %v", err)
		return &ExitCodeError{Code: 1}
	}
	return nil
}
