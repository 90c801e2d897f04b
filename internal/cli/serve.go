// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/ssh-agentd/internal/agentlisten"
	"github.com/jeremyhahn/ssh-agentd/internal/agentlog"
	"github.com/jeremyhahn/ssh-agentd/internal/config"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentdispatch"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentkeys"
	"github.com/jeremyhahn/ssh-agentd/pkg/health"
	"github.com/jeremyhahn/ssh-agentd/pkg/metrics"
	"github.com/jeremyhahn/ssh-agentd/pkg/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent, accepting connections on its Unix domain socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			handleError(err)
			return nil
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	logger := agentlog.NewSlogAdapter(&agentlog.SlogConfig{
		Level: parseLevel(cfg.Logging.Level),
	})

	store := agentkeys.NewStore()
	handler := agentdispatch.New(store, logger)

	limiter := ratelimit.New(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		Burst:             cfg.RateLimit.Burst,
	})

	listener := agentlisten.New(agentlisten.Config{
		SocketPath:       cfg.Listener.SocketPath,
		MaxMessageLength: cfg.Listener.MaxMessageLength,
	}, handler, limiter, logger)

	checker := health.NewChecker()
	checker.RegisterCheck("listener", func(ctx context.Context) health.CheckResult {
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Message: fmt.Sprintf("%d clients connected", listener.ClientCount()),
		}
	})

	var metricsServer *http.Server
	var collector *metrics.ResourceCollector
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	if cfg.Metrics.Enabled {
		metrics.Enable()
		collector = metrics.StartResourceCollector(collectorCtx, 30*time.Second)

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("starting metrics server", agentlog.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server error", agentlog.Error(err))
			}
		}()
	} else {
		metrics.Disable()
	}

	var healthServer *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
			if checker.IsHealthy(r.Context()) {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
		healthServer = &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("starting health server", agentlog.String("addr", cfg.Health.Addr))
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("health server error", agentlog.Error(err))
			}
		}()
	}

	checker.MarkStarted()

	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("listener stopped with error", agentlog.Error(err))
			return err
		}
	case sig := <-sigCh:
		logger.Info("received shutdown signal", agentlog.String("signal", sig.String()))
	}

	checker.MarkNotStarted()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := listener.Stop(shutdownCtx); err != nil && err != context.Canceled {
		logger.Warn("listener shutdown incomplete", agentlog.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if collector != nil {
		collector.Stop()
	}
	if healthServer != nil {
		_ = healthServer.Shutdown(shutdownCtx)
	}

	logger.Info("agent stopped")
	return nil
}

func parseLevel(level string) agentlog.Level {
	switch level {
	case "debug":
		return agentlog.LevelDebug
	case "warn":
		return agentlog.LevelWarn
	case "error":
		return agentlog.LevelError
	default:
		return agentlog.LevelInfo
	}
}
