package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/influencehub/internal/config"
	"github.com/l0p7/influencehub/internal/logging"
	"github.com/l0p7/influencehub/internal/metrics"
	"github.com/l0p7/influencehub/internal/runtime"
	"github.com/l0p7/influencehub/internal/server"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var newConfigLoader = func(envPrefix, file string) configLoader {
	return config.NewLoader(envPrefix, file)
}

var newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
	return server.New(cfg, logger, handler)
}

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "INFLUENCEHUB", "environment variable prefix")
		role       = flag.String("role", "", "dashboard role override (company or influencer)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile, *role); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile, role string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if role != "" {
		cfg.Dashboard.Role = role
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("role override: %w", err)
		}
	}

	logger, err := logging.New(cfg.Server.Logging, os.Stdout)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	handler, session, err := buildBridge(ctx, cfg, logger, recorder)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := session.Dispose(shutdownCtx); err != nil {
			logger.Error("session shutdown failed", slog.Any("error", err))
		}
	}()

	srv, err := newHTTPServer(cfg, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

// buildBridge starts the dashboard session and wraps it in the view bridge
// handler.
func buildBridge(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (http.Handler, *runtime.Session, error) {
	session, err := runtime.NewSession(ctx, runtime.SessionOptions{
		Config:  cfg,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("session ready",
		slog.String("role", string(session.Role())),
		slog.String("api", cfg.API.BaseURL),
		slog.Duration("stale_time", cfg.StaleTime()),
	)
	return server.NewHandler(session, logger, recorder.Handler()), session, nil
}
