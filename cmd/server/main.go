// Package main is the entry point for the research gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"research-gateway/internal/agent"
	"research-gateway/internal/api"
	"research-gateway/internal/checkpoint"
	"research-gateway/internal/config"
	"research-gateway/internal/logging"
	"research-gateway/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.ParseLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_FORMAT")).
			Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	// Initialize the workflow engine once; a failure degrades /api/chat/stream to 503.
	initCtx, cancelInit := context.WithTimeout(context.Background(), cfg.EngineInitTimeout)
	engines := agent.InitEngine(initCtx, agent.DialRemoteEngine(cfg.EngineURL, nil))
	cancelInit()
	if err := engines.InitError(); err != nil {
		logger.Error("workflow engine initialization failed", "engine_url", cfg.EngineURL, "error", err)
	} else {
		logger.Info("workflow engine ready", "engine_url", cfg.EngineURL)
	}

	store, err := checkpoint.Open(cfg.Checkpoint)
	if err != nil {
		logger.Error("failed to open checkpoint store", "backend", cfg.Checkpoint.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	service := agent.NewService(engines, agent.ServiceOptions{
		StreamTimeout: cfg.StreamTimeout,
		Checkpoints:   store,
		Metrics:       m,
		Logger:        logger,
	})

	// Create server
	srv := api.NewServer(cfg, service, m, logger)
	router := api.NewRouter(srv)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Disable for streaming
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ServerAddr, "env", cfg.AppEnv, "checkpoint_backend", cfg.Checkpoint.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		logger.Error("server failed", "error", err)
		store.Close()
		os.Exit(1)
	}

	logger.Info("shutting down server", "active_streams", service.ActiveStreams())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
