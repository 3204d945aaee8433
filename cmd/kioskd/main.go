package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/kiosk/internal/app"
	"github.com/ent0n29/kiosk/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", slog.Any("error", err))
		}
	}()

	// Listen before starting the controller: with no KIOSK_BACKEND_URL the
	// controller fetches from this process.
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		logger.Error("listen error", slog.String("addr", cfg.BindAddr), slog.Any("error", err))
		os.Exit(1)
	}
	httpServer := &http.Server{Handler: built.API.Router()}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := built.Orchestrator.Start(ctx); err != nil {
		logger.Error("controller start failed", slog.Any("error", err))
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("serve error", slog.Any("error", err))
		}
	}

	built.Orchestrator.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
