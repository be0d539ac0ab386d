package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/me/threadsched/internal/config"
	"github.com/me/threadsched/internal/runner"
	"github.com/me/threadsched/internal/store"
)

// Serve runs the API server and the runner loop on st until ctx is done,
// then shuts both down.
func Serve(ctx context.Context, cfg config.ServerConfig, st store.Store, logger *slog.Logger) error {
	loop := runner.NewLoop(st, runner.Config{
		PollInterval: cfg.PollInterval,
		RunTimeout:   cfg.RunTimeout,
	}, logger)
	srv := New(cfg, st, loop, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv.StartRunner(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			loop.Stop()
			return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	// Stop the runner before the HTTP server.
	if err := loop.Stop(); err != nil {
		logger.Error("runner stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
