package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/threadsched/internal/store"
	"github.com/me/threadsched/pkg/model"
)

// Config holds runner configuration.
type Config struct {
	PollInterval time.Duration
	RunTimeout   time.Duration // Wall-clock limit per run (0 = none)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second, RunTimeout: 30 * time.Second}
}

// Loop implements Runner with a polling loop.
type Loop struct {
	store  store.Store
	config Config
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLoop creates a new runner loop.
func NewLoop(st store.Store, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		store:  st,
		config: cfg,
		logger: logger.With("component", "runner"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the polling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("runner started", "poll_interval", l.config.PollInterval, "run_timeout", l.config.RunTimeout)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("runner stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("runner stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the loop and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick executes every PENDING run, oldest first. A run that cannot be saved
// is logged and skipped so the others still make progress.
func (l *Loop) Tick(ctx context.Context) error {
	pending, err := l.store.GetRunsByState(ctx, model.RunStatePending)
	if err != nil {
		return fmt.Errorf("list pending runs: %w", err)
	}
	for _, run := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Debug("executing run", "run_id", run.ID, "name", run.Name)
		err := Execute(ctx, l.store, run, l.config.RunTimeout, l.logger)
		var te *model.InvalidTransitionError
		switch {
		case errors.As(err, &te):
			l.logger.Debug("run already claimed", "run_id", run.ID, "state", te.From)
		case err != nil:
			l.logger.Error("execute run", "run_id", run.ID, "error", err)
		}
	}
	return nil
}
