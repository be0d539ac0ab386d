// Package runner executes stored simulation runs: one at a time on request,
// or in a polling loop that picks up runs queued through the API.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/threadsched/internal/kernel"
	"github.com/me/threadsched/internal/store"
	"github.com/me/threadsched/internal/workload"
	"github.com/me/threadsched/pkg/model"
)

// Runner drives PENDING runs to completion.
type Runner interface {
	// Start begins the polling loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the loop.
	Stop() error

	// Tick runs every PENDING run once. Used for testing.
	Tick(ctx context.Context) error
}

// NewRun builds a PENDING run record for a parsed scenario. text is the
// scenario source kept with the run so it can be executed later.
func NewRun(sc *workload.Scenario, text string) *model.Run {
	policy, err := kernel.ParsePolicy(sc.Policy)
	name := policy.String()
	if err != nil {
		name = sc.Policy
	}
	return &model.Run{
		ID:        "run_" + uuid.New().String(),
		Name:      sc.Name,
		Policy:    name,
		State:     model.RunStatePending,
		Scenario:  text,
		CreatedAt: time.Now().UTC(),
	}
}

// Execute claims a stored PENDING run, runs it and saves its result. The run
// is updated in place. A failed simulation is recorded on the run and is not
// an error; the returned error reports storage problems or an illegal state,
// including a run another executor has already claimed.
func Execute(ctx context.Context, st store.Store, run *model.Run, timeout time.Duration, logger *slog.Logger) error {
	logger = logger.With("run_id", run.ID)

	if !run.State.CanTransitionTo(model.RunStateRunning) {
		return &model.InvalidTransitionError{
			Entity: "run", ID: run.ID, From: string(run.State), To: string(model.RunStateRunning),
		}
	}
	claimed, err := st.ClaimRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("mark run %s running: %w", run.ID, err)
	}
	if !claimed {
		// Another executor got there first, or the run is gone.
		stored, err := st.GetRun(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("claim run %s: %w", run.ID, err)
		}
		return &model.InvalidTransitionError{
			Entity: "run", ID: run.ID, From: string(stored.State), To: string(model.RunStateRunning),
		}
	}
	run.State = model.RunStateRunning

	result, simErr := simulate(ctx, run, timeout, logger)
	if result == nil {
		// The scenario never reached the machine.
		now := time.Now().UTC()
		result = &model.Run{State: model.RunStateFailed, CompletedAt: &now}
	}
	if simErr != nil {
		result.State = model.RunStateFailed
		result.Error = simErr.Error()
	}

	result.ID = run.ID
	result.Name = run.Name
	result.Policy = run.Policy
	result.Scenario = run.Scenario
	result.CreatedAt = run.CreatedAt
	*run = *result

	if err := st.SaveResult(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	logger.Info("run finished", "state", run.State, "ticks", run.Ticks, "events", run.EventCount)
	return nil
}

func simulate(ctx context.Context, run *model.Run, timeout time.Duration, logger *slog.Logger) (*model.Run, error) {
	sc, err := workload.Parse([]byte(run.Scenario))
	if err != nil {
		return nil, err
	}
	if sc.Name == "" {
		sc.Name = run.Name
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return workload.Execute(ctx, sc, logger)
}
