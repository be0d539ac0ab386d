// Package store persists simulation runs, their thread summaries and their
// scheduler traces.
package store

import (
	"context"

	"github.com/me/threadsched/pkg/model"
)

// Store defines the persistence layer for simulation runs.
type Store interface {
	// Run CRUD
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	// ClaimRun moves a PENDING run to RUNNING and reports whether this
	// caller made the move.
	ClaimRun(ctx context.Context, id string) (bool, error)
	DeleteRun(ctx context.Context, id string) error
	GetRunsByState(ctx context.Context, state model.RunState) ([]*model.Run, error)

	// Results
	SaveResult(ctx context.Context, run *model.Run) error
	ListEvents(ctx context.Context, runID string, kind model.EventKind) ([]model.Event, error)
	ListThreads(ctx context.Context, runID string) ([]model.ThreadSummary, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
