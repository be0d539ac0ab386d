package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/me/threadsched/internal/logging"
	"github.com/me/threadsched/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun(id string, created time.Time) *model.Run {
	return &model.Run{
		ID:        id,
		Name:      "donation",
		Policy:    "priority",
		State:     model.RunStatePending,
		Scenario:  "name: donation\nthreads: []\n",
		CreatedAt: created.UTC().Truncate(time.Millisecond),
	}
}

func finishedRun(id string) *model.Run {
	run := sampleRun(id, time.Now())
	done := run.CreatedAt.Add(time.Second)
	run.State = model.RunStateCompleted
	run.Ticks = 42
	run.LoadAvg = 3
	run.Stats = model.Stats{IdleTicks: 10, KernelTicks: 32, Switches: 7}
	run.CompletedAt = &done
	run.Threads = []model.ThreadSummary{
		{TID: 4, Name: "low", BasePriority: 2, FinalPriority: 2, CreatedTick: 0, ExitTick: 40, RunTicks: 20},
		{TID: 3, Name: "high", BasePriority: 40, FinalPriority: 40, CreatedTick: 0, ExitTick: 12, RunTicks: 12},
	}
	run.Events = []model.Event{
		{Seq: 1, Tick: 0, Kind: model.EventCreate, TID: 3, Thread: "high", Priority: 40},
		{Seq: 2, Tick: 0, Kind: model.EventLockWait, TID: 3, Thread: "high", Priority: 40, Detail: "a"},
		{Seq: 3, Tick: 5, Kind: model.EventDonate, TID: 4, Thread: "low", Priority: 40, Detail: "from high"},
		{Seq: 4, Tick: 9, Kind: model.EventLockWait, TID: 4, Thread: "low", Priority: 40, Detail: "b"},
	}
	run.EventCount = len(run.Events)
	return run
}

func TestMigrateIdempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRunCRUD(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun("run_1", time.Now())

	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Name != run.Name || got.Policy != run.Policy || got.State != model.RunStatePending {
		t.Errorf("got %+v, want %+v", got, run)
	}
	if got.Scenario != run.Scenario {
		t.Errorf("scenario = %q, want %q", got.Scenario, run.Scenario)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil", got.CompletedAt)
	}

	run.State = model.RunStateRunning
	if err := st.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, _ = st.GetRun(ctx, run.ID)
	if got.State != model.RunStateRunning {
		t.Errorf("state = %s, want RUNNING", got.State)
	}

	if err := st.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	got, err = st.GetRun(ctx, run.ID)
	if err != nil || got != nil {
		t.Errorf("GetRun after delete = %v, %v; want nil, nil", got, err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetRun(context.Background(), "run_missing")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestUpdateAndDeleteMissingRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.UpdateRun(ctx, sampleRun("run_missing", time.Now())); err == nil {
		t.Error("UpdateRun on missing run should fail")
	}
	if err := st.DeleteRun(ctx, "run_missing"); err == nil {
		t.Error("DeleteRun on missing run should fail")
	}
}

func TestClaimRunOnlyOnce(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun("run_claim", time.Now())
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	claimed, err := st.ClaimRun(ctx, run.ID)
	if err != nil || !claimed {
		t.Fatalf("first ClaimRun = %v, %v; want true, nil", claimed, err)
	}
	got, _ := st.GetRun(ctx, run.ID)
	if got.State != model.RunStateRunning {
		t.Errorf("state = %s, want RUNNING", got.State)
	}

	claimed, err = st.ClaimRun(ctx, run.ID)
	if err != nil || claimed {
		t.Errorf("second ClaimRun = %v, %v; want false, nil", claimed, err)
	}
	claimed, err = st.ClaimRun(ctx, "run_missing")
	if err != nil || claimed {
		t.Errorf("ClaimRun on missing run = %v, %v; want false, nil", claimed, err)
	}
}

func TestListRunsFiltersAndPaginates(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		run := sampleRun(fmt.Sprintf("run_%d", i), base.Add(time.Duration(i)*time.Minute))
		if i%2 == 1 {
			run.Policy = "mlfqs"
			run.State = model.RunStateCompleted
		}
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	tests := []struct {
		name      string
		opts      model.ListOptions
		wantTotal int
		wantIDs   []string
	}{
		{"all newest first", model.ListOptions{Limit: 10}, 5, []string{"run_4", "run_3", "run_2", "run_1", "run_0"}},
		{"page", model.ListOptions{Limit: 2, Offset: 1}, 5, []string{"run_3", "run_2"}},
		{"by policy", model.ListOptions{Policy: "mlfqs"}, 2, []string{"run_3", "run_1"}},
		{"by state", model.ListOptions{State: "PENDING"}, 3, []string{"run_4", "run_2", "run_0"}},
		{"both", model.ListOptions{State: "PENDING", Policy: "mlfqs"}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, total, err := st.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestGetRunsByState(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, state := range []model.RunState{model.RunStatePending, model.RunStateFailed, model.RunStatePending} {
		run := sampleRun(fmt.Sprintf("run_%d", i), base.Add(time.Duration(i)*time.Second))
		run.State = state
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := st.GetRunsByState(ctx, model.RunStatePending)
	if err != nil {
		t.Fatalf("GetRunsByState: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run_0" || runs[1].ID != "run_2" {
		t.Errorf("runs = %v, want run_0 and run_2 oldest first", runs)
	}
}

func TestSaveResult(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := finishedRun("run_done")

	pending := *run
	pending.State = model.RunStatePending
	pending.CompletedAt = nil
	if err := st.CreateRun(ctx, &pending); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := st.SaveResult(ctx, run); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	// Saving twice replaces the earlier result.
	if err := st.SaveResult(ctx, run); err != nil {
		t.Fatalf("second SaveResult: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != model.RunStateCompleted || got.Ticks != 42 || got.LoadAvg != 3 {
		t.Errorf("run = %+v", got)
	}
	if got.Stats != run.Stats {
		t.Errorf("stats = %+v, want %+v", got.Stats, run.Stats)
	}
	if got.EventCount != 4 {
		t.Errorf("event_count = %d, want 4", got.EventCount)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(*run.CompletedAt) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, run.CompletedAt)
	}
	if len(got.Threads) != 2 || got.Threads[0].Name != "high" || got.Threads[1].RunTicks != 20 {
		t.Errorf("threads = %+v, want high then low by tid", got.Threads)
	}

	events, err := st.ListEvents(ctx, run.ID, "")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if events[2] != run.Events[2] {
		t.Errorf("event 3 = %+v, want %+v", events[2], run.Events[2])
	}

	waits, err := st.ListEvents(ctx, run.ID, model.EventLockWait)
	if err != nil {
		t.Fatalf("ListEvents(kind): %v", err)
	}
	if len(waits) != 2 || waits[0].Seq != 2 || waits[1].Seq != 4 {
		t.Errorf("lock_wait events = %+v, want seq 2 and 4", waits)
	}

	if err := st.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	events, _ = st.ListEvents(ctx, run.ID, "")
	threads, _ := st.ListThreads(ctx, run.ID)
	if len(events) != 0 || len(threads) != 0 {
		t.Errorf("left %d events and %d threads after delete", len(events), len(threads))
	}
}

func TestSaveResultMissingRun(t *testing.T) {
	st := testStore(t)
	if err := st.SaveResult(context.Background(), finishedRun("run_ghost")); err == nil {
		t.Fatal("SaveResult on missing run should fail")
	}
	events, _ := st.ListEvents(context.Background(), "run_ghost", "")
	if len(events) != 0 {
		t.Errorf("events = %d, want the transaction rolled back", len(events))
	}
}
