package model

import "time"

// Run is one execution of a workload scenario on the simulated machine.
type Run struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Policy      string          `json:"policy" yaml:"policy"`
	State       RunState        `json:"state" yaml:"state"`
	Scenario    string          `json:"scenario,omitempty" yaml:"-"`
	Ticks       int64           `json:"ticks" yaml:"ticks"`
	LoadAvg     int             `json:"load_avg" yaml:"load_avg"` // 100 times the real value, rounded
	Stats       Stats           `json:"stats" yaml:"stats"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	Threads     []ThreadSummary `json:"threads,omitempty" yaml:"threads,omitempty"`
	Events      []Event         `json:"events,omitempty" yaml:"events,omitempty"`
	EventCount  int             `json:"event_count" yaml:"event_count"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	CompletedAt *time.Time      `json:"completed_at" yaml:"completed_at,omitempty"`
}

// ThreadSummary records how a workload thread ended.
type ThreadSummary struct {
	TID           TID    `json:"tid" yaml:"tid"`
	Name          string `json:"name" yaml:"name"`
	BasePriority  int    `json:"base_priority" yaml:"base_priority"`
	FinalPriority int    `json:"final_priority" yaml:"final_priority"`
	Nice          int    `json:"nice" yaml:"nice"`
	RecentCPU     int    `json:"recent_cpu" yaml:"recent_cpu"`
	CreatedTick   int64  `json:"created_tick" yaml:"created_tick"`
	ExitTick      int64  `json:"exit_tick" yaml:"exit_tick"`
	RunTicks      int64  `json:"run_ticks" yaml:"run_ticks"`
}

// RunSummary provides aggregate counts for a list of runs.
type RunSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ComputeRunSummary calculates the RunSummary from a slice of Runs.
func ComputeRunSummary(runs []*Run) RunSummary {
	s := RunSummary{Total: len(runs)}
	for _, r := range runs {
		switch r.State {
		case RunStatePending:
			s.Pending++
		case RunStateRunning:
			s.Running++
		case RunStateCompleted:
			s.Completed++
		case RunStateFailed:
			s.Failed++
		}
	}
	return s
}
