package model

// ThreadState represents the lifecycle state of a kernel thread.
type ThreadState string

const (
	ThreadRunning  ThreadState = "RUNNING"
	ThreadReady    ThreadState = "READY"
	ThreadBlocked  ThreadState = "BLOCKED"
	ThreadSleeping ThreadState = "SLEEPING"
	ThreadDying    ThreadState = "DYING"
)

// String returns the string representation of the thread state.
func (s ThreadState) String() string {
	return string(s)
}

// IsRunnable returns true if the thread is running or waiting for the CPU.
func (s ThreadState) IsRunnable() bool {
	return s == ThreadRunning || s == ThreadReady
}

// ValidThreadTransitions defines the allowed state transitions for threads.
// A new thread starts BLOCKED. The idle thread is the one exception: it is
// dispatched straight from BLOCKED when nothing else is ready.
var ValidThreadTransitions = map[ThreadState][]ThreadState{
	ThreadBlocked:  {ThreadReady},
	ThreadReady:    {ThreadRunning},
	ThreadRunning:  {ThreadReady, ThreadBlocked, ThreadSleeping, ThreadDying},
	ThreadSleeping: {ThreadReady},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ThreadState) CanTransitionTo(next ThreadState) bool {
	for _, allowed := range ValidThreadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the lifecycle state of a simulation Run.
type RunState string

const (
	RunStatePending   RunState = "PENDING"
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// Valid reports whether s is one of the known run states.
func (s RunState) Valid() bool {
	switch s {
	case RunStatePending, RunStateRunning, RunStateCompleted, RunStateFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for Runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStatePending: {RunStateRunning, RunStateFailed},
	RunStateRunning: {RunStateCompleted, RunStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
