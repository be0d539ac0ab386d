// Package kernel implements the thread scheduler of a single-CPU kernel:
// thread control blocks and their lifecycle, the ready queue under either the
// priority or the multi-level feedback policy, timed sleep, priority donation
// through locks, and the dispatcher.
//
// All scheduler state lives in one Kernel. Code that mutates it runs with
// interrupts disabled through the hal.Interrupts the kernel was built with;
// there are no mutexes. Invariant violations are fatal: the kernel logs the
// diagnostic and panics with a *model.KernelPanic.
package kernel

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/threadsched/internal/hal"
	"github.com/me/threadsched/internal/logging"
	"github.com/me/threadsched/pkg/fixedpoint"
	"github.com/me/threadsched/pkg/model"
)

// Policy selects the ready-queue discipline. It is fixed for the lifetime
// of a kernel.
type Policy int

const (
	// PolicyPriority serves the highest effective priority first and
	// enables priority donation.
	PolicyPriority Policy = iota
	// PolicyFeedback is the multi-level feedback queue scheduler. Priorities
	// are recomputed from recent_cpu and nice; SetPriority is ignored.
	PolicyFeedback
)

func (p Policy) String() string {
	if p == PolicyFeedback {
		return "mlfqs"
	}
	return "priority"
}

// ParsePolicy maps "priority" or "mlfqs" (also "feedback") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "priority":
		return PolicyPriority, nil
	case "mlfqs", "feedback":
		return PolicyFeedback, nil
	}
	return PolicyPriority, fmt.Errorf("unknown scheduling policy %q (valid: priority, mlfqs)", s)
}

// Config holds kernel configuration.
type Config struct {
	Policy    Policy
	TimerFreq int // Timer ticks per second
	TimeSlice int // Ticks a thread may run before it is preempted
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Policy:    PolicyPriority,
		TimerFreq: 100,
		TimeSlice: 4,
	}
}

// recomputeInterval is how often, in ticks, feedback priorities are
// recomputed.
const recomputeInterval = 4

// Kernel is the process-wide scheduler context.
type Kernel struct {
	hw     hal.Hardware
	cfg    Config
	logger *slog.Logger
	tracer Tracer

	arena    *arena
	ready    readyQueue
	sleepers *sleepQueue

	current model.TID
	initial model.TID
	idle    model.TID
	nextTID model.TID

	sliceTicks int
	loadAvg    fixedpoint.Fixed
	stats      model.Stats
	started    *Semaphore
}

// New initializes the scheduler and turns the caller into the initial
// thread, named "main". Interrupts must be off.
func New(hw hal.Hardware, cfg Config, logger *slog.Logger) *Kernel {
	def := DefaultConfig()
	if cfg.TimerFreq <= 0 {
		cfg.TimerFreq = def.TimerFreq
	}
	if cfg.TimeSlice <= 0 {
		cfg.TimeSlice = def.TimeSlice
	}

	k := &Kernel{
		hw:     hw,
		cfg:    cfg,
		logger: logging.WithTicks(logger, hw.Ticks).With("component", "kernel"),
		arena:  newArena(),
	}
	if hw.Level() != hal.IntrOff {
		k.fatal("init", "interrupts must be off")
	}
	if cfg.Policy == PolicyFeedback {
		k.ready = newFeedbackQueues(k.arena)
	} else {
		k.ready = newPriorityList(k.arena)
	}
	k.sleepers = newSleepQueue(k.arena)

	t := k.newThread("main", model.PriDefault)
	if cfg.Policy == PolicyFeedback {
		k.recomputePriority(t)
	}
	t.state = model.ThreadRunning
	k.arena.add(t)
	k.current = t.tid
	k.initial = t.tid
	hw.Adopt(t.tid)
	hw.Attach(k.Tick, k.Preempt)

	k.logger.Info("kernel initialized", "policy", cfg.Policy, "timer_freq", cfg.TimerFreq, "time_slice", cfg.TimeSlice)
	return k
}

// Start creates the idle thread and enables interrupts. It returns once the
// idle thread has run and recorded itself.
func (k *Kernel) Start() {
	k.started = k.NewSemaphore(0)
	if _, err := k.spawn("idle", model.PriMin, k.idleLoop, nil, true); err != nil {
		k.fatal("start", "cannot create idle thread: %v", err)
	}
	k.hw.Enable()
	k.started.Down()
}

// idleLoop runs when nothing else is ready. After its first dispatch the
// idle thread never sits on the ready queue: the dispatcher picks it
// directly when the queue is empty.
func (k *Kernel) idleLoop(any) {
	k.idle = k.current
	k.started.Up()
	for {
		k.hw.Disable()
		k.block()
		k.hw.Halt()
	}
}

func (k *Kernel) newThread(name string, priority int) *Thread {
	k.nextTID++
	return &Thread{
		tid:          k.nextTID,
		name:         truncateName(name),
		state:        model.ThreadBlocked,
		basePriority: priority,
		priority:     priority,
		createdTick:  k.hw.Ticks(),
	}
}

// Current returns the running thread.
func (k *Kernel) Current() *Thread {
	return k.arena.get(k.current)
}

// CurrentID returns the running thread's TID.
func (k *Kernel) CurrentID() model.TID {
	return k.current
}

// Name returns the running thread's name.
func (k *Kernel) Name() string {
	return k.Current().name
}

// IdleID returns the idle thread's TID, or 0 before Start.
func (k *Kernel) IdleID() model.TID {
	return k.idle
}

// Policy returns the active scheduling policy.
func (k *Kernel) Policy() Policy {
	return k.cfg.Policy
}

// Config returns the kernel configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Stats returns the tick accounting so far.
func (k *Kernel) Stats() model.Stats {
	return k.stats
}

// ThreadInfo returns a snapshot of the thread with the given TID.
func (k *Kernel) ThreadInfo(tid model.TID) (model.ThreadInfo, bool) {
	old := k.hw.Disable()
	defer k.hw.SetLevel(old)
	t := k.arena.get(tid)
	if t == nil {
		return model.ThreadInfo{}, false
	}
	return t.Info(), true
}

// Snapshot returns every live thread, in creation order.
func (k *Kernel) Snapshot() []model.ThreadInfo {
	old := k.hw.Disable()
	defer k.hw.SetLevel(old)
	out := make([]model.ThreadInfo, 0, k.arena.live())
	for _, tid := range k.arena.registry {
		out = append(out, k.arena.get(tid).Info())
	}
	return out
}

// ReadyTIDs returns the ready queue in the order it would be served.
func (k *Kernel) ReadyTIDs() []model.TID {
	old := k.hw.Disable()
	defer k.hw.SetLevel(old)
	return k.ready.tids()
}

// SleepingTIDs returns the sleep queue in wake order.
func (k *Kernel) SleepingTIDs() []model.TID {
	old := k.hw.Disable()
	defer k.hw.SetLevel(old)
	return k.sleepers.tids()
}

// ForEach calls fn for every live thread. Interrupts must be off.
func (k *Kernel) ForEach(fn func(t *Thread)) {
	if k.hw.Level() != hal.IntrOff {
		k.fatal("for each", "interrupts must be off")
	}
	for _, tid := range k.arena.registry {
		fn(k.arena.get(tid))
	}
}

func (k *Kernel) cur() *Thread {
	t := k.arena.get(k.current)
	if t == nil {
		k.fatal("current", "running thread %s has no control block", k.current)
	}
	return t
}

func (k *Kernel) lookup(op string, tid model.TID) *Thread {
	t := k.arena.get(tid)
	if t == nil {
		k.fatal(op, "no thread with tid %s", tid)
	}
	return t
}

// transition moves t to state next, halting on an illegal transition.
func (k *Kernel) transition(op string, t *Thread, next model.ThreadState) {
	if !t.state.CanTransitionTo(next) {
		k.illegal(op, t, next)
	}
	t.state = next
}

func (k *Kernel) illegal(op string, t *Thread, next model.ThreadState) {
	err := &model.InvalidTransitionError{
		Entity: "thread",
		ID:     t.tid.String(),
		From:   string(t.state),
		To:     string(next),
	}
	k.logger.Error("kernel panic", "op", op, "error", err)
	panic(&model.KernelPanic{Op: op, Msg: "illegal thread state transition", Cause: err})
}

func (k *Kernel) assertThreadContext(op string) {
	if k.hw.InContext() {
		k.fatal(op, "called from interrupt context")
	}
}

func (k *Kernel) fatal(op, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	k.logger.Error("kernel panic", "op", op, "msg", msg)
	panic(&model.KernelPanic{Op: op, Msg: msg})
}
