package kernel

import (
	"fmt"
	"math"

	"github.com/me/threadsched/internal/hal"
	"github.com/me/threadsched/pkg/fixedpoint"
	"github.com/me/threadsched/pkg/model"
)

// Create starts a new thread running fn(arg) at the given priority and
// returns its TID. Under the feedback policy the priority argument is
// replaced by the computed one and the thread inherits the creator's nice
// and recent_cpu. If the new thread outranks the creator, the creator
// yields before Create returns.
//
// Create fails with an error wrapping model.ErrNoMemory when no page is
// left to back the thread.
func (k *Kernel) Create(name string, priority int, fn ThreadFunc, arg any) (model.TID, error) {
	return k.spawn(name, priority, fn, arg, false)
}

func (k *Kernel) spawn(name string, priority int, fn ThreadFunc, arg any, idle bool) (model.TID, error) {
	if fn == nil {
		k.fatal("create", "thread %q has no function", name)
	}
	if !model.ValidPriority(priority) {
		k.fatal("create", "priority %d out of range [%d, %d]", priority, model.PriMin, model.PriMax)
	}

	page, err := k.hw.GetPage()
	if err != nil {
		k.logger.Warn("thread creation failed", "name", name, "error", err)
		return model.TIDError, fmt.Errorf("create thread %q: %w", name, err)
	}

	old := k.hw.Disable()
	parent := k.cur()
	t := k.newThread(name, priority)
	t.page, t.hasPage = page, true
	t.fn, t.arg = fn, arg
	t.isIdle = idle
	if k.cfg.Policy == PolicyFeedback && !idle {
		t.nice = parent.nice
		t.recentCPU = parent.recentCPU
		k.recomputePriority(t)
	}
	k.arena.add(t)
	k.hw.Spawn(t.tid, k.entry(t.tid))
	k.emit(model.EventCreate, t, "by "+parent.name)
	k.logger.Debug("thread created", "tid", t.tid, "name", t.name, "priority", t.priority)
	k.unblock(t)
	outranks := !idle && t.priority > parent.priority
	k.hw.SetLevel(old)

	if outranks && !k.hw.InContext() {
		k.Yield()
	}
	return t.tid, nil
}

// entry is the first code a new thread runs once it is dispatched.
func (k *Kernel) entry(tid model.TID) func(prev model.TID) {
	return func(prev model.TID) {
		k.scheduleTail(tid, prev)
		k.hw.Enable()
		t := k.arena.get(tid)
		t.fn(t.arg)
		k.Exit()
	}
}

// Yield puts the running thread back on the ready queue and dispatches. The
// same thread may be picked again.
func (k *Kernel) Yield() {
	k.assertThreadContext("yield")
	old := k.hw.Disable()
	k.yield()
	k.hw.SetLevel(old)
}

func (k *Kernel) yield() {
	cur := k.cur()
	if cur.isIdle {
		k.transition("yield", cur, model.ThreadBlocked)
	} else {
		k.transition("yield", cur, model.ThreadReady)
		k.ready.push(cur)
	}
	k.emit(model.EventYield, cur, "")
	k.schedule()
}

// Block puts the running thread to sleep until Unblock is called on it.
// Interrupts must be off, and the caller must have recorded the thread
// somewhere it will be unblocked from.
func (k *Kernel) Block() {
	k.assertThreadContext("block")
	if k.hw.Level() != hal.IntrOff {
		k.fatal("block", "interrupts must be off")
	}
	k.block()
}

func (k *Kernel) block() {
	cur := k.cur()
	k.transition("block", cur, model.ThreadBlocked)
	if !cur.isIdle {
		k.emit(model.EventBlock, cur, lockName(cur.waitingOn))
	}
	k.schedule()
}

// Unblock makes a BLOCKED or SLEEPING thread ready to run. It never
// preempts the caller, so it is safe to call with interrupts off or from
// the timer hook.
func (k *Kernel) Unblock(tid model.TID) {
	old := k.hw.Disable()
	k.unblock(k.lookup("unblock", tid))
	k.hw.SetLevel(old)
}

func (k *Kernel) unblock(t *Thread) {
	kind := model.EventUnblock
	switch t.state {
	case model.ThreadBlocked:
	case model.ThreadSleeping:
		k.sleepers.remove(t)
		kind = model.EventWake
	default:
		k.illegal("unblock", t, model.ThreadReady)
	}
	t.waitingOn = nil
	t.state = model.ThreadReady
	k.ready.push(t)
	if !t.isIdle {
		k.emit(kind, t, "")
	}
}

// Sleep suspends the running thread for at least ticks timer ticks. A
// non-positive count returns at once.
func (k *Kernel) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	k.assertThreadContext("sleep")
	old := k.hw.Disable()
	cur := k.cur()
	if cur.isIdle {
		k.fatal("sleep", "idle thread cannot sleep")
	}
	cur.wakeTick = wakeTickAfter(k.hw.Ticks(), ticks)
	k.transition("sleep", cur, model.ThreadSleeping)
	k.sleepers.insert(cur)
	k.emit(model.EventSleep, cur, fmt.Sprintf("until tick %d", cur.wakeTick))
	k.schedule()
	k.hw.SetLevel(old)
}

// wakeTickAfter returns now+ticks, saturating at math.MaxInt64.
func wakeTickAfter(now, ticks int64) int64 {
	if ticks > math.MaxInt64-now {
		return math.MaxInt64
	}
	return now + ticks
}

// Exit ends the running thread. Its page is reclaimed by the next thread to
// run. Exit never returns.
func (k *Kernel) Exit() {
	k.assertThreadContext("exit")
	k.hw.Disable()
	cur := k.cur()
	if cur.isIdle {
		k.fatal("exit", "idle thread cannot exit")
	}
	k.arena.unregister(cur.tid)
	k.transition("exit", cur, model.ThreadDying)
	k.emit(model.EventExit, cur, "")
	k.logger.Debug("thread exiting", "tid", cur.tid, "name", cur.name, "run_ticks", cur.runTicks)
	k.schedule()
	k.fatal("exit", "dying thread %s was rescheduled", cur.tid)
}

// GetPriority returns the running thread's effective priority.
func (k *Kernel) GetPriority() int {
	return k.Current().priority
}

// SetPriority sets the running thread's base priority. A donated effective
// priority is never lowered by this; the base only sets the floor. Ignored
// under the feedback policy.
func (k *Kernel) SetPriority(p int) {
	if k.cfg.Policy == PolicyFeedback {
		return
	}
	if !model.ValidPriority(p) {
		k.fatal("set priority", "priority %d out of range [%d, %d]", p, model.PriMin, model.PriMax)
	}
	old := k.hw.Disable()
	cur := k.cur()
	cur.basePriority = p
	k.refreshPriority(cur)
	k.emit(model.EventPriority, cur, fmt.Sprintf("base %d", p))
	k.yieldIfOutranked()
	k.hw.SetLevel(old)
}

// GetNice returns the running thread's nice value.
func (k *Kernel) GetNice() int {
	return k.Current().nice
}

// SetNice sets the running thread's nice value. Under the feedback policy
// its priority is recomputed at once, and the thread yields if it no longer
// has the highest priority.
func (k *Kernel) SetNice(n int) {
	if !model.ValidNice(n) {
		k.fatal("set nice", "nice %d out of range [%d, %d]", n, model.NiceMin, model.NiceMax)
	}
	old := k.hw.Disable()
	cur := k.cur()
	cur.nice = n
	if k.cfg.Policy == PolicyFeedback {
		k.recomputePriority(cur)
	}
	k.emit(model.EventNice, cur, fmt.Sprintf("nice %d", n))
	k.yieldIfOutranked()
	k.hw.SetLevel(old)
}

// LoadAvg returns 100 times the system load average, rounded to nearest.
func (k *Kernel) LoadAvg() int {
	return k.loadAvg.MulInt(100).Round()
}

// LoadAvgFixed returns the raw fixed-point load average.
func (k *Kernel) LoadAvgFixed() fixedpoint.Fixed {
	return k.loadAvg
}

// RecentCPU returns 100 times the running thread's recent_cpu, rounded to
// nearest.
func (k *Kernel) RecentCPU() int {
	return k.Current().recentCPU.MulInt(100).Round()
}

// Log records a message from the running thread in the trace.
func (k *Kernel) Log(msg string) {
	old := k.hw.Disable()
	k.emit(model.EventLog, k.cur(), msg)
	k.hw.SetLevel(old)
}

// yieldIfOutranked yields when a ready thread now outranks the running one.
// Interrupts must be off.
func (k *Kernel) yieldIfOutranked() {
	if !k.hw.InContext() && !k.hasHighestPriority() {
		k.yield()
	}
}

func lockName(l *Lock) string {
	if l == nil {
		return ""
	}
	return l.name
}
