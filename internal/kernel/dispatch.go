package kernel

import (
	"github.com/me/threadsched/internal/hal"
	"github.com/me/threadsched/pkg/model"
)

// schedule switches to the next thread to run. The running thread must
// already have left the RUNNING state, and interrupts must be off.
func (k *Kernel) schedule() {
	if k.hw.Level() != hal.IntrOff {
		k.fatal("schedule", "interrupts must be off")
	}
	cur := k.cur()
	if cur.state == model.ThreadRunning {
		k.fatal("schedule", "thread %s is still running", cur.tid)
	}

	next := k.pickNext()
	prev := cur.tid
	if next.tid != cur.tid {
		k.stats.Switches++
		prev = k.hw.Switch(cur.tid, next.tid)
	}
	k.scheduleTail(cur.tid, prev)
}

// pickNext returns the thread to run next: the head of the ready queue, or
// the idle thread when the queue is empty.
func (k *Kernel) pickNext() *Thread {
	if t := k.ready.pop(); t != nil {
		return t
	}
	idle := k.arena.get(k.idle)
	if idle == nil {
		k.fatal("schedule", "no thread is ready to run")
	}
	return idle
}

// scheduleTail completes a switch on the new thread's side. prev is the
// thread that was running before; if it is dying, its page is reclaimed
// here, now that the CPU no longer runs on it.
func (k *Kernel) scheduleTail(self, prev model.TID) {
	t := k.arena.get(self)
	if t.isIdle && t.state == model.ThreadBlocked {
		t.state = model.ThreadRunning
	} else {
		k.transition("dispatch", t, model.ThreadRunning)
	}
	k.current = self
	k.sliceTicks = 0

	if prev == self {
		return
	}
	from := k.arena.get(prev)
	if from != nil && from.state == model.ThreadDying && prev != k.initial {
		k.reclaim(from)
	}
	detail := "from " + prev.String()
	if from != nil {
		detail = "from " + from.name
	}
	k.emit(model.EventDispatch, t, detail)
}

func (k *Kernel) reclaim(t *Thread) {
	if t.hasPage {
		k.hw.FreePage(t.page)
		t.hasPage = false
	}
	k.arena.remove(t.tid)
	k.hw.Release(t.tid)
	k.emit(model.EventReclaim, t, "")
	k.logger.Debug("thread reclaimed", "tid", t.tid, "name", t.name)
}

// hasHighestPriority reports whether the running thread may keep the CPU:
// no ready thread has a higher effective priority. The idle thread never
// outranks a ready thread.
func (k *Kernel) hasHighestPriority() bool {
	top := k.ready.peek()
	if top == nil {
		return true
	}
	cur := k.cur()
	if cur.isIdle {
		return false
	}
	return cur.priority >= top.priority
}

// Tick is the timer interrupt hook. It runs in interrupt context once per
// tick: it charges the tick to the running thread, drives the feedback
// recomputation, wakes due sleepers and requests a preemption when the
// time slice is used up or a higher-priority thread is ready.
func (k *Kernel) Tick() {
	if !k.hw.InContext() {
		k.fatal("tick", "timer hook called outside interrupt context")
	}
	cur := k.cur()
	now := k.hw.Ticks()

	if cur.isIdle {
		k.stats.IdleTicks++
	} else {
		k.stats.KernelTicks++
		cur.runTicks++
	}

	if k.cfg.Policy == PolicyFeedback {
		if !cur.isIdle {
			cur.recentCPU = cur.recentCPU.AddInt(1)
		}
		if now%int64(k.cfg.TimerFreq) == 0 {
			k.updateLoadAvg()
			k.updateRecentCPU()
		}
		if now%recomputeInterval == 0 {
			k.updatePriorities()
		}
	}

	k.wakeSleepers(now)

	k.sliceTicks++
	if k.sliceTicks >= k.cfg.TimeSlice || !k.hasHighestPriority() {
		k.hw.YieldOnReturn()
	}
}

// wakeSleepers readies every sleeper whose wake tick has come.
func (k *Kernel) wakeSleepers(now int64) {
	for t := k.sleepers.head(); t != nil && t.wakeTick <= now; t = k.sleepers.head() {
		k.unblock(t)
	}
}

// Preempt yields the running thread on behalf of the timer. The machine
// calls it once an interrupt that requested a yield has returned.
func (k *Kernel) Preempt() {
	old := k.hw.Disable()
	cur := k.cur()
	if !cur.isIdle {
		k.emit(model.EventPreempt, cur, "")
	}
	k.yield()
	k.hw.SetLevel(old)
}
