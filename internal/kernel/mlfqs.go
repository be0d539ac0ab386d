package kernel

import (
	"fmt"

	"github.com/me/threadsched/pkg/fixedpoint"
	"github.com/me/threadsched/pkg/model"
)

var (
	loadDecay  = fixedpoint.Frac(59, 60)
	loadWeight = fixedpoint.Frac(1, 60)
)

// readyCount is the number of threads that are running or ready, not
// counting the idle thread.
func (k *Kernel) readyCount() int {
	n := k.ready.len()
	if k.current != k.idle {
		n++
	}
	return n
}

// updateLoadAvg applies load_avg = 59/60*load_avg + 1/60*ready_count.
func (k *Kernel) updateLoadAvg() {
	k.loadAvg = loadDecay.Mul(k.loadAvg).Add(loadWeight.MulInt(k.readyCount()))
	k.emit(model.EventLoadAvg, k.cur(), k.loadAvg.String())
	k.logger.Debug("load average updated", "load_avg", k.loadAvg, "ready", k.readyCount())
}

// updateRecentCPU decays every thread's recent_cpu:
// recent_cpu = (2*load_avg)/(2*load_avg+1)*recent_cpu + nice.
func (k *Kernel) updateRecentCPU() {
	twice := k.loadAvg.MulInt(2)
	coeff := twice.Div(twice.AddInt(1))
	k.ForEach(func(t *Thread) {
		if t.isIdle {
			return
		}
		t.recentCPU = coeff.Mul(t.recentCPU).AddInt(t.nice)
	})
}

// updatePriorities recomputes the priority of every thread and re-levels
// the ready ones whose level changed.
func (k *Kernel) updatePriorities() {
	k.ForEach(func(t *Thread) {
		if t.isIdle {
			return
		}
		old := t.priority
		if !k.recomputePriority(t) {
			return
		}
		kind := model.EventPriority
		if t.state == model.ThreadReady {
			kind = model.EventRelevel
		}
		k.emit(kind, t, fmt.Sprintf("%d -> %d", old, t.priority))
	})
}

// feedbackPriority is PRI_MAX - round(recent_cpu/4) - 2*nice, clamped.
func feedbackPriority(recentCPU fixedpoint.Fixed, nice int) int {
	return model.ClampPriority(model.PriMax - recentCPU.DivInt(4).Round() - 2*nice)
}

// recomputePriority sets t's priority from its recent_cpu and nice and
// reports whether it changed. A ready thread moves to its new level.
func (k *Kernel) recomputePriority(t *Thread) bool {
	p := feedbackPriority(t.recentCPU, t.nice)
	t.basePriority = p
	if p == t.priority {
		return false
	}
	t.priority = p
	if t.queue == queueReady {
		k.ready.reposition(t)
	}
	return true
}
