package kernel

import (
	"slices"

	"github.com/me/threadsched/pkg/model"
)

// donate records that waiter is blocked on l and raises the holder's
// effective priority, following the chain of holders that are themselves
// blocked on locks. The walk stops once a priority stays unchanged, or after
// as many steps as there are live threads, which only a lock cycle can
// reach.
func (k *Kernel) donate(waiter *Thread, l *Lock) {
	holder := k.lookup("donate", l.holder)
	holder.donors = append(holder.donors, waiter.tid)
	k.emit(model.EventDonate, holder, "from "+waiter.name+" via "+l.name)

	limit := k.arena.live()
	t := holder
	for depth := 0; ; depth++ {
		if depth >= limit {
			k.logger.Warn("donation chain too long, possible lock cycle",
				"waiter", waiter.tid, "lock", l.name, "depth", depth)
			return
		}
		if !k.refreshPriority(t) {
			return
		}
		next := t.waitingOn
		if next == nil || next.holder == noThread {
			return
		}
		t = k.lookup("donate", next.holder)
	}
}

// revoke drops the donations holder received through l and recomputes its
// priority from its base and the donors that remain.
func (k *Kernel) revoke(holder *Thread, l *Lock) {
	before := len(holder.donors)
	holder.donors = slices.DeleteFunc(holder.donors, func(tid model.TID) bool {
		d := k.arena.get(tid)
		return d == nil || d.waitingOn == l
	})
	if len(holder.donors) == before {
		return
	}
	k.refreshPriority(holder)
	k.emit(model.EventRevoke, holder, l.name)
}

// adoptWaiters makes the threads still queued on l donors of its new holder.
func (k *Kernel) adoptWaiters(holder *Thread, l *Lock) {
	for _, tid := range l.sema.waiters {
		if d := k.arena.get(tid); d != nil && d.waitingOn == l {
			holder.donors = append(holder.donors, tid)
		}
	}
	k.refreshPriority(holder)
}

// refreshPriority sets t's effective priority to the maximum of its base
// priority and its donors' effective priorities, and reports whether it
// changed. A ready thread is moved to its new place in the queue.
func (k *Kernel) refreshPriority(t *Thread) bool {
	p := t.basePriority
	for _, tid := range t.donors {
		if d := k.arena.get(tid); d != nil && d.priority > p {
			p = d.priority
		}
	}
	if p == t.priority {
		return false
	}
	k.logger.Debug("effective priority changed", "tid", t.tid, "from", t.priority, "to", p)
	t.priority = p
	if t.queue == queueReady {
		k.ready.reposition(t)
	}
	return true
}
