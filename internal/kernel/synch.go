package kernel

import (
	"slices"

	"github.com/me/threadsched/pkg/model"
)

// Semaphore is a counting semaphore. Up wakes the waiter with the highest
// effective priority, first come first served among equals.
type Semaphore struct {
	k       *Kernel
	value   int
	waiters []model.TID
}

// NewSemaphore returns a semaphore with the given initial value.
func (k *Kernel) NewSemaphore(value int) *Semaphore {
	if value < 0 {
		k.fatal("semaphore", "negative initial value %d", value)
	}
	return &Semaphore{k: k, value: value}
}

// Value returns the current count.
func (s *Semaphore) Value() int { return s.value }

// Down waits for the value to become positive, then decrements it.
func (s *Semaphore) Down() {
	k := s.k
	k.assertThreadContext("sema down")
	old := k.hw.Disable()
	for s.value == 0 {
		s.waiters = append(s.waiters, k.current)
		k.block()
	}
	s.value--
	k.hw.SetLevel(old)
}

// TryDown decrements the value if it is positive, without waiting.
func (s *Semaphore) TryDown() bool {
	k := s.k
	old := k.hw.Disable()
	defer k.hw.SetLevel(old)
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the value and wakes one waiter. Outside interrupt context
// the caller yields if the woken thread outranks it.
func (s *Semaphore) Up() {
	k := s.k
	old := k.hw.Disable()
	woke := false
	if i := s.highestWaiter(); i >= 0 {
		t := k.lookup("sema up", s.waiters[i])
		s.waiters = slices.Delete(s.waiters, i, i+1)
		k.unblock(t)
		woke = true
	}
	s.value++
	if woke {
		k.yieldIfOutranked()
	}
	k.hw.SetLevel(old)
}

func (s *Semaphore) highestWaiter() int {
	best := -1
	for i, tid := range s.waiters {
		t := s.k.arena.get(tid)
		if t == nil {
			continue
		}
		if best < 0 || t.priority > s.k.arena.get(s.waiters[best]).priority {
			best = i
		}
	}
	return best
}

// Waiters returns the threads blocked in Down, in arrival order.
func (s *Semaphore) Waiters() []model.TID {
	return slices.Clone(s.waiters)
}

// Lock is a mutual exclusion lock owned by the thread that acquired it.
// Under the priority policy a thread that blocks on a held lock donates its
// effective priority to the holder.
type Lock struct {
	k      *Kernel
	name   string
	holder model.TID
	sema   *Semaphore
}

// NewLock returns an unheld lock.
func (k *Kernel) NewLock(name string) *Lock {
	return &Lock{k: k, name: name, sema: k.NewSemaphore(1)}
}

// Name returns the lock's name.
func (l *Lock) Name() string { return l.name }

// Holder returns the TID of the owning thread, or 0 if the lock is free.
func (l *Lock) Holder() model.TID { return l.holder }

// HeldByCurrent reports whether the running thread holds the lock.
func (l *Lock) HeldByCurrent() bool {
	return l.holder != noThread && l.holder == l.k.current
}

// Acquire waits until the lock is free and takes it.
func (l *Lock) Acquire() {
	k := l.k
	k.assertThreadContext("lock acquire")
	old := k.hw.Disable()
	cur := k.cur()
	if l.holder == cur.tid {
		k.fatal("lock acquire", "lock %q already held by %s", l.name, cur.name)
	}
	if l.holder != noThread {
		cur.waitingOn = l
		k.emit(model.EventLockWait, cur, l.name)
		if k.cfg.Policy == PolicyPriority {
			k.donate(cur, l)
		}
	}
	l.sema.Down()
	l.take(cur)
	k.hw.SetLevel(old)
}

// TryAcquire takes the lock if it is free, without waiting.
func (l *Lock) TryAcquire() bool {
	k := l.k
	old := k.hw.Disable()
	defer k.hw.SetLevel(old)
	if l.holder != noThread || !l.sema.TryDown() {
		return false
	}
	l.take(k.cur())
	return true
}

func (l *Lock) take(t *Thread) {
	k := l.k
	l.holder = t.tid
	t.waitingOn = nil
	if k.cfg.Policy == PolicyPriority {
		k.adoptWaiters(t, l)
	}
	k.emit(model.EventLockTaken, t, l.name)
}

// Release frees the lock. Donations received through it are withdrawn, and
// the caller yields if it is no longer the highest priority thread.
func (l *Lock) Release() {
	k := l.k
	old := k.hw.Disable()
	cur := k.cur()
	if l.holder != cur.tid {
		k.fatal("lock release", "lock %q is not held by %s", l.name, cur.name)
	}
	if k.cfg.Policy == PolicyPriority {
		k.revoke(cur, l)
	}
	l.holder = noThread
	l.sema.Up()
	k.yieldIfOutranked()
	k.hw.SetLevel(old)
}
