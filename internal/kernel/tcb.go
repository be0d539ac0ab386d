package kernel

import (
	"unicode/utf8"

	"github.com/me/threadsched/internal/hal"
	"github.com/me/threadsched/pkg/fixedpoint"
	"github.com/me/threadsched/pkg/model"
)

// maxNameLen is the longest thread name kept; longer names are truncated.
const maxNameLen = 15

// noThread marks a free lock.
const noThread model.TID = 0

// ThreadFunc is the body of a kernel thread. The thread exits when it returns.
type ThreadFunc func(arg any)

// queueKind records which scheduler structure holds a thread.
type queueKind int

const (
	queueNone queueKind = iota
	queueReady
	queueSleep
)

// Thread is a thread control block. Fields are owned by the kernel and only
// change with interrupts off; the exported methods are read-only views.
type Thread struct {
	tid          model.TID
	name         string
	state        model.ThreadState
	basePriority int
	priority     int
	donors       []model.TID
	waitingOn    *Lock
	nice         int
	recentCPU    fixedpoint.Fixed
	wakeTick     int64

	page    hal.Page
	hasPage bool
	isIdle  bool

	queue queueKind
	level int // feedback queue level while queued

	fn  ThreadFunc
	arg any

	createdTick int64
	runTicks    int64
}

// TID returns the thread's identifier.
func (t *Thread) TID() model.TID { return t.tid }

// Name returns the thread's name, truncated to 15 bytes.
func (t *Thread) Name() string { return t.name }

// State returns the thread's lifecycle state.
func (t *Thread) State() model.ThreadState { return t.state }

// BasePriority returns the priority set by the thread itself, or computed by
// the feedback scheduler, before any donation.
func (t *Thread) BasePriority() int { return t.basePriority }

// Priority returns the effective priority, including donations.
func (t *Thread) Priority() int { return t.priority }

// Nice returns the thread's nice value.
func (t *Thread) Nice() int { return t.nice }

// RecentCPU returns the raw fixed-point recent_cpu estimate.
func (t *Thread) RecentCPU() fixedpoint.Fixed { return t.recentCPU }

// WakeTick returns the tick a sleeping thread wakes at.
func (t *Thread) WakeTick() int64 { return t.wakeTick }

// CreatedTick returns the tick the thread was created at.
func (t *Thread) CreatedTick() int64 { return t.createdTick }

// RunTicks returns the number of ticks the thread has run for.
func (t *Thread) RunTicks() int64 { return t.runTicks }

// IsIdle reports whether t is the idle thread.
func (t *Thread) IsIdle() bool { return t.isIdle }

// WaitingOn returns the lock the thread is blocked acquiring, or nil.
func (t *Thread) WaitingOn() *Lock { return t.waitingOn }

// Donors returns a copy of the threads currently donating priority to t.
func (t *Thread) Donors() []model.TID {
	out := make([]model.TID, len(t.donors))
	copy(out, t.donors)
	return out
}

// Info returns a snapshot of the thread.
func (t *Thread) Info() model.ThreadInfo {
	info := model.ThreadInfo{
		TID:               t.tid,
		Name:              t.name,
		State:             t.state,
		BasePriority:      t.basePriority,
		EffectivePriority: t.priority,
		Nice:              t.nice,
		RecentCPU:         t.recentCPU.MulInt(100).Round(),
		Donors:            t.Donors(),
	}
	if len(info.Donors) == 0 {
		info.Donors = nil
	}
	if t.waitingOn != nil {
		info.WaitingOn = t.waitingOn.name
	}
	if t.state == model.ThreadSleeping {
		info.WakeTick = t.wakeTick
	}
	return info
}

// truncateName cuts name to at most maxNameLen bytes without splitting a
// UTF-8 sequence.
func truncateName(name string) string {
	if len(name) <= maxNameLen {
		return name
	}
	cut := maxNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// arena owns every thread control block, addressed by TID. The registry
// lists the live (not yet dying) threads in creation order.
type arena struct {
	threads  map[model.TID]*Thread
	registry []model.TID
}

func newArena() *arena {
	return &arena{threads: make(map[model.TID]*Thread)}
}

func (a *arena) get(tid model.TID) *Thread {
	return a.threads[tid]
}

func (a *arena) add(t *Thread) {
	a.threads[t.tid] = t
	a.registry = append(a.registry, t.tid)
}

// unregister drops tid from the registry. The TCB stays addressable until
// it is reclaimed.
func (a *arena) unregister(tid model.TID) {
	for i, id := range a.registry {
		if id == tid {
			a.registry = append(a.registry[:i], a.registry[i+1:]...)
			return
		}
	}
}

func (a *arena) remove(tid model.TID) {
	delete(a.threads, tid)
}

func (a *arena) live() int {
	return len(a.registry)
}
