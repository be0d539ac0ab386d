// Package hal declares the hardware services the thread scheduler relies on:
// interrupt control, a page allocator, a timer device and a context-switch
// primitive. The kernel only ever talks to these interfaces; the simulated
// machine in internal/machine is one implementation.
package hal

import "github.com/me/threadsched/pkg/model"

// IntrLevel is the CPU interrupt enable state.
type IntrLevel bool

const (
	IntrOff IntrLevel = false
	IntrOn  IntrLevel = true
)

// String returns "on" or "off".
func (l IntrLevel) String() string {
	if l {
		return "on"
	}
	return "off"
}

// Interrupts controls and queries the interrupt state of the single CPU.
// Code running with interrupts off is atomic with respect to the timer.
type Interrupts interface {
	// Disable turns interrupts off and returns the previous level.
	Disable() IntrLevel
	// Enable turns interrupts on and returns the previous level.
	Enable() IntrLevel
	// SetLevel restores a level returned by Disable or Enable.
	SetLevel(level IntrLevel) IntrLevel
	// Level reports the current level.
	Level() IntrLevel
	// InContext reports whether an external interrupt is being handled.
	InContext() bool
	// YieldOnReturn asks for the interrupted thread to yield once the
	// current interrupt handler returns. Only valid in interrupt context.
	YieldOnReturn()
	// Halt enables interrupts and waits for the next one.
	Halt()
}

// Page identifies one fixed-size block of physical memory.
type Page int

// PageAllocator hands out the pages that back thread control blocks.
type PageAllocator interface {
	// GetPage returns a free page or model.ErrNoMemory.
	GetPage() (Page, error)
	// FreePage returns a page to the pool.
	FreePage(p Page)
}

// Timer is the periodic tick source.
type Timer interface {
	// Ticks returns the number of timer ticks since boot.
	Ticks() int64
	// Attach installs the per-tick hook. tick runs in interrupt context with
	// interrupts off; preempt runs after the interrupt returns, in the
	// interrupted thread's normal context, when YieldOnReturn was requested.
	Attach(tick func(), preempt func())
}

// Switcher saves and restores thread execution contexts.
type Switcher interface {
	// Adopt turns the caller's execution context into thread tid.
	Adopt(tid model.TID)
	// Spawn prepares a context for tid that calls entry the first time it
	// is switched to, passing the TID of the thread that switched to it.
	Spawn(tid model.TID, entry func(prev model.TID))
	// Switch suspends from and resumes to. It returns once from is resumed
	// again, reporting the thread that was running just before.
	Switch(from, to model.TID) (prev model.TID)
	// Release discards tid's context. tid must not be running.
	Release(tid model.TID)
}

// Hardware is everything the kernel needs from the machine.
type Hardware interface {
	Interrupts
	PageAllocator
	Timer
	Switcher
}
