// Package machine simulates the single-CPU hardware underneath the thread
// scheduler: an interrupt controller, a page allocator, a timer device and a
// context-switch primitive.
//
// Every kernel thread is backed by a goroutine, but only one of them holds
// the CPU at a time. Switch hands the CPU over by resuming the target's
// goroutine and parking the caller's, so kernel state is only ever touched by
// one goroutine and channel hand-offs order all accesses.
package machine

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/me/threadsched/internal/hal"
	"github.com/me/threadsched/pkg/model"
)

// Config holds machine configuration.
type Config struct {
	Pages    int   // Number of physical pages available for threads
	MaxTicks int64 // Power off once this many ticks have elapsed (0 = never)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Pages: 64, MaxTicks: 100000}
}

// Machine implements hal.Hardware.
type Machine struct {
	cfg    Config
	logger *slog.Logger

	// CPU state. Only the goroutine holding the CPU touches these.
	level         hal.IntrLevel
	inIntr        bool
	yieldOnReturn bool
	ticks         int64
	onTick        func()
	onPreempt     func()

	pages *pagePool

	mu       sync.Mutex
	contexts map[model.TID]*cpuContext
	down     bool

	offOnce  sync.Once
	off      chan struct{}
	shutdown chan struct{}
}

// cpuContext is a parked execution context. A resume carries the TID of the
// thread that handed over the CPU.
type cpuContext struct {
	resume chan model.TID
}

var _ hal.Hardware = (*Machine)(nil)

// New creates a powered-on machine with interrupts disabled.
func New(cfg Config, logger *slog.Logger) *Machine {
	if cfg.Pages <= 0 {
		cfg.Pages = DefaultConfig().Pages
	}
	return &Machine{
		cfg:      cfg,
		logger:   logger.With("component", "machine"),
		level:    hal.IntrOff,
		pages:    newPagePool(cfg.Pages),
		contexts: make(map[model.TID]*cpuContext),
		off:      make(chan struct{}),
		shutdown: make(chan struct{}),
	}
}

// --- Interrupts ---

// Disable turns interrupts off and returns the previous level.
func (m *Machine) Disable() hal.IntrLevel {
	return m.SetLevel(hal.IntrOff)
}

// Enable turns interrupts on and returns the previous level.
func (m *Machine) Enable() hal.IntrLevel {
	if m.inIntr {
		m.fault("enable", "interrupts enabled inside an interrupt handler")
	}
	return m.SetLevel(hal.IntrOn)
}

// SetLevel sets the interrupt level and returns the previous one.
func (m *Machine) SetLevel(level hal.IntrLevel) hal.IntrLevel {
	old := m.level
	m.level = level
	return old
}

// Level reports the current interrupt level.
func (m *Machine) Level() hal.IntrLevel {
	return m.level
}

// InContext reports whether the timer handler is running.
func (m *Machine) InContext() bool {
	return m.inIntr
}

// YieldOnReturn requests a preemption when the running handler returns.
func (m *Machine) YieldOnReturn() {
	if !m.inIntr {
		m.fault("yield-on-return", "requested outside interrupt context")
	}
	m.yieldOnReturn = true
}

// Halt enables interrupts and waits for the next timer tick.
func (m *Machine) Halt() {
	m.Enable()
	m.Interrupt()
}

// --- Timer ---

// Ticks returns the number of timer ticks since boot.
func (m *Machine) Ticks() int64 {
	return m.ticks
}

// Attach installs the timer hook and the deferred-preemption callback.
func (m *Machine) Attach(tick func(), preempt func()) {
	m.onTick = tick
	m.onPreempt = preempt
}

// Spin burns n ticks of CPU time on the running thread. Each tick raises a
// timer interrupt, which may preempt the caller.
func (m *Machine) Spin(n int) {
	for i := 0; i < n; i++ {
		m.Interrupt()
	}
}

// Interrupt delivers one timer interrupt to the running thread.
func (m *Machine) Interrupt() {
	if m.level == hal.IntrOff {
		m.fault("interrupt", "timer interrupt delivered with interrupts disabled")
	}
	if m.isDown() {
		runtime.Goexit()
	}
	if m.cfg.MaxTicks > 0 && m.ticks >= m.cfg.MaxTicks {
		m.powerOff()
	}

	old := m.Disable()
	m.inIntr = true
	m.ticks++
	if m.onTick != nil {
		m.onTick()
	}
	m.inIntr = false
	m.SetLevel(old)

	if m.yieldOnReturn {
		m.yieldOnReturn = false
		if m.onPreempt != nil {
			m.onPreempt()
		}
	}
}

// --- Pages ---

// GetPage allocates a page for a thread control block.
func (m *Machine) GetPage() (hal.Page, error) {
	return m.pages.get()
}

// FreePage returns a page to the pool.
func (m *Machine) FreePage(p hal.Page) {
	if err := m.pages.put(p); err != nil {
		m.fault("free page", err.Error())
	}
}

// FreePages reports how many pages are currently unallocated.
func (m *Machine) FreePages() int {
	return m.pages.available()
}

// --- Context switching ---

// Adopt registers the calling goroutine as the execution context of tid.
func (m *Machine) Adopt(tid model.TID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[tid] = &cpuContext{resume: make(chan model.TID, 1)}
}

// Spawn creates a goroutine for tid that stays parked until the first
// switch to it, then runs entry.
func (m *Machine) Spawn(tid model.TID, entry func(prev model.TID)) {
	c := &cpuContext{resume: make(chan model.TID, 1)}
	m.mu.Lock()
	m.contexts[tid] = c
	m.mu.Unlock()

	go func() {
		prev, ok := <-c.resume
		if !ok {
			return
		}
		entry(prev)
	}()
}

// Switch hands the CPU from one thread to another and parks the caller until
// some later Switch resumes it.
func (m *Machine) Switch(from, to model.TID) model.TID {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		runtime.Goexit()
	}
	cf, ct := m.contexts[from], m.contexts[to]
	if cf == nil || ct == nil {
		m.mu.Unlock()
		m.fault("switch", fmt.Sprintf("no context for switch %s -> %s", from, to))
	}
	ct.resume <- from
	m.mu.Unlock()

	prev, ok := <-cf.resume
	if !ok {
		// Released: the thread was reclaimed or the machine shut down.
		runtime.Goexit()
	}
	return prev
}

// Release discards tid's parked context; its goroutine exits.
func (m *Machine) Release(tid model.TID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contexts[tid]; ok {
		delete(m.contexts, tid)
		close(c.resume)
	}
}

// Contexts reports how many execution contexts exist.
func (m *Machine) Contexts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

// --- Power ---

// PoweredOff is closed when the machine stops on its tick budget.
func (m *Machine) PoweredOff() <-chan struct{} {
	return m.off
}

// Shutdown releases every parked context so no goroutines outlive the
// machine. It is safe to call more than once.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return
	}
	m.down = true
	for tid, c := range m.contexts {
		delete(m.contexts, tid)
		close(c.resume)
	}
	close(m.shutdown)
	m.offOnce.Do(func() { close(m.off) })
}

func (m *Machine) isDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.down
}

// powerOff stops the machine and parks the calling thread for good.
func (m *Machine) powerOff() {
	m.logger.Warn("tick budget exhausted, powering off", "ticks", m.ticks)
	m.offOnce.Do(func() { close(m.off) })
	<-m.shutdown
	runtime.Goexit()
}

func (m *Machine) fault(op, msg string) {
	m.logger.Error("machine fault", "op", op, "msg", msg)
	panic(&model.KernelPanic{Op: op, Msg: msg})
}
