package workload

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/me/threadsched/pkg/model"
)

// newScriptVM creates a JavaScript runtime whose globals drive the running
// thread. Every binding runs on the thread that owns the runtime.
func (s *simulation) newScriptVM() (*goja.Runtime, error) {
	vm := goja.New()

	throw := func(format string, args ...any) {
		panic(vm.NewGoError(fmt.Errorf(format, args...)))
	}

	bindings := map[string]any{
		"run": func(ticks int64) {
			if ticks < 0 {
				throw("run(%d): ticks must not be negative", ticks)
			}
			s.m.Spin(int(ticks))
		},
		"sleep": func(ticks int64) { s.k.Sleep(ticks) },
		"yield": func() { s.k.Yield() },
		"acquire": func(name string) { s.lock(name).Acquire() },
		"release": func(name string) {
			l, ok := s.locks[name]
			if !ok || !l.HeldByCurrent() {
				throw("release(%q): lock not held", name)
			}
			l.Release()
		},
		"down": func(name string) {
			sem, ok := s.semas[name]
			if !ok {
				throw("down(%q): undeclared semaphore", name)
			}
			sem.Down()
		},
		"up": func(name string) {
			sem, ok := s.semas[name]
			if !ok {
				throw("up(%q): undeclared semaphore", name)
			}
			sem.Up()
		},
		"setPriority": func(p int) {
			if !model.ValidPriority(p) {
				throw("setPriority(%d): out of range [%d, %d]", p, model.PriMin, model.PriMax)
			}
			s.k.SetPriority(p)
		},
		"setNice": func(n int) {
			if !model.ValidNice(n) {
				throw("setNice(%d): out of range [%d, %d]", n, model.NiceMin, model.NiceMax)
			}
			s.k.SetNice(n)
		},
		"priority":  func() int { return s.k.GetPriority() },
		"nice":      func() int { return s.k.GetNice() },
		"tick":      func() int64 { return s.m.Ticks() },
		"loadAvg":   func() int { return s.k.LoadAvg() },
		"recentCpu": func() int { return s.k.RecentCPU() },
		"log":       func(msg string) { s.k.Log(msg) },
		"name":      func() string { return s.k.Name() },
	}
	for name, fn := range bindings {
		if err := vm.Set(name, fn); err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
	}
	return vm, nil
}

// runScript executes a thread's JavaScript body to completion.
func (s *simulation) runScript(spec ThreadSpec) error {
	vm, err := s.newScriptVM()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped != nil {
		s.mu.Unlock()
		return s.stopped
	}
	s.scripts = append(s.scripts, vm)
	s.mu.Unlock()

	if _, err := vm.RunString(spec.Script); err != nil {
		return fmt.Errorf("JavaScript error: %w", err)
	}
	return nil
}

// interruptScripts stops every script at its next JavaScript instruction.
func (s *simulation) interruptScripts(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = reason
	for _, vm := range s.scripts {
		vm.Interrupt(reason)
	}
}
