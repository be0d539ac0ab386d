package workload

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/me/threadsched/internal/kernel"
	"github.com/me/threadsched/internal/machine"
	"github.com/me/threadsched/pkg/model"
)

// Execute boots a simulated machine, runs the scenario on it and returns the
// run record. The initial thread creates the workload threads in order and
// waits for all of them to finish.
//
// The returned run is never nil once the scenario is valid. When the
// simulation fails (a kernel panic, a script error, the tick budget running
// out or ctx ending) the run is FAILED, carries the events recorded so far,
// and the error is also returned.
func Execute(ctx context.Context, sc *Scenario, logger *slog.Logger) (*model.Run, error) {
	if apiErr := Validate(sc); apiErr != nil {
		return nil, apiErr
	}
	policy, _ := kernel.ParsePolicy(sc.Policy)

	kcfg := kernel.DefaultConfig()
	kcfg.Policy = policy
	if sc.TimerFreq > 0 {
		kcfg.TimerFreq = sc.TimerFreq
	}
	if sc.TimeSlice > 0 {
		kcfg.TimeSlice = sc.TimeSlice
	}
	mcfg := machine.DefaultConfig()
	if sc.Pages > 0 {
		mcfg.Pages = sc.Pages
	}
	if sc.MaxTicks > 0 {
		mcfg.MaxTicks = sc.MaxTicks
	}

	logger = logger.With("component", "workload", "scenario", sc.Name)
	m := machine.New(mcfg, logger)
	defer m.Shutdown()

	sim := &simulation{
		sc:        sc,
		m:         m,
		logger:    logger,
		rec:       &kernel.Recorder{},
		locks:     make(map[string]*kernel.Lock),
		semas:     make(map[string]*kernel.Semaphore),
		summaries: make([]*model.ThreadSummary, len(sc.Threads)),
		done:      make(chan struct{}),
		failed:    make(chan error, 1),
	}

	run := &model.Run{
		Name:   sc.Name,
		Policy: policy.String(),
		State:  model.RunStateRunning,
	}

	start := time.Now()
	logger.Info("simulation starting", "policy", policy, "threads", len(sc.Threads), "max_ticks", mcfg.MaxTicks)
	go sim.boot(kcfg)

	var err error
	select {
	case <-sim.done:
		sim.collect(run)
	case err = <-sim.failed:
		// The failing goroutine parked while holding the CPU.
		sim.collect(run)
	case <-m.PoweredOff():
		err = fmt.Errorf("%w after %d ticks", model.ErrPoweredOff, mcfg.MaxTicks)
		sim.collect(run)
	case <-ctx.Done():
		// A thread may still be running; only the recorder is safe to read.
		err = ctx.Err()
		sim.interruptScripts(err)
		run.Events = sim.rec.Events()
		run.EventCount = len(run.Events)
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	if err != nil {
		run.State = model.RunStateFailed
		run.Error = err.Error()
		logger.Warn("simulation failed", "error", err, "duration", time.Since(start))
		return run, err
	}
	run.State = model.RunStateCompleted
	logger.Info("simulation completed", "ticks", run.Ticks, "events", run.EventCount, "duration", time.Since(start))
	return run, nil
}

// simulation is the state shared by the simulated threads. Apart from the
// channels and the script list, it is only touched by the thread that holds
// the CPU.
type simulation struct {
	sc     *Scenario
	m      *machine.Machine
	k      *kernel.Kernel
	logger *slog.Logger
	rec    *kernel.Recorder

	locks     map[string]*kernel.Lock
	semas     map[string]*kernel.Semaphore
	finished  *kernel.Semaphore
	summaries []*model.ThreadSummary

	done   chan struct{}
	failed chan error

	mu      sync.Mutex
	scripts []*goja.Runtime
	stopped error
}

// boot runs on the goroutine that becomes the initial thread.
func (s *simulation) boot(cfg kernel.Config) {
	defer s.recoverThread("main")

	s.k = kernel.New(s.m, cfg, s.logger)
	s.k.SetTracer(s.rec)
	s.k.Start()

	if p := s.sc.Main.Priority; p != nil {
		s.k.SetPriority(*p)
	}
	if s.sc.Main.Nice != 0 {
		s.k.SetNice(s.sc.Main.Nice)
	}
	for name, v := range s.sc.Semaphores {
		s.semas[name] = s.k.NewSemaphore(v)
	}
	s.finished = s.k.NewSemaphore(0)

	started := 0
	for i, spec := range s.sc.Threads {
		if _, err := s.k.Create(spec.Name, spec.InitialPriority(), s.threadBody, i); err != nil {
			s.logger.Warn("thread not started", "thread", spec.Name, "error", err)
			s.k.Log(err.Error())
			continue
		}
		started++
	}
	for i := 0; i < started; i++ {
		s.finished.Down()
	}
	close(s.done)
}

func (s *simulation) threadBody(arg any) {
	i := arg.(int)
	spec := s.sc.Threads[i]
	defer s.recoverThread(spec.Name)

	if spec.Nice != 0 {
		s.k.SetNice(spec.Nice)
	}
	if spec.Script != "" {
		if err := s.runScript(spec); err != nil {
			s.fail(fmt.Errorf("thread %q: %w", spec.Name, err))
		}
	} else {
		for _, st := range spec.Steps {
			s.do(st)
		}
	}

	s.summaries[i] = s.summarize()
	s.finished.Up()
}

// do performs one step on the running thread.
func (s *simulation) do(st Step) {
	switch {
	case st.Run != nil:
		s.m.Spin(int(*st.Run))
	case st.Sleep != nil:
		s.k.Sleep(*st.Sleep)
	case st.Yield:
		s.k.Yield()
	case st.Acquire != "":
		s.lock(st.Acquire).Acquire()
	case st.Release != "":
		s.lock(st.Release).Release()
	case st.Down != "":
		s.semaphore(st.Down).Down()
	case st.Up != "":
		s.semaphore(st.Up).Up()
	case st.SetPriority != nil:
		s.k.SetPriority(*st.SetPriority)
	case st.SetNice != nil:
		s.k.SetNice(*st.SetNice)
	case st.Log != "":
		s.k.Log(st.Log)
	}
}

func (s *simulation) lock(name string) *kernel.Lock {
	l, ok := s.locks[name]
	if !ok {
		l = s.k.NewLock(name)
		s.locks[name] = l
	}
	return l
}

func (s *simulation) semaphore(name string) *kernel.Semaphore {
	sem, ok := s.semas[name]
	if !ok {
		panic(&model.KernelPanic{Op: "semaphore", Msg: fmt.Sprintf("undeclared semaphore %q", name)})
	}
	return sem
}

func (s *simulation) summarize() *model.ThreadSummary {
	t := s.k.Current()
	return &model.ThreadSummary{
		TID:           t.TID(),
		Name:          t.Name(),
		BasePriority:  t.BasePriority(),
		FinalPriority: t.Priority(),
		Nice:          t.Nice(),
		RecentCPU:     s.k.RecentCPU(),
		CreatedTick:   t.CreatedTick(),
		ExitTick:      s.m.Ticks(),
		RunTicks:      t.RunTicks(),
	}
}

// collect copies the results into run. The caller must know that no
// simulated thread is running.
func (s *simulation) collect(run *model.Run) {
	run.Ticks = s.m.Ticks()
	if s.k != nil {
		run.LoadAvg = s.k.LoadAvg()
		run.Stats = s.k.Stats()
	}
	for _, sum := range s.summaries {
		if sum != nil {
			run.Threads = append(run.Threads, *sum)
		}
	}
	run.Events = s.rec.Events()
	run.EventCount = len(run.Events)
}

// fail reports the first failure to Execute, then parks the calling thread
// for good: the kernel state is no longer trustworthy, so the thread must not
// hand the CPU on.
func (s *simulation) fail(err error) {
	select {
	case s.failed <- err:
	default:
	}
	<-s.m.PoweredOff()
	runtime.Goexit()
}

// recoverThread turns a panic in a simulated thread into a run failure.
func (s *simulation) recoverThread(name string) {
	r := recover()
	if r == nil {
		return
	}
	var err error
	if kp, ok := model.AsKernelPanic(r); ok {
		err = fmt.Errorf("thread %q: %w", name, kp)
	} else {
		err = fmt.Errorf("thread %q: panic: %v", name, r)
	}
	s.logger.Error("simulated thread failed", "thread", name, "error", err)
	s.fail(err)
}
