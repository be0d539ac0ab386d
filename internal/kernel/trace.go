package kernel

import (
	"sync"

	"github.com/me/threadsched/pkg/model"
)

// Tracer receives scheduler events as they happen. Trace is called with
// interrupts off and must not call back into the kernel.
type Tracer interface {
	Trace(e model.Event)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(e model.Event)

// Trace calls f(e).
func (f TracerFunc) Trace(e model.Event) { f(e) }

// SetTracer installs t as the event sink. A nil tracer disables tracing.
func (k *Kernel) SetTracer(t Tracer) {
	k.tracer = t
}

func (k *Kernel) emit(kind model.EventKind, t *Thread, detail string) {
	if k.tracer == nil {
		return
	}
	k.tracer.Trace(model.Event{
		Tick:     k.hw.Ticks(),
		Kind:     kind,
		TID:      t.tid,
		Thread:   t.name,
		Priority: t.priority,
		Detail:   detail,
	})
}

// Recorder is a Tracer that keeps every event, numbering them from 1.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

// Trace appends e, assigning it the next sequence number. Safe for
// concurrent use.
func (r *Recorder) Trace(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = len(r.events) + 1
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
