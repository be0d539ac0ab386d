package model

// EventKind classifies a scheduler trace event.
type EventKind string

const (
	EventCreate    EventKind = "create"
	EventDispatch  EventKind = "dispatch"
	EventYield     EventKind = "yield"
	EventBlock     EventKind = "block"
	EventUnblock   EventKind = "unblock"
	EventSleep     EventKind = "sleep"
	EventWake      EventKind = "wake"
	EventExit      EventKind = "exit"
	EventReclaim   EventKind = "reclaim"
	EventDonate    EventKind = "donate"
	EventRevoke    EventKind = "revoke"
	EventPriority  EventKind = "priority"
	EventNice      EventKind = "nice"
	EventLoadAvg   EventKind = "load_avg"
	EventRelevel   EventKind = "relevel"
	EventLog       EventKind = "log"
	EventPreempt   EventKind = "preempt"
	EventLockWait  EventKind = "lock_wait"
	EventLockTaken EventKind = "lock_acquired"
)

// Event is one entry in a scheduler trace.
type Event struct {
	Seq      int       `json:"seq" yaml:"seq"`
	Tick     int64     `json:"tick" yaml:"tick"`
	Kind     EventKind `json:"kind" yaml:"kind"`
	TID      TID       `json:"tid" yaml:"tid"`
	Thread   string    `json:"thread" yaml:"thread"`
	Priority int       `json:"priority" yaml:"priority"`
	Detail   string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// FilterEvents returns the events of the given kind, in order.
func FilterEvents(events []Event, kind EventKind) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
