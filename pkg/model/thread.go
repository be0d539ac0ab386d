package model

import "strconv"

// TID identifies a kernel thread. TIDs are assigned in increasing order
// starting at 1 and are never reused.
type TID int

// TIDError is the TID reported for a failed thread creation.
const TIDError TID = -1

// String returns the decimal form of the TID.
func (t TID) String() string {
	return strconv.Itoa(int(t))
}

// Thread priorities.
const (
	PriMin     = 0  // Lowest priority.
	PriDefault = 31 // Default priority.
	PriMax     = 63 // Highest priority.
)

// Nice values for the feedback scheduler.
const (
	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20
)

// ValidPriority reports whether p lies in [PriMin, PriMax].
func ValidPriority(p int) bool {
	return p >= PriMin && p <= PriMax
}

// ValidNice reports whether n lies in [NiceMin, NiceMax].
func ValidNice(n int) bool {
	return n >= NiceMin && n <= NiceMax
}

// ClampPriority limits p to [PriMin, PriMax].
func ClampPriority(p int) int {
	if p > PriMax {
		return PriMax
	}
	if p < PriMin {
		return PriMin
	}
	return p
}

// ThreadInfo is a read-only snapshot of a thread control block.
type ThreadInfo struct {
	TID               TID         `json:"tid" yaml:"tid"`
	Name              string      `json:"name" yaml:"name"`
	State             ThreadState `json:"state" yaml:"state"`
	BasePriority      int         `json:"base_priority" yaml:"base_priority"`
	EffectivePriority int         `json:"effective_priority" yaml:"effective_priority"`
	Nice              int         `json:"nice" yaml:"nice"`
	RecentCPU         int         `json:"recent_cpu" yaml:"recent_cpu"` // 100 times the real value, rounded
	Donors            []TID       `json:"donors,omitempty" yaml:"donors,omitempty"`
	WaitingOn         string      `json:"waiting_on,omitempty" yaml:"waiting_on,omitempty"`
	WakeTick          int64       `json:"wake_tick,omitempty" yaml:"wake_tick,omitempty"`
}

// Stats holds the tick accounting kept by the timer hook.
type Stats struct {
	IdleTicks   int64 `json:"idle_ticks" yaml:"idle_ticks"`
	KernelTicks int64 `json:"kernel_ticks" yaml:"kernel_ticks"`
	Switches    int64 `json:"switches" yaml:"switches"`
}

// Total returns the number of ticks accounted for.
func (s Stats) Total() int64 {
	return s.IdleTicks + s.KernelTicks
}
