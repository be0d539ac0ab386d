package kernel

import (
	"slices"

	"github.com/me/threadsched/pkg/model"
)

// sleepQueue holds SLEEPING threads sorted by wake tick, ascending. Threads
// due on the same tick keep the order they went to sleep in.
type sleepQueue struct {
	a     *arena
	queue []model.TID
}

func newSleepQueue(a *arena) *sleepQueue {
	return &sleepQueue{a: a}
}

func (q *sleepQueue) insert(t *Thread) {
	i := len(q.queue)
	for i > 0 && q.a.get(q.queue[i-1]).wakeTick > t.wakeTick {
		i--
	}
	q.queue = slices.Insert(q.queue, i, t.tid)
	t.queue = queueSleep
}

// head returns the thread that wakes first, or nil.
func (q *sleepQueue) head() *Thread {
	if len(q.queue) == 0 {
		return nil
	}
	return q.a.get(q.queue[0])
}

func (q *sleepQueue) remove(t *Thread) {
	if i := slices.Index(q.queue, t.tid); i >= 0 {
		q.queue = slices.Delete(q.queue, i, i+1)
		t.queue = queueNone
	}
}

func (q *sleepQueue) len() int { return len(q.queue) }

func (q *sleepQueue) tids() []model.TID { return slices.Clone(q.queue) }
