package kernel

import (
	"slices"

	"github.com/me/threadsched/pkg/model"
)

// readyQueue holds READY threads in the order the active policy serves them.
type readyQueue interface {
	push(t *Thread)
	// pop removes and returns the thread to run next, or nil when empty.
	pop() *Thread
	// peek returns the thread pop would return without removing it.
	peek() *Thread
	remove(t *Thread)
	// reposition restores queue order after t's effective priority changed.
	reposition(t *Thread)
	len() int
	tids() []model.TID
}

// priorityList keeps ready threads sorted by effective priority, highest
// first. Equal priorities keep insertion order, so a band is served
// round-robin.
type priorityList struct {
	a     *arena
	queue []model.TID
}

func newPriorityList(a *arena) *priorityList {
	return &priorityList{a: a}
}

func (q *priorityList) push(t *Thread) {
	i := 0
	for i < len(q.queue) && q.a.get(q.queue[i]).priority >= t.priority {
		i++
	}
	q.queue = slices.Insert(q.queue, i, t.tid)
	t.queue = queueReady
}

func (q *priorityList) pop() *Thread {
	if len(q.queue) == 0 {
		return nil
	}
	t := q.a.get(q.queue[0])
	q.queue = slices.Delete(q.queue, 0, 1)
	t.queue = queueNone
	return t
}

func (q *priorityList) peek() *Thread {
	if len(q.queue) == 0 {
		return nil
	}
	return q.a.get(q.queue[0])
}

func (q *priorityList) remove(t *Thread) {
	if i := slices.Index(q.queue, t.tid); i >= 0 {
		q.queue = slices.Delete(q.queue, i, i+1)
		t.queue = queueNone
	}
}

func (q *priorityList) reposition(t *Thread) {
	q.remove(t)
	q.push(t)
}

func (q *priorityList) len() int { return len(q.queue) }

func (q *priorityList) tids() []model.TID { return slices.Clone(q.queue) }

// feedbackQueues is one FIFO per priority level. The levels are mutated in
// place so a re-level is never lost.
type feedbackQueues struct {
	a      *arena
	levels [model.PriMax - model.PriMin + 1][]model.TID
	n      int
}

func newFeedbackQueues(a *arena) *feedbackQueues {
	return &feedbackQueues{a: a}
}

func (q *feedbackQueues) push(t *Thread) {
	lvl := model.ClampPriority(t.priority)
	q.levels[lvl-model.PriMin] = append(q.levels[lvl-model.PriMin], t.tid)
	t.level = lvl
	t.queue = queueReady
	q.n++
}

// top returns the highest non-empty level, or PriMin-1 when all are empty.
func (q *feedbackQueues) top() int {
	for lvl := model.PriMax; lvl >= model.PriMin; lvl-- {
		if len(q.levels[lvl-model.PriMin]) > 0 {
			return lvl
		}
	}
	return model.PriMin - 1
}

func (q *feedbackQueues) pop() *Thread {
	lvl := q.top()
	if lvl < model.PriMin {
		return nil
	}
	level := &q.levels[lvl-model.PriMin]
	t := q.a.get((*level)[0])
	*level = slices.Delete(*level, 0, 1)
	t.queue = queueNone
	q.n--
	return t
}

func (q *feedbackQueues) peek() *Thread {
	lvl := q.top()
	if lvl < model.PriMin {
		return nil
	}
	return q.a.get(q.levels[lvl-model.PriMin][0])
}

func (q *feedbackQueues) remove(t *Thread) {
	level := &q.levels[t.level-model.PriMin]
	if i := slices.Index(*level, t.tid); i >= 0 {
		*level = slices.Delete(*level, i, i+1)
		t.queue = queueNone
		q.n--
	}
}

func (q *feedbackQueues) reposition(t *Thread) {
	if t.level == model.ClampPriority(t.priority) {
		return
	}
	q.remove(t)
	q.push(t)
}

func (q *feedbackQueues) len() int { return q.n }

func (q *feedbackQueues) tids() []model.TID {
	out := make([]model.TID, 0, q.n)
	for lvl := model.PriMax; lvl >= model.PriMin; lvl-- {
		out = append(out, q.levels[lvl-model.PriMin]...)
	}
	return out
}
