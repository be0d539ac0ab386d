package kernel

import (
	"testing"

	"github.com/me/threadsched/pkg/fixedpoint"
	"github.com/me/threadsched/pkg/model"
)

func TestFeedbackPriorityFormula(t *testing.T) {
	tests := []struct {
		name      string
		recentCPU fixedpoint.Fixed
		nice      int
		want      int
	}{
		{"fresh thread", 0, 0, model.PriMax},
		{"four ticks", fixedpoint.FromInt(4), 0, 62},
		{"rounds half up", fixedpoint.FromInt(6), 0, 61},
		{"nice lowers", 0, 20, 23},
		{"negative nice clamps high", 0, -20, model.PriMax},
		{"heavy use clamps low", fixedpoint.FromInt(400), 20, model.PriMin},
		{"negative recent cpu clamps high", fixedpoint.FromInt(-6), 0, model.PriMax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := feedbackPriority(tt.recentCPU, tt.nice); got != tt.want {
				t.Errorf("feedbackPriority(%v, %d) = %d, want %d", tt.recentCPU, tt.nice, got, tt.want)
			}
		})
	}
}

func TestMainStartsAtFeedbackPriority(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)
	if got := h.k.GetPriority(); got != model.PriMax {
		t.Errorf("main priority = %d, want %d", got, model.PriMax)
	}
}

func TestRecentCPUAndPriorityAfterFourTicks(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)

	h.m.Spin(4)

	if got := h.k.RecentCPU(); got != 400 {
		t.Errorf("RecentCPU = %d, want 400", got)
	}
	rc := h.k.Current().RecentCPU()
	want := model.PriMax - rc.DivInt(4).Round()
	if got := h.k.GetPriority(); got != want || got != 62 {
		t.Errorf("priority = %d, want %d (62)", got, want)
	}
}

func TestLoadAvgAfterOneSecond(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)

	h.m.Spin(h.k.Config().TimerFreq)

	// One runnable thread (main): load_avg = 0*59/60 + 1/60.
	if got, want := h.k.LoadAvgFixed(), fixedpoint.Frac(1, 60); got != want {
		t.Errorf("load_avg = %d, want %d", got, want)
	}
	if got := h.k.LoadAvg(); got != 2 {
		t.Errorf("LoadAvg = %d, want 2", got)
	}

	cur := h.k.Current()
	if got, want := cur.Priority(), feedbackPriority(cur.RecentCPU(), cur.Nice()); got != want {
		t.Errorf("priority = %d, want %d from recent_cpu %v", got, want, cur.RecentCPU())
	}
	// recent_cpu reached 100 and then decayed by (2*load)/(2*load+1).
	twice := fixedpoint.Frac(1, 60).MulInt(2)
	decayed := twice.Div(twice.AddInt(1)).Mul(fixedpoint.FromInt(100))
	if rc := cur.RecentCPU(); rc != decayed {
		t.Errorf("recent_cpu = %v, want %v", rc, decayed)
	}
	if len(model.FilterEvents(h.rec.Events(), model.EventLoadAvg)) != 1 {
		t.Error("expected one load_avg event")
	}
}

func TestLoadAvgIgnoresIdle(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)

	h.k.Sleep(int64(h.k.Config().TimerFreq) + 1)

	if got := h.k.LoadAvgFixed(); got != 0 {
		t.Errorf("load_avg = %v with only idle running, want 0", got)
	}
}

func TestSetPriorityIgnoredUnderFeedback(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)

	before := h.k.GetPriority()
	h.k.SetPriority(10)
	if got := h.k.GetPriority(); got != before {
		t.Errorf("priority = %d, want unchanged %d", got, before)
	}
}

func TestSetNiceYieldsWhenOutranked(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)

	var trail []string
	h.k.Create("w", model.PriDefault, func(any) { trail = append(trail, "w") }, nil)
	if len(trail) != 0 {
		t.Fatal("equal priority thread ran before main yielded")
	}

	h.k.SetNice(5)
	trail = append(trail, "main")

	if h.k.GetNice() != 5 {
		t.Errorf("nice = %d, want 5", h.k.GetNice())
	}
	if got := h.k.GetPriority(); got != model.PriMax-10 {
		t.Errorf("priority = %d, want %d", got, model.PriMax-10)
	}
	if len(trail) != 2 || trail[0] != "w" {
		t.Errorf("trail = %v, want [w main]", trail)
	}
}

func TestChildInheritsNiceAndRecentCPU(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)

	h.k.SetNice(3)
	h.m.Spin(8)

	tid, err := h.k.Create("child", model.PriDefault, func(any) {}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, _ := h.k.ThreadInfo(tid)
	if info.Nice != 3 {
		t.Errorf("child nice = %d, want 3", info.Nice)
	}
	if info.RecentCPU != 800 {
		t.Errorf("child recent_cpu = %d, want 800", info.RecentCPU)
	}
	if want := feedbackPriority(fixedpoint.FromInt(8), 3); info.EffectivePriority != want {
		t.Errorf("child priority = %d, want %d", info.EffectivePriority, want)
	}
}

func TestNiceThreadGetsLessCPU(t *testing.T) {
	h := boot(t, PolicyFeedback, 8)
	const until = 400

	runs := map[string]int64{}
	body := func(nice int) ThreadFunc {
		return func(arg any) {
			if nice != 0 {
				h.k.SetNice(nice)
			}
			for h.m.Ticks() < until {
				h.m.Spin(1)
			}
			runs[arg.(string)] = h.k.Current().RunTicks()
		}
	}
	h.k.Create("eager", model.PriDefault, body(0), "eager")
	h.k.Create("nice", model.PriDefault, body(10), "nice")

	h.k.Sleep(until + 50)

	if len(runs) != 2 {
		t.Fatalf("runs = %v, want both threads", runs)
	}
	if runs["eager"] <= runs["nice"] {
		t.Errorf("eager ran %d ticks, nice ran %d; nice thread should get less CPU", runs["eager"], runs["nice"])
	}
	if runs["nice"] == 0 {
		t.Error("nice thread never ran")
	}
}

func TestFeedbackQueuesRelevel(t *testing.T) {
	a := newArena()
	q := newFeedbackQueues(a)
	t1 := &Thread{tid: 1, priority: 40}
	t2 := &Thread{tid: 2, priority: 40}
	t3 := &Thread{tid: 3, priority: 50}
	for _, th := range []*Thread{t1, t2, t3} {
		a.add(th)
		q.push(th)
	}

	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}
	if got := q.peek(); got != t3 {
		t.Errorf("peek = %d, want 3", got.tid)
	}

	t1.priority = 60
	q.reposition(t1)
	if t1.level != 60 {
		t.Errorf("t1 level = %d, want 60", t1.level)
	}
	t3.priority = 40
	q.reposition(t3)

	// Unchanged level keeps the queue position.
	q.reposition(t2)

	var order []model.TID
	for th := q.pop(); th != nil; th = q.pop() {
		order = append(order, th.tid)
		if th.queue != queueNone {
			t.Errorf("popped thread %d still marked queued", th.tid)
		}
	}
	want := []model.TID{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
	if q.len() != 0 || q.peek() != nil {
		t.Error("queue not empty after draining")
	}
}
