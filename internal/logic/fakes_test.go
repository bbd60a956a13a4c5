package logic

import (
	"testing"
	"time"
)

// base is a Monday, 06:00 UTC.
var base = time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

// at returns a clock sample mono after base, with wall time advancing in step.
func at(mono time.Duration) Clock {
	return Clock{Wall: base.Add(mono), Mono: mono}
}

type valveOp struct {
	valve int
	open  bool
}

type recordingValves struct {
	ops []valveOp
}

func (r *recordingValves) OpenValve(n int)  { r.ops = append(r.ops, valveOp{valve: n, open: true}) }
func (r *recordingValves) CloseValve(n int) { r.ops = append(r.ops, valveOp{valve: n, open: false}) }

type request struct {
	valve    int
	length   time.Duration
	id       EventID
	parallel bool
	now      time.Duration
}

type fakeArbiter struct {
	deny     bool
	requests []request
}

func (f *fakeArbiter) RegisterEvent(valve int, length time.Duration, id EventID, parallel bool, now time.Duration) bool {
	f.requests = append(f.requests, request{valve: valve, length: length, id: id, parallel: parallel, now: now})
	return !f.deny
}

type recordingListener struct {
	calls []time.Duration
}

func (r *recordingListener) OnCycleFinished(now time.Duration) {
	r.calls = append(r.calls, now)
}

type mapRegistry map[EventID]CycleListener

func (m mapRegistry) Lookup(id EventID) (CycleListener, bool) {
	l, ok := m[id]
	return l, ok
}

// newTestEvent builds a scheduled event due at 06:00 every day.
func newTestEvent(t *testing.T, id EventID, valve int, total, interval, pause time.Duration) *Event {
	t.Helper()
	e := NewEvent(id)
	if err := e.SetRelay(valve); err != nil {
		t.Fatalf("SetRelay: %v", err)
	}
	if err := e.SetStartTime(6, 0); err != nil {
		t.Fatalf("SetStartTime: %v", err)
	}
	e.SetStartDays(EveryDay)
	if err := e.SetDuration(total); err != nil {
		t.Fatalf("SetDuration: %v", err)
	}
	if err := e.SetIntervalLen(interval); err != nil {
		t.Fatalf("SetIntervalLen: %v", err)
	}
	if err := e.SetIntervalPause(pause); err != nil {
		t.Fatalf("SetIntervalPause: %v", err)
	}
	if got := e.SetScheduled(true); got != Scheduled {
		t.Fatalf("SetScheduled(true): got %s, want SCHEDULED", got)
	}
	return e
}
