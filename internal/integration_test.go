package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/irrigator/internal/gpio"
	"github.com/sweeney/irrigator/internal/logic"
	"github.com/sweeney/irrigator/internal/mqtt"
	"github.com/sweeney/irrigator/internal/store"
)

// monday is 2026-01-05 06:00 UTC.
var monday = time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

type rig struct {
	relays *gpio.FakeWriter
	sched  *logic.Schedule
	pub    *mqtt.FakePublisher
	origin time.Time
}

// newRig loads every event file in files into a schedule driving two fake
// relays, the way the daemon does at startup.
func newRig(t *testing.T, files map[string]string) *rig {
	t.Helper()
	dir := t.TempDir()
	for id, content := range files {
		if err := os.WriteFile(filepath.Join(dir, id+store.Ext), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}

	relays := gpio.NewFakeWriter(2)
	sched := logic.NewSchedule(logic.NewValveController(gpio.NewBank(relays), 2), monday)
	r := &rig{relays: relays, sched: sched, pub: mqtt.NewFakePublisher(), origin: monday}

	loaded, errs := store.NewDir(dir).LoadAll()
	if len(errs) > 0 {
		t.Fatalf("load: %v", errs)
	}
	for _, l := range loaded {
		if err := sched.Add(l.Event); err != nil {
			t.Fatalf("add %s: %v", l.Event.ID(), err)
		}
		if l.Scheduled {
			sched.SetScheduled(l.Event.ID(), true, r.clock(monday))
		}
	}
	return r
}

func (r *rig) clock(wall time.Time) logic.Clock {
	return logic.Clock{Wall: wall, Mono: wall.Sub(r.origin)}
}

// run polls once per second over [from, to] and publishes every transition.
func (r *rig) run(t *testing.T, from, to time.Time) {
	t.Helper()
	for now := from; !now.After(to); now = now.Add(time.Second) {
		for _, tr := range r.sched.Pass(r.clock(now)) {
			if err := r.pub.Publish(tr); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}
}

func (r *rig) eventTypes(id logic.EventID) []logic.TransitionType {
	var out []logic.TransitionType
	for _, tr := range r.pub.Transitions {
		if tr.Event == id {
			out = append(out, tr.Type)
		}
	}
	return out
}

func expectTypes(t *testing.T, id string, got []logic.TransitionType, want ...logic.TransitionType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", id, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s transition %d: got %s, want %s", id, i, got[i], want[i])
		}
	}
}

const everyDay = "[start_days1=1]\n[start_days2=1]\n[start_days3=1]\n[start_days4=1]\n[start_days5=1]\n[start_days6=1]\n[start_days7=1]\n"

// TestIntegrationSoakSharesValve runs two events due together on one valve.
// The cycling event's soak pause lets the other one water in between.
func TestIntegrationSoakSharesValve(t *testing.T) {
	r := newRig(t, map[string]string{
		"a": "[relay_number=0]\n[duration=120]\n[interval_len=60]\n[interval_pause=60]\n[start_time_hour=6]\n[event_scheduled=1]\n" + everyDay,
		"b": "[relay_number=0]\n[duration=60]\n[start_time_hour=6]\n[event_scheduled=1]\n" + everyDay,
	})
	r.run(t, monday, monday.Add(5*time.Minute))

	expectTypes(t, "a", r.eventTypes("a"),
		logic.TransitionScheduled, logic.TransitionArmed, logic.TransitionSliceStart, logic.TransitionSliceEnd, logic.TransitionSoak,
		logic.TransitionSliceStart, logic.TransitionSliceEnd, logic.TransitionFinished)
	expectTypes(t, "b", r.eventTypes("b"),
		logic.TransitionScheduled, logic.TransitionArmed, logic.TransitionSliceStart, logic.TransitionSliceEnd, logic.TransitionFinished)

	want := []gpio.Write{
		{Valve: 0, Open: true}, {Valve: 0, Open: false}, // a, 06:00:00-06:01:00
		{Valve: 0, Open: true}, {Valve: 0, Open: false}, // b, 06:01:00-06:02:00
		{Valve: 0, Open: true}, {Valve: 0, Open: false}, // a, 06:02:00-06:03:00
	}
	if len(r.relays.Writes) != len(want) {
		t.Fatalf("relay writes: got %+v", r.relays.Writes)
	}
	for i := range want {
		if r.relays.Writes[i] != want[i] {
			t.Errorf("write %d: got %+v, want %+v", i, r.relays.Writes[i], want[i])
		}
	}

	stats := r.sched.Controller().Stats()
	if stats.Grants != 3 || stats.Denials != 60 {
		t.Errorf("stats: got %+v, want 3 grants and 60 denials", stats)
	}
}

// TestIntegrationNextDay checks that finished events run again the next
// scheduled day and stay idle on days without their flag.
func TestIntegrationNextDay(t *testing.T) {
	r := newRig(t, map[string]string{
		// Mondays and Tuesdays only
		"lawn": "[relay_number=1]\n[duration=30]\n[start_time_hour=6]\n[start_days2=1]\n[start_days3=1]\n[event_scheduled=1]\n",
	})

	r.run(t, monday, monday.Add(time.Minute))
	r.run(t, monday.Add(18*time.Hour-time.Second), monday.Add(18*time.Hour+time.Second)) // midnight
	tuesday := monday.Add(24 * time.Hour)
	r.run(t, tuesday, tuesday.Add(time.Minute))
	r.run(t, tuesday.Add(18*time.Hour-time.Second), tuesday.Add(18*time.Hour+time.Second))
	wednesday := tuesday.Add(24 * time.Hour)
	r.run(t, wednesday, wednesday.Add(time.Minute))

	day := []logic.TransitionType{logic.TransitionArmed, logic.TransitionSliceStart, logic.TransitionSliceEnd, logic.TransitionFinished}
	want := append([]logic.TransitionType{logic.TransitionScheduled}, day...)
	want = append(want, logic.TransitionRearmed)
	want = append(want, day...)
	expectTypes(t, "lawn", r.eventTypes("lawn"), want...)

	if e, _ := r.sched.Get("lawn"); e.State() != logic.Finished {
		t.Errorf("lawn should stay FINISHED on Wednesday, got %s", e.State())
	}
}

// TestIntegrationParallelShare runs two parallel events on one valve.
func TestIntegrationParallelShare(t *testing.T) {
	r := newRig(t, map[string]string{
		"a": "[relay_number=1]\n[parallel_permission=1]\n[duration=60]\n[start_time_hour=6]\n[event_scheduled=1]\n" + everyDay,
		"b": "[relay_number=1]\n[parallel_permission=1]\n[duration=30]\n[start_time_hour=6]\n[event_scheduled=1]\n" + everyDay,
	})
	r.run(t, monday, monday.Add(2*time.Minute))

	want := []gpio.Write{{Valve: 1, Open: true}, {Valve: 1, Open: false}}
	if len(r.relays.Writes) != len(want) || r.relays.Writes[0] != want[0] || r.relays.Writes[1] != want[1] {
		t.Fatalf("shared valve should open once and close once, got %+v", r.relays.Writes)
	}
	for _, id := range []logic.EventID{"a", "b"} {
		if e, _ := r.sched.Get(id); e.State() != logic.Finished {
			t.Errorf("%s: got %s, want FINISHED", id, e.State())
		}
	}
	if r.sched.Controller().Stats().Denials != 0 {
		t.Error("parallel events should never be denied")
	}
}

// TestIntegrationMissedWindowSkips starts the daemon well after an event's
// start time.
func TestIntegrationMissedWindowSkips(t *testing.T) {
	r := newRig(t, map[string]string{
		"early": "[relay_number=0]\n[duration=60]\n[start_time_hour=5]\n[event_scheduled=1]\n" + everyDay,
	})
	r.run(t, monday, monday.Add(5*time.Second))

	expectTypes(t, "early", r.eventTypes("early"), logic.TransitionScheduled, logic.TransitionSkipped)
	if len(r.relays.Writes) != 0 {
		t.Errorf("skipped event must not touch relays: %+v", r.relays.Writes)
	}
}

func TestIntegrationPayloadFormat(t *testing.T) {
	r := newRig(t, map[string]string{
		"lawn": "[relay_number=1]\n[duration=600]\n[interval_len=300]\n[interval_pause=120]\n[start_time_hour=6]\n[event_scheduled=1]\n" + everyDay,
	})
	r.run(t, monday, monday)

	var start []byte
	for i, tr := range r.pub.Transitions {
		if tr.Type == logic.TransitionSliceStart {
			start = r.pub.Payloads[i]
		}
	}
	if start == nil {
		t.Fatal("no SLICE_START published")
	}

	var parsed mqtt.Payload
	if err := json.Unmarshal(start, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	p := parsed.Irrigation
	if p.ID != "lawn" || p.Valve != 1 || p.State != "RUNNING" || p.Cycle != "INTERVAL_RUNNING" {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.SliceSeconds != 300 || p.RemainingSeconds != 300 {
		t.Errorf("slice=%d remaining=%d, want 300/300", p.SliceSeconds, p.RemainingSeconds)
	}
	if p.Timestamp != "2026-01-05T06:00:00Z" {
		t.Errorf("unexpected timestamp %s", p.Timestamp)
	}
}
