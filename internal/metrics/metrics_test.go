package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/irrigator/internal/logic"
)

type nopValves struct{}

func (nopValves) OpenValve(int)  {}
func (nopValves) CloseValve(int) {}

var monday6 = time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

func addEvent(t *testing.T, s *logic.Schedule, id logic.EventID, valve int, scheduled bool) {
	t.Helper()
	e := logic.NewEvent(id)
	e.SetRelay(valve)
	e.SetStartTime(6, 0)
	e.SetDuration(10 * time.Minute)
	e.SetStartDays(logic.EveryDay)
	if scheduled {
		e.SetScheduled(true)
	}
	if err := s.Add(e); err != nil {
		t.Fatalf("Add %s: %v", id, err)
	}
}

// contendedSchedule has two events due on valve 0 and one idle event.
func contendedSchedule(t *testing.T) *logic.Schedule {
	t.Helper()
	s := logic.NewSchedule(logic.NewValveController(nopValves{}, 2), monday6)
	addEvent(t, s, "a", 0, true)
	addEvent(t, s, "b", 0, true)
	addEvent(t, s, "c", 1, false)
	return s
}

func TestObserveCountsTransitions(t *testing.T) {
	m := New()
	s := contendedSchedule(t)
	m.Observe(s.Pass(logic.Clock{Wall: monday6}))

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("ARMED")); got != 2 {
		t.Errorf("ARMED: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("SLICE_START")); got != 1 {
		t.Errorf("SLICE_START: got %v, want 1", got)
	}
}

func TestUpdateGauges(t *testing.T) {
	m := New()
	s := contendedSchedule(t)
	s.Pass(logic.Clock{Wall: monday6})
	m.Update(s)

	if got := testutil.ToFloat64(m.valveOpen.WithLabelValues("0")); got != 1 {
		t.Errorf("valve 0 open: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.valveOpen.WithLabelValues("1")); got != 0 {
		t.Errorf("valve 1 open: got %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.eventsState.WithLabelValues("RUNNING")); got != 2 {
		t.Errorf("running events: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.eventsState.WithLabelValues("UNSCHEDULED")); got != 1 {
		t.Errorf("unscheduled events: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.grants); got != 1 {
		t.Errorf("grants: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.denials); got != 1 {
		t.Errorf("denials: got %v, want 1", got)
	}
}

func TestUpdateAddsOnlyDeltas(t *testing.T) {
	m := New()
	s := contendedSchedule(t)
	s.Pass(logic.Clock{Wall: monday6})
	m.Update(s)
	m.Update(s)

	if got := testutil.ToFloat64(m.grants); got != 1 {
		t.Errorf("grants after repeated update: got %v, want 1", got)
	}

	// b is still waiting and asks again on the next pass
	s.Pass(logic.Clock{Wall: monday6.Add(time.Second), Mono: time.Second})
	m.Update(s)
	if got := testutil.ToFloat64(m.denials); got != 2 {
		t.Errorf("denials: got %v, want 2", got)
	}
}

func TestHealth(t *testing.T) {
	m := New()
	m.Health(2, 5)
	m.Health(2, 0)
	m.Health(3, 1)

	if got := testutil.ToFloat64(m.relayErrors); got != 3 {
		t.Errorf("relay failures: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.outbox); got != 1 {
		t.Errorf("outbox: got %v, want 1", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	s := contendedSchedule(t)
	m.Observe(s.Pass(logic.Clock{Wall: monday6}))
	m.Update(s)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`irrigator_valve_open{valve="0"} 1`,
		`irrigator_transitions_total{type="ARMED"} 2`,
		`irrigator_slice_grants_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}
