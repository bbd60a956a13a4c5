package logic

import "time"

// Schedule owns a set of events and drives them against a ValveController.
// It is the Registry the controller resolves completed slices through.
//
// A Schedule is not safe for concurrent use; the daemon touches it only
// from the polling loop.
type Schedule struct {
	ctrl   *ValveController
	events []*Event
	index  map[EventID]*Event

	day     time.Time
	pending []Transition

	counts        Counts
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewSchedule creates an empty schedule bound to ctrl.
// The startTime is used for calculating uptime in heartbeat events.
func NewSchedule(ctrl *ValveController, startTime time.Time) *Schedule {
	s := &Schedule{
		ctrl:          ctrl,
		index:         make(map[EventID]*Event),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	ctrl.SetRegistry(s)
	return s
}

// Lookup implements Registry.
func (s *Schedule) Lookup(id EventID) (CycleListener, bool) {
	e, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return e, true
}

// Add appends e to the schedule. Events are processed in insertion order.
func (s *Schedule) Add(e *Event) error {
	if _, ok := s.index[e.ID()]; ok {
		return ErrDuplicateEvent
	}
	if e.Valve() >= s.ctrl.Valves() {
		return &ConfigError{Field: "relay_number", Value: e.Valve(), Limit: "a configured valve"}
	}
	s.events = append(s.events, e)
	s.index[e.ID()] = e
	return nil
}

// Remove drops the event with id, closing its valve if it holds one.
func (s *Schedule) Remove(id EventID, now Clock) bool {
	e, ok := s.index[id]
	if !ok {
		return false
	}
	s.release(e, now, false)
	delete(s.index, id)
	for i, ev := range s.events {
		if ev == e {
			s.events = append(s.events[:i], s.events[i+1:]...)
			break
		}
	}
	return true
}

// Replace swaps the event with the same id for e, or adds e if absent.
// Runtime progress of the old event is discarded.
func (s *Schedule) Replace(e *Event, now Clock) error {
	old, ok := s.index[e.ID()]
	if !ok {
		return s.Add(e)
	}
	if e.Valve() >= s.ctrl.Valves() {
		return &ConfigError{Field: "relay_number", Value: e.Valve(), Limit: "a configured valve"}
	}
	s.release(old, now, false)
	for i, ev := range s.events {
		if ev == old {
			s.events[i] = e
			break
		}
	}
	s.index[e.ID()] = e
	return nil
}

// Get returns the event with id.
func (s *Schedule) Get(id EventID) (*Event, bool) {
	e, ok := s.index[id]
	return e, ok
}

// Events returns the events in processing order.
func (s *Schedule) Events() []*Event {
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// SetScheduled puts an event on or off the schedule. Taking it off closes
// its valve immediately. The resulting transition is reported by the next
// Pass.
func (s *Schedule) SetScheduled(id EventID, on bool, now Clock) (ScheduleState, error) {
	e, ok := s.index[id]
	if !ok {
		return "", ErrUnknownEvent
	}
	s.release(e, now, false)
	state := e.SetScheduled(on)
	typ := TransitionScheduled
	if !on {
		typ = TransitionUnscheduled
	}
	s.pending = append(s.pending, s.transition(now, typ, e))
	return state, nil
}

// SetPaused pauses or resumes an event. Pausing closes its valve and
// credits the unused slice time back to the event.
func (s *Schedule) SetPaused(id EventID, paused bool, now Clock) (ScheduleState, error) {
	e, ok := s.index[id]
	if !ok {
		return "", ErrUnknownEvent
	}
	prev := e.State()
	if paused && (prev == Scheduled || prev == Running) {
		s.release(e, now, true)
	}
	state := e.SetPaused(paused)
	if state != prev {
		typ := TransitionResumed
		if paused {
			typ = TransitionPaused
		}
		s.pending = append(s.pending, s.transition(now, typ, e))
	}
	return state, nil
}

// Pass runs one polling pass and returns the transitions it produced.
//
// Order within a pass: day rollover, then controller housekeeping, then
// every event in insertion order. Housekeeping runs first so an event
// whose slice just ended can start its next slice in the same pass.
func (s *Schedule) Pass(now Clock) []Transition {
	out := s.pending
	s.pending = nil

	out = s.rollover(now, out)

	for _, c := range s.ctrl.Tick(now.Mono) {
		e, ok := s.index[c.Event]
		if !ok {
			continue
		}
		out = append(out, s.transition(now, TransitionSliceEnd, e))
		switch {
		case e.State() == Finished:
			out = append(out, s.transition(now, TransitionFinished, e))
			out = s.rearmCarried(now, e, out)
		case e.Cycle() == IntervalPaused:
			out = append(out, s.transition(now, TransitionSoak, e))
		}
	}

	for _, e := range s.events {
		prevState, prevCycle := e.State(), e.Cycle()
		e.Process(s.ctrl, now)

		if prevState == Scheduled {
			switch e.State() {
			case Running:
				out = append(out, s.transition(now, TransitionArmed, e))
			case Finished:
				out = append(out, s.transition(now, TransitionSkipped, e))
				continue
			}
		}
		if prevCycle != IntervalRunning && e.Cycle() == IntervalRunning {
			t := s.transition(now, TransitionSliceStart, e)
			t.Slice = e.LastSlice()
			out = append(out, t)
		}
		if prevState == Running && e.State() == Finished {
			out = append(out, s.transition(now, TransitionFinished, e))
			out = s.rearmCarried(now, e, out)
		}
	}

	s.count(out)
	return out
}

func (s *Schedule) rollover(now Clock, out []Transition) []Transition {
	y, m, d := now.Wall.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Wall.Location())
	if s.day.IsZero() {
		s.day = day
		return out
	}
	if day.Equal(s.day) {
		return out
	}
	s.day = day
	for _, e := range s.events {
		if e.SetNextDay(now.Wall.Weekday()) {
			out = append(out, s.transition(now, TransitionRearmed, e))
		}
	}
	return out
}

// rearmCarried reports a firing that ran past midnight being re-armed for
// the new day as soon as it finishes.
func (s *Schedule) rearmCarried(now Clock, e *Event, out []Transition) []Transition {
	if e.rearmCarried() {
		out = append(out, s.transition(now, TransitionRearmed, e))
	}
	return out
}

func (s *Schedule) release(e *Event, now Clock, refund bool) {
	unused, held := s.ctrl.Release(e.ID(), now.Mono)
	if !held {
		return
	}
	s.pending = append(s.pending, s.transition(now, TransitionSliceEnd, e))
	if refund {
		e.Refund(unused)
	}
}

func (s *Schedule) transition(now Clock, typ TransitionType, e *Event) Transition {
	return Transition{
		Timestamp: now.Wall,
		Type:      typ,
		Event:     e.ID(),
		Valve:     e.Valve(),
		State:     e.State(),
		Cycle:     e.Cycle(),
		Remaining: e.Remaining(),
	}
}

func (s *Schedule) count(ts []Transition) {
	for _, t := range ts {
		switch t.Type {
		case TransitionArmed:
			s.counts.Armed++
		case TransitionSliceStart:
			s.counts.SliceStarts++
		case TransitionSliceEnd:
			s.counts.SliceEnds++
		case TransitionSoak:
			s.counts.Soaks++
		case TransitionFinished:
			s.counts.Finished++
		case TransitionSkipped:
			s.counts.Skipped++
		case TransitionRearmed:
			s.counts.Rearmed++
		}
	}
}

// Counts returns the transition counters since startup.
func (s *Schedule) Counts() Counts {
	return s.counts
}

// Controller returns the controller the schedule drives.
func (s *Schedule) Controller() *ValveController {
	return s.ctrl
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (s *Schedule) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(s.lastHeartbeat) < interval {
		return nil
	}
	s.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(s.startTime),
		Counts:    s.counts,
		Stats:     s.ctrl.Stats(),
	}
}
