package logic

import "time"

// missedGrace is the shortest window after the start time in which a fresh
// firing may still begin.
const missedGrace = time.Minute

// Event is one scheduled irrigation task for a single valve.
//
// Configuration is changed only through the setters. Runtime status is
// advanced by Process on every polling pass and by OnCycleFinished when the
// controller reports that a granted slice has elapsed.
type Event struct {
	id             EventID
	valve          int
	startHour      int
	startMinute    int
	days           Weekdays
	total          time.Duration
	intervalLen    time.Duration
	intervalPause  time.Duration
	intervalActive bool
	parallel       bool

	state      ScheduleState
	cycle      CycleState
	pausedFrom ScheduleState
	remaining  time.Duration
	resumeAt   time.Duration
	lastSlice  time.Duration

	// rearm is set when a new flagged day starts while a firing is still
	// in progress; the event re-arms as soon as that firing finishes.
	rearm bool
}

// NewEvent creates an unscheduled event with default configuration:
// valve 0, 00:00, no weekdays, zero duration, interval cycling enabled
// but with no interval length.
func NewEvent(id EventID) *Event {
	return &Event{
		id:             id,
		intervalActive: true,
		state:          Unscheduled,
		cycle:          Inactive,
	}
}

// SetRelay sets the valve (relay) this event drives.
func (e *Event) SetRelay(valve int) error {
	if valve < 0 {
		return &ConfigError{Field: "relay_number", Value: valve, Limit: ">= 0"}
	}
	e.valve = valve
	return nil
}

// SetStartTime sets the local time of day the event becomes due.
func (e *Event) SetStartTime(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return &ConfigError{Field: "start_time_hour", Value: hour, Limit: "in 0..23"}
	}
	if minute < 0 || minute > 59 {
		return &ConfigError{Field: "start_time_min", Value: minute, Limit: "in 0..59"}
	}
	e.startHour = hour
	e.startMinute = minute
	return nil
}

// SetDuration sets the total watering time of one firing.
// An unscheduled event, or a scheduled one that has not started watering,
// is pre-armed with the new duration. A scheduled event resuming an
// interrupted firing keeps its remaining time, capped at d. Running, paused
// and finished events pick the new duration up when they are next armed.
func (e *Event) SetDuration(d time.Duration) error {
	if d < 0 {
		return &ConfigError{Field: "duration", Value: d, Limit: ">= 0"}
	}
	old := e.total
	e.total = d
	switch e.state {
	case Unscheduled:
		e.remaining = d
	case Scheduled:
		if e.remaining >= old || e.remaining > d {
			e.remaining = d
		}
	}
	return nil
}

// SetStartDays sets the weekdays on which the event may fire.
func (e *Event) SetStartDays(days Weekdays) {
	e.days = days
}

// SetIntervalLen sets the length of one watering slice when soak cycling.
// Zero disables cycling.
func (e *Event) SetIntervalLen(d time.Duration) error {
	if d < 0 {
		return &ConfigError{Field: "interval_len", Value: d, Limit: ">= 0"}
	}
	e.intervalLen = d
	return nil
}

// SetIntervalPause sets the soak pause between slices.
func (e *Event) SetIntervalPause(d time.Duration) error {
	if d < 0 {
		return &ConfigError{Field: "interval_pause", Value: d, Limit: ">= 0"}
	}
	e.intervalPause = d
	return nil
}

// SetIntervalActive enables or disables soak cycling without touching the
// configured interval length.
func (e *Event) SetIntervalActive(active bool) {
	e.intervalActive = active
}

// SetParallel marks the event as willing to share its valve with other
// parallel events.
func (e *Event) SetParallel(parallel bool) {
	e.parallel = parallel
}

// SetScheduled puts the event on or takes it off the schedule.
//
// Taking an event off forgets any partial progress: re-enabling it on the
// same day yields Finished rather than resuming. Putting it on yields
// Scheduled when there is watering time left and Finished otherwise.
func (e *Event) SetScheduled(on bool) ScheduleState {
	e.cycle = Inactive
	e.resumeAt = 0
	e.rearm = false
	if !on {
		e.state = Unscheduled
		e.remaining = 0
		return e.state
	}
	if e.remaining > 0 {
		e.state = Scheduled
	} else {
		e.state = Finished
	}
	return e.state
}

// SetPaused suspends or resumes an active event. Pausing is only possible
// from Scheduled or Running; resuming returns to the state paused from.
// Remaining time is kept; an interrupted soak is not resumed.
func (e *Event) SetPaused(paused bool) ScheduleState {
	if paused {
		if e.state == Scheduled || e.state == Running {
			e.pausedFrom = e.state
			e.state = Paused
			e.cycle = Inactive
			e.resumeAt = 0
		}
		return e.state
	}
	if e.state == Paused {
		e.state = e.pausedFrom
		e.pausedFrom = ""
	}
	return e.state
}

// SetNextDay is called when a new calendar day starts. A Finished event is
// re-armed for its full duration if day is one of its weekdays. A firing
// still watering across midnight is re-armed when it finishes instead.
// Events not firing get their full duration back, so progress forgotten by
// unscheduling only stays forgotten for the day it happened.
// Reports whether the event was re-armed now.
func (e *Event) SetNextDay(day time.Weekday) bool {
	switch e.state {
	case Finished:
		if !e.days.On(day) {
			return false
		}
		e.arm()
		return true
	case Running:
		e.rearm = e.days.On(day)
	case Paused:
		if e.pausedFrom == Running {
			e.rearm = e.days.On(day)
		} else {
			e.remaining = e.total
		}
	case Unscheduled, Scheduled:
		e.remaining = e.total
	}
	return false
}

// rearmCarried re-arms a finished firing that was still in progress when
// a flagged day started. Reports whether it did.
func (e *Event) rearmCarried() bool {
	if !e.rearm || e.state != Finished {
		return false
	}
	e.arm()
	return true
}

func (e *Event) arm() {
	e.state = Scheduled
	e.cycle = Inactive
	e.remaining = e.total
	e.resumeAt = 0
	e.rearm = false
}

// Reset returns the runtime status to its initial values, keeping the
// configuration. The event is left unscheduled and pre-armed.
func (e *Event) Reset() {
	e.state = Unscheduled
	e.cycle = Inactive
	e.pausedFrom = ""
	e.remaining = e.total
	e.resumeAt = 0
	e.lastSlice = 0
	e.rearm = false
}

// Refund credits slice time that was granted but not delivered.
func (e *Event) Refund(unused time.Duration) {
	if unused <= 0 || e.state == Unscheduled {
		return
	}
	e.remaining += unused
	if e.remaining > e.total {
		e.remaining = e.total
	}
}

// Process advances the event by one polling pass and returns its state.
func (e *Event) Process(arb Arbiter, now Clock) ScheduleState {
	switch e.state {
	case Unscheduled, Finished, Paused:
		return e.state
	}

	if e.state == Scheduled {
		if !e.due(now.Wall) {
			return e.state
		}
		if e.remaining >= e.total && e.missed(now.Wall) {
			e.state = Finished
			return e.state
		}
		e.state = Running
		e.cycle = Inactive
	}

	switch e.cycle {
	case Inactive:
		e.acquire(arb, now.Mono)
	case IntervalPaused:
		if now.Mono >= e.resumeAt {
			e.acquire(arb, now.Mono)
		}
	}
	return e.state
}

// OnCycleFinished is called by the controller when the current slice has
// elapsed. Callbacks that arrive when no slice is expected are ignored.
func (e *Event) OnCycleFinished(now time.Duration) {
	if e.state != Running || e.cycle != IntervalRunning {
		return
	}
	if e.remaining <= 0 {
		e.state = Finished
		e.cycle = Inactive
		e.remaining = 0
		return
	}
	e.cycle = IntervalPaused
	e.resumeAt = now + e.intervalPause
}

func (e *Event) acquire(arb Arbiter, now time.Duration) bool {
	slice := e.SliceLength()
	if slice <= 0 {
		e.state = Finished
		e.cycle = Inactive
		e.remaining = 0
		return false
	}
	if !arb.RegisterEvent(e.valve, slice, e.id, e.parallel, now) {
		return false
	}
	e.cycle = IntervalRunning
	e.lastSlice = slice
	e.remaining -= slice
	if e.remaining < 0 {
		e.remaining = 0
	}
	return true
}

// SliceLength is the length of the next slice the event would request:
// the interval length when cycling, capped by the remaining time.
func (e *Event) SliceLength() time.Duration {
	if !e.intervalActive || e.intervalLen <= 0 || e.intervalLen >= e.remaining {
		return e.remaining
	}
	return e.intervalLen
}

func (e *Event) due(wall time.Time) bool {
	if !e.days.On(wall.Weekday()) {
		return false
	}
	return timeOfDay(wall) >= e.startOffset()
}

func (e *Event) missed(wall time.Time) bool {
	window := e.total
	if window < missedGrace {
		window = missedGrace
	}
	return timeOfDay(wall) >= e.startOffset()+window
}

func (e *Event) startOffset() time.Duration {
	return time.Duration(e.startHour)*time.Hour + time.Duration(e.startMinute)*time.Minute
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// ID returns the event id.
func (e *Event) ID() EventID { return e.id }

// Valve returns the configured valve index.
func (e *Event) Valve() int { return e.valve }

// StartTime returns the configured start hour and minute.
func (e *Event) StartTime() (hour, minute int) { return e.startHour, e.startMinute }

// Days returns the weekday mask.
func (e *Event) Days() Weekdays { return e.days }

// Duration returns the total watering time of one firing.
func (e *Event) Duration() time.Duration { return e.total }

// IntervalLen returns the configured slice length.
func (e *Event) IntervalLen() time.Duration { return e.intervalLen }

// IntervalPause returns the configured soak pause.
func (e *Event) IntervalPause() time.Duration { return e.intervalPause }

// IntervalActive reports whether soak cycling is enabled.
func (e *Event) IntervalActive() bool { return e.intervalActive }

// Parallel reports whether the event may share its valve.
func (e *Event) Parallel() bool { return e.parallel }

// State returns the schedule state.
func (e *Event) State() ScheduleState { return e.state }

// Cycle returns the soak-cycle sub-state.
func (e *Event) Cycle() CycleState { return e.cycle }

// Remaining returns the watering time not yet granted for this firing.
func (e *Event) Remaining() time.Duration { return e.remaining }

// ResumeAt returns the monotonic deadline of the current soak pause.
func (e *Event) ResumeAt() time.Duration { return e.resumeAt }

// LastSlice returns the length of the most recently granted slice.
func (e *Event) LastSlice() time.Duration { return e.lastSlice }
