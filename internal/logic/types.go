// Package logic contains the pure irrigation scheduling logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via Clock samples.
package logic

import (
	"strings"
	"time"
)

// EventID identifies an irrigation event within a Schedule.
type EventID string

// ScheduleState is the lifecycle status of an event.
type ScheduleState string

const (
	Unscheduled ScheduleState = "UNSCHEDULED"
	Scheduled   ScheduleState = "SCHEDULED"
	Running     ScheduleState = "RUNNING"
	Paused      ScheduleState = "PAUSED"
	Finished    ScheduleState = "FINISHED"
)

// CycleState is the soak-cycle sub-state, only meaningful while Running.
type CycleState string

const (
	Inactive        CycleState = "INACTIVE"
	IntervalRunning CycleState = "INTERVAL_RUNNING"
	IntervalPaused  CycleState = "INTERVAL_PAUSED"
)

// Clock is one sample of the two time sources the scheduler needs.
// Wall is local wall-clock time used for due checks and day rollover.
// Mono is a monotonic offset used for slice and soak deadlines.
type Clock struct {
	Wall time.Time
	Mono time.Duration
}

// Weekdays flags the days an event may fire on, indexed by time.Weekday
// (Sunday = 0).
type Weekdays [7]bool

// EveryDay has every weekday flag set.
var EveryDay = Weekdays{true, true, true, true, true, true, true}

// On reports whether the flag for d is set.
func (w Weekdays) On(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return w[d]
}

// Any reports whether at least one day is flagged.
func (w Weekdays) Any() bool {
	for _, on := range w {
		if on {
			return true
		}
	}
	return false
}

// String renders the mask as seven letters starting with Sunday,
// using '-' for unset days (e.g. "SM-W-F-").
func (w Weekdays) String() string {
	const letters = "SMTWTFS"
	var b strings.Builder
	for i, on := range w {
		if on {
			b.WriteByte(letters[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ParseWeekdays is the inverse of Weekdays.String. Any character other
// than '-' or a space marks the day as set.
func ParseWeekdays(s string) (Weekdays, error) {
	var w Weekdays
	if len(s) != len(w) {
		return w, &ConfigError{Field: "days", Value: s, Limit: "seven characters from Sunday"}
	}
	for i := range w {
		w[i] = s[i] != '-' && s[i] != ' '
	}
	return w, nil
}

// Valves is the hardware surface the controller drives.
// Both calls are side-effecting and must not fail from the caller's
// point of view; drivers log their own errors.
type Valves interface {
	OpenValve(n int)
	CloseValve(n int)
}

// Arbiter grants bounded valve slices to events.
type Arbiter interface {
	RegisterEvent(valve int, length time.Duration, id EventID, parallel bool, now time.Duration) bool
}

// CycleListener is notified when a granted slice elapses.
type CycleListener interface {
	OnCycleFinished(now time.Duration)
}

// Registry resolves event ids to listeners. The controller never owns
// events; it only looks them up when a slice completes.
type Registry interface {
	Lookup(id EventID) (CycleListener, bool)
}

// TransitionType names an observable change produced by a scheduling pass.
type TransitionType string

const (
	TransitionArmed       TransitionType = "ARMED"
	TransitionSliceStart  TransitionType = "SLICE_START"
	TransitionSliceEnd    TransitionType = "SLICE_END"
	TransitionSoak        TransitionType = "SOAK"
	TransitionFinished    TransitionType = "FINISHED"
	TransitionSkipped     TransitionType = "SKIPPED"
	TransitionRearmed     TransitionType = "REARMED"
	TransitionPaused      TransitionType = "PAUSED"
	TransitionResumed     TransitionType = "RESUMED"
	TransitionScheduled   TransitionType = "SCHEDULED"
	TransitionUnscheduled TransitionType = "UNSCHEDULED"
)

// Transition is a state change to be published.
type Transition struct {
	Timestamp time.Time
	Type      TransitionType
	Event     EventID
	Valve     int
	State     ScheduleState
	Cycle     CycleState
	Slice     time.Duration // granted slice length, SLICE_START only
	Remaining time.Duration
}

// Counts tracks the number of each transition type since startup.
type Counts struct {
	Armed       int
	SliceStarts int
	SliceEnds   int
	Soaks       int
	Finished    int
	Skipped     int
	Rearmed     int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
	Stats     ControllerStats
}
