// Package status provides a thread-safe status tracker for the irrigator daemon.
// It is written by the polling loop and read by HTTP handlers and MQTT
// lifecycle messages.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/irrigator/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	Site        string
	HTTPAddr    string
	Valves      int
	ScheduleDir string
	Timezone    string
}

// EventStatus is the view of one event at snapshot time.
type EventStatus struct {
	ID        logic.EventID
	Valve     int
	State     logic.ScheduleState
	Cycle     logic.CycleState
	Duration  time.Duration
	Remaining time.Duration
	Hour      int
	Minute    int
	Days      logic.Weekdays
	Parallel  bool
}

// ValveStatus is the view of one valve at snapshot time.
type ValveStatus struct {
	Valve   int
	Open    bool
	Holders []logic.EventID
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Events        []EventStatus
	Valves        []ValveStatus
	Counts        logic.Counts
	Stats         logic.ControllerStats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTQueued    int
	RelayFailures int
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update captures the schedule's events, valves and counters.
// Called from runLoop after every pass; the schedule must not be touched
// concurrently.
func (t *Tracker) Update(s *logic.Schedule) {
	events := CaptureEvents(s)
	valves := CaptureValves(s.Controller())
	counts := s.Counts()
	stats := s.Controller().Stats()

	t.mu.Lock()
	t.snap.Events = events
	t.snap.Valves = valves
	t.snap.Counts = counts
	t.snap.Stats = stats
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetMQTTQueued sets the number of messages waiting for the broker.
func (t *Tracker) SetMQTTQueued(n int) {
	t.mu.Lock()
	t.snap.MQTTQueued = n
	t.mu.Unlock()
}

// SetRelayFailures sets the number of relay writes that failed since startup.
func (t *Tracker) SetRelayFailures(n int) {
	t.mu.Lock()
	t.snap.RelayFailures = n
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// CaptureEvents returns the status of every event in processing order.
func CaptureEvents(s *logic.Schedule) []EventStatus {
	events := s.Events()
	out := make([]EventStatus, 0, len(events))
	for _, e := range events {
		h, m := e.StartTime()
		out = append(out, EventStatus{
			ID:        e.ID(),
			Valve:     e.Valve(),
			State:     e.State(),
			Cycle:     e.Cycle(),
			Duration:  e.Duration(),
			Remaining: e.Remaining(),
			Hour:      h,
			Minute:    m,
			Days:      e.Days(),
			Parallel:  e.Parallel(),
		})
	}
	return out
}

// CaptureValves returns the status of every valve.
func CaptureValves(c *logic.ValveController) []ValveStatus {
	out := make([]ValveStatus, c.Valves())
	for v := range out {
		out[v] = ValveStatus{Valve: v, Open: c.IsOpen(v), Holders: c.Holders(v)}
	}
	return out
}
