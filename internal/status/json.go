package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Events        []EventJSON  `json:"events"`
	Valves        []ValveJSON  `json:"valves"`
	Counts        CountsJSON   `json:"transition_counts"`
	Slices        SlicesJSON   `json:"slices"`
	RelayFailures int          `json:"relay_write_failures"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Queued    int    `json:"queued"`
	Broker    string `json:"broker"`
}

// EventJSON is the JSON representation of one event.
type EventJSON struct {
	ID               string `json:"id"`
	Valve            int    `json:"valve"`
	State            string `json:"state"`
	Cycle            string `json:"cycle"`
	Start            string `json:"start"`
	Days             string `json:"days"`
	DurationSeconds  int64  `json:"duration_seconds"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Parallel         bool   `json:"parallel,omitempty"`
}

// ValveJSON is the JSON representation of one valve.
type ValveJSON struct {
	Valve   int      `json:"valve"`
	Open    bool     `json:"open"`
	Holders []string `json:"holders"`
}

// CountsJSON is the JSON representation of transition counts.
type CountsJSON struct {
	Armed       int `json:"armed"`
	SliceStarts int `json:"slice_starts"`
	SliceEnds   int `json:"slice_ends"`
	Soaks       int `json:"soaks"`
	Finished    int `json:"finished"`
	Skipped     int `json:"skipped"`
	Rearmed     int `json:"rearmed"`
}

// SlicesJSON reports valve arbitration outcomes.
type SlicesJSON struct {
	Grants  int `json:"grants"`
	Denials int `json:"denials"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	Site        string `json:"site"`
	HTTPAddr    string `json:"http_addr"`
	Valves      int    `json:"valves"`
	ScheduleDir string `json:"schedule_dir"`
	Timezone    string `json:"timezone"`
}

// StartLabel formats an event start time as HH:MM.
func StartLabel(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func buildInner(snap Snapshot) StatusInner {
	events := make([]EventJSON, 0, len(snap.Events))
	for _, e := range snap.Events {
		events = append(events, EventJSON{
			ID:               string(e.ID),
			Valve:            e.Valve,
			State:            string(e.State),
			Cycle:            string(e.Cycle),
			Start:            StartLabel(e.Hour, e.Minute),
			Days:             e.Days.String(),
			DurationSeconds:  int64(e.Duration / time.Second),
			RemainingSeconds: int64(e.Remaining / time.Second),
			Parallel:         e.Parallel,
		})
	}

	valves := make([]ValveJSON, 0, len(snap.Valves))
	for _, v := range snap.Valves {
		holders := make([]string, 0, len(v.Holders))
		for _, id := range v.Holders {
			holders = append(holders, string(id))
		}
		valves = append(valves, ValveJSON{Valve: v.Valve, Open: v.Open, Holders: holders})
	}

	c := snap.Counts
	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Queued: snap.MQTTQueued, Broker: snap.Config.Broker},
		Events:        events,
		Valves:        valves,
		Counts: CountsJSON{
			Armed:       c.Armed,
			SliceStarts: c.SliceStarts,
			SliceEnds:   c.SliceEnds,
			Soaks:       c.Soaks,
			Finished:    c.Finished,
			Skipped:     c.Skipped,
			Rearmed:     c.Rearmed,
		},
		Slices:        SlicesJSON{Grants: snap.Stats.Grants, Denials: snap.Stats.Denials},
		RelayFailures: snap.RelayFailures,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			Site:        snap.Config.Site,
			HTTPAddr:    snap.Config.HTTPAddr,
			Valves:      snap.Config.Valves,
			ScheduleDir: snap.Config.ScheduleDir,
			Timezone:    snap.Config.Timezone,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
