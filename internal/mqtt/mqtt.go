// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigator/internal/logic"
)

// Topics are the MQTT topics of one irrigation site.
type Topics struct {
	Events string // per-transition messages
	System string // lifecycle messages (STARTUP, SHUTDOWN, HEARTBEAT, ...)
}

// TopicsFor returns the topics for site.
func TopicsFor(site string) Topics {
	return Topics{
		Events: "irrigation/" + site + "/events",
		System: "irrigation/" + site + "/system",
	}
}

// Publisher publishes scheduler output to MQTT.
type Publisher interface {
	// Publish sends a schedule transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(t logic.Transition) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active and how
// many messages are waiting for it.
type ConnectionStatus interface {
	IsConnected() bool
	Queued() int
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Irrigation IrrigationPayload `json:"irrigation"`
}

// IrrigationPayload contains the transition details.
type IrrigationPayload struct {
	Timestamp        string `json:"timestamp"`
	Event            string `json:"event"`
	ID               string `json:"id"`
	Valve            int    `json:"valve"`
	State            string `json:"state"`
	Cycle            string `json:"cycle"`
	SliceSeconds     int64  `json:"slice_seconds,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(t logic.Transition) ([]byte, error) {
	payload := Payload{
		Irrigation: IrrigationPayload{
			Timestamp:        t.Timestamp.UTC().Format(time.RFC3339),
			Event:            string(t.Type),
			ID:               string(t.Event),
			Valve:            t.Valve,
			State:            string(t.State),
			Cycle:            string(t.Cycle),
			SliceSeconds:     int64(t.Slice / time.Second),
			RemainingSeconds: int64(t.Remaining / time.Second),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Dropped   int    `json:"dropped,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the last-will message registered with the broker.
func WillPayload(now time.Time) []byte {
	data, _ := FormatSystemPayload(SystemEvent{
		Timestamp: now,
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	return data
}

func reconnectedPayload(now time.Time, dropped int) []byte {
	data, _ := json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: now.UTC().Format(time.RFC3339),
			Event:     "RECONNECTED",
			Dropped:   dropped,
		},
	})
	return data
}
