package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/irrigator/internal/logic"
)

func sliceStart() logic.Transition {
	return logic.Transition{
		Timestamp: time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC),
		Type:      logic.TransitionSliceStart,
		Event:     "lawn",
		Valve:     2,
		State:     logic.Running,
		Cycle:     logic.IntervalRunning,
		Slice:     5 * time.Minute,
		Remaining: 15 * time.Minute,
	}
}

func TestTopicsFor(t *testing.T) {
	got := TopicsFor("garden")
	if got.Events != "irrigation/garden/events" {
		t.Errorf("unexpected events topic: %s", got.Events)
	}
	if got.System != "irrigation/garden/system" {
		t.Errorf("unexpected system topic: %s", got.System)
	}
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(sliceStart())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	p := parsed.Irrigation
	if p.Timestamp != "2026-05-04T06:00:00Z" {
		t.Errorf("unexpected timestamp: %s", p.Timestamp)
	}
	if p.Event != "SLICE_START" || p.ID != "lawn" || p.Valve != 2 {
		t.Errorf("unexpected identity: %+v", p)
	}
	if p.State != "RUNNING" || p.Cycle != "INTERVAL_RUNNING" {
		t.Errorf("unexpected state: %s/%s", p.State, p.Cycle)
	}
	if p.SliceSeconds != 300 || p.RemainingSeconds != 900 {
		t.Errorf("unexpected durations: slice=%d remaining=%d", p.SliceSeconds, p.RemainingSeconds)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	tr := sliceStart()
	tr.Type = logic.TransitionFinished
	tr.State = logic.Finished
	tr.Cycle = logic.Inactive
	tr.Slice = 0
	tr.Remaining = 0

	payload, err := FormatPayload(tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// slice_seconds is omitted when zero
	expected := `{"irrigation":{"timestamp":"2026-05-04T06:00:00Z","event":"FINISHED","id":"lawn","valve":2,"state":"FINISHED","cycle":"INACTIVE","remaining_seconds":0}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"system":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through, got %s", payload)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	payload := WillPayload(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "OFFLINE" {
		t.Errorf("unexpected event: %s", parsed.System.Event)
	}
	if parsed.System.Reason != "MQTT_DISCONNECT" {
		t.Errorf("unexpected reason: %s", parsed.System.Reason)
	}
}

func TestReconnectedPayload(t *testing.T) {
	payload := reconnectedPayload(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), 3)

	expected := `{"system":{"timestamp":"2026-02-03T10:00:00Z","event":"RECONNECTED","dropped":3}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}

	payload = reconnectedPayload(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), 0)
	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := parsed["system"]["dropped"]; ok {
		t.Error("dropped should be omitted when zero")
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(sliceStart()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Transitions) != 1 || f.Transitions[0].Type != logic.TransitionSliceStart {
		t.Fatalf("unexpected transitions: %+v", f.Transitions)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}

	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.SystemEvents) != 1 || !f.SystemEvents[0].Retained {
		t.Errorf("expected retained system event, got %+v", f.SystemEvents)
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")
	f.PublishSystemError = errors.New("simulated error")

	if err := f.Publish(sliceStart()); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP"}); err == nil {
		t.Error("expected error")
	}
	if len(f.Transitions) != 0 || len(f.SystemEvents) != 0 {
		t.Error("nothing should be recorded on error")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(sliceStart())
	f.Close()
	f.Connected = true
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Transitions) != 0 || len(f.Payloads) != 0 {
		t.Error("recorded messages should be cleared")
	}
	if f.Closed || f.Connected || f.PublishError != nil {
		t.Errorf("flags should be reset: %+v", f)
	}
}
