// Package metrics exports scheduler state as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/irrigator/internal/logic"
)

const namespace = "irrigator"

var states = []logic.ScheduleState{
	logic.Unscheduled, logic.Scheduled, logic.Running, logic.Paused, logic.Finished,
}

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	valveOpen   *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	eventsState *prometheus.GaugeVec
	grants      prometheus.Counter
	denials     prometheus.Counter
	relayErrors prometheus.Counter
	outbox      prometheus.Gauge

	last         logic.ControllerStats
	lastFailures int
}

// New registers the irrigator collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		valveOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valve_open",
			Help:      "1 while the valve has at least one holder.",
		}, []string{"valve"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Schedule transitions by type.",
		}, []string{"type"}),
		eventsState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events",
			Help:      "Events by schedule state.",
		}, []string{"state"}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slice_grants_total",
			Help:      "Valve slices granted.",
		}),
		denials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slice_denials_total",
			Help:      "Valve slice requests denied because the valve was held.",
		}),
		relayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_write_failures_total",
			Help:      "Relay writes the GPIO driver rejected.",
		}),
		outbox: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_outbox_messages",
			Help:      "Messages waiting for the broker connection.",
		}),
	}
	m.registry.MustRegister(m.valveOpen, m.transitions, m.eventsState, m.grants, m.denials, m.relayErrors, m.outbox)
	return m
}

// Observe counts the transitions of one pass.
func (m *Metrics) Observe(ts []logic.Transition) {
	for _, t := range ts {
		m.transitions.WithLabelValues(string(t.Type)).Inc()
	}
}

// Update refreshes the gauges from s. Called from the loop that owns s.
func (m *Metrics) Update(s *logic.Schedule) {
	ctrl := s.Controller()
	for v := 0; v < ctrl.Valves(); v++ {
		open := 0.0
		if ctrl.IsOpen(v) {
			open = 1
		}
		m.valveOpen.WithLabelValues(strconv.Itoa(v)).Set(open)
	}

	byState := make(map[logic.ScheduleState]int, len(states))
	for _, e := range s.Events() {
		byState[e.State()]++
	}
	for _, st := range states {
		m.eventsState.WithLabelValues(string(st)).Set(float64(byState[st]))
	}

	stats := ctrl.Stats()
	if d := stats.Grants - m.last.Grants; d > 0 {
		m.grants.Add(float64(d))
	}
	if d := stats.Denials - m.last.Denials; d > 0 {
		m.denials.Add(float64(d))
	}
	m.last = stats
}

// Health records the relay failure total and the MQTT outbox depth.
func (m *Metrics) Health(relayFailures, queued int) {
	if d := relayFailures - m.lastFailures; d > 0 {
		m.relayErrors.Add(float64(d))
	}
	m.lastFailures = relayFailures
	m.outbox.Set(float64(queued))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
