package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Tick loop counters
	Ticks        atomic.Uint64
	TicksSkipped atomic.Uint64 // previous inference still in flight
	TicksDropped atomic.Uint64 // result arrived after stop

	// Error counters
	FrameErrors     atomic.Uint64
	InferenceErrors atomic.Uint64
	DecodeErrors    atomic.Uint64
	TickPanics      atomic.Uint64
	SinkErrors      atomic.Uint64
	EventsDropped   atomic.Uint64

	// Detection counters
	Detections atomic.Uint64

	// Session events by type
	EventsStart      atomic.Uint64
	EventsEnd        atomic.Uint64
	EventsAlert      atomic.Uint64
	EventsSuppressed atomic.Uint64

	// Latency tracking (last observed)
	TickLatencyMs      atomic.Uint64
	InferenceLatencyMs atomic.Uint64

	// Live state
	OpenSessions   atomic.Int64
	OverrideActive atomic.Uint64 // 0 = inactive, 1 = active
	StreamClients  atomic.Int64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

type counterDef struct {
	name, help string
	v          *atomic.Uint64
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	counters := []counterDef{
		{"behavior_ticks_total", "Total driver ticks started", &m.Ticks},
		{"behavior_ticks_skipped_total", "Ticks skipped because an inference was still in flight", &m.TicksSkipped},
		{"behavior_ticks_dropped_total", "Tick results discarded after stop", &m.TicksDropped},
		{"behavior_frame_errors_total", "Frame acquisition failures", &m.FrameErrors},
		{"behavior_inference_errors_total", "Inference call failures", &m.InferenceErrors},
		{"behavior_decode_errors_total", "Malformed model outputs", &m.DecodeErrors},
		{"behavior_tick_panics_total", "Recovered panics inside a tick", &m.TickPanics},
		{"behavior_sink_errors_total", "Event sink failures", &m.SinkErrors},
		{"behavior_events_dropped_total", "Events dropped because the dispatch queue was full", &m.EventsDropped},
		{"behavior_detections_total", "Detections retained after NMS", &m.Detections},
		{"behavior_events_start_total", "Session start events", &m.EventsStart},
		{"behavior_events_end_total", "Session end events", &m.EventsEnd},
		{"behavior_events_alert_total", "Session alert events", &m.EventsAlert},
		{"behavior_events_suppressed_total", "Session suppressed events", &m.EventsSuppressed},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "behavior_tick_latency_ms",
			Help: "Last tick processing latency in milliseconds",
		},
		func() float64 { return float64(m.TickLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "behavior_inference_latency_ms",
			Help: "Last inference round-trip latency in milliseconds",
		},
		func() float64 { return float64(m.InferenceLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "behavior_open_sessions",
			Help: "Number of open sessions",
		},
		func() float64 { return float64(m.OpenSessions.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "behavior_override_active",
			Help: "Override active (0=inactive, 1=active)",
		},
		func() float64 { return float64(m.OverrideActive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "behavior_stream_clients",
			Help: "Connected event stream clients (SSE and WebRTC)",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))
}

// CountEvent increments the counter for the event's type.
func (m *Metrics) CountEvent(ev types.SessionEvent) {
	switch ev.Type {
	case types.EventStart:
		m.EventsStart.Add(1)
	case types.EventEnd:
		m.EventsEnd.Add(1)
	case types.EventAlert:
		m.EventsAlert.Add(1)
	case types.EventSuppressed:
		m.EventsSuppressed.Add(1)
	}
}

// UpdateTickLatency records the processing time of one tick.
func (m *Metrics) UpdateTickLatency(d time.Duration) {
	m.TickLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateInferenceLatency records one inference round trip.
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetOverride records the override state.
func (m *Metrics) SetOverride(active bool) {
	if active {
		m.OverrideActive.Store(1)
	} else {
		m.OverrideActive.Store(0)
	}
}

// Registry exposes the private registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
