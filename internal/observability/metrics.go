// Package observability wires the device client's Prometheus
// instruments. Grounded on the teacher's internal/observability/metrics.go
// (promauto-registered vectors exposed through promhttp), repointed from
// voice-turn/task metrics to device-session concerns.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments the device client reports.
type Metrics struct {
	StateTransitions   *prometheus.CounterVec
	WakeEvents         *prometheus.CounterVec
	TransportErrors    *prometheus.CounterVec
	Reconnects         prometheus.Counter
	AudioFramesDropped prometheus.Counter
	ActivationPolls    *prometheus.CounterVec
	ThingInvocations   *prometheus.CounterVec
	SessionLatency     *prometheus.HistogramVec
}

// NewMetrics registers and returns the instrument set under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Device state transitions by from/to state.",
		}, []string{"from", "to"}),
		WakeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_events_total",
			Help:      "Wake-word detector events by outcome.",
		}, []string{"outcome"}),
		TransportErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Transport-layer errors by kind.",
		}, []string{"kind"}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Number of transport reconnect attempts.",
		}),
		AudioFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Capture frames dropped because the encode queue was full.",
		}),
		ActivationPolls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activation_polls_total",
			Help:      "Activation poll attempts by result.",
		}, []string{"result"}),
		ThingInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thing_invocations_total",
			Help:      "IoT thing method invocations by thing and result.",
		}, []string{"thing", "result"}),
		SessionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_stage_latency_ms",
			Help:      "Latency of named session stages in milliseconds.",
			Buckets:   []float64{20, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"stage"}),
	}
}

func (m *Metrics) ObserveStateTransition(from, to string) {
	if m == nil || m.StateTransitions == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveWakeEvent(outcome string) {
	if m == nil || m.WakeEvents == nil {
		return
	}
	m.WakeEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransportError(kind string) {
	if m == nil || m.TransportErrors == nil {
		return
	}
	m.TransportErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveReconnect() {
	if m == nil || m.Reconnects == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) ObserveAudioFrameDropped() {
	if m == nil || m.AudioFramesDropped == nil {
		return
	}
	m.AudioFramesDropped.Inc()
}

func (m *Metrics) ObserveActivationPoll(result string) {
	if m == nil || m.ActivationPolls == nil {
		return
	}
	m.ActivationPolls.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveThingInvocation(thing, result string) {
	if m == nil || m.ThingInvocations == nil {
		return
	}
	m.ThingInvocations.WithLabelValues(thing, result).Inc()
}

func (m *Metrics) ObserveStageLatency(stage string, d time.Duration) {
	if m == nil || m.SessionLatency == nil {
		return
	}
	m.SessionLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

// MetricsHandler exposes the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
