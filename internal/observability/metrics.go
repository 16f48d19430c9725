package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the pipeline. A nil
// *Metrics is valid and records nothing, which keeps unit tests free of the
// global registry.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	SilenceDetections prometheus.Counter
	PipelineErrors    *prometheus.CounterVec
	BroadcastDrops    *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	TranscribeLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice pipeline sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Interaction state transitions by source and target state.",
		}, []string{"from", "to"}),
		SilenceDetections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_detections_total",
			Help:      "Auto-stops triggered by the silence detector.",
		}),
		PipelineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Surfaced pipeline errors by stage and code.",
		}, []string{"stage", "code"}),
		BroadcastDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Best-effort broadcasts dropped per receiving context.",
		}, []string{"context"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TranscribeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_ms",
			Help:      "Latency of the transcription round trip in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}),
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveSilence() {
	if m == nil {
		return
	}
	m.SilenceDetections.Inc()
}

func (m *Metrics) ObserveError(stage, code string) {
	if m == nil {
		return
	}
	m.PipelineErrors.WithLabelValues(stage, code).Inc()
}

func (m *Metrics) ObserveBroadcastDrop(contextID string) {
	if m == nil {
		return
	}
	m.BroadcastDrops.WithLabelValues(contextID).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveTranscribeLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TranscribeLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
