package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports client-side metrics: signaling traffic,
// media session lifecycle and the frame capture loop.
type PrometheusCollector struct {
	messagesIn      *prometheus.CounterVec
	messagesOut     *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
	connectionState *prometheus.GaugeVec

	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionFailures prometheus.Counter
	sessionDuration prometheus.Histogram

	framesProcessed prometheus.Counter
	framesFailed    prometheus.Counter
	frameLatency    prometheus.Histogram
	detectionsTotal prometheus.Counter
}

// NewPrometheusCollector registers the metric set with the default registry.
func NewPrometheusCollector() *PrometheusCollector {
	return NewPrometheusCollectorWith(prometheus.DefaultRegisterer)
}

// NewPrometheusCollectorWith registers the metric set with reg.
func NewPrometheusCollectorWith(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		messagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcart_signaling_messages_in_total",
			Help: "Inbound signaling messages by type",
		}, []string{"type"}),

		messagesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcart_signaling_messages_out_total",
			Help: "Outbound signaling messages by type",
		}, []string{"type"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamcart_signaling_reconnects_total",
			Help: "Signaling reconnect attempts",
		}),

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamcart_signaling_connection_state",
			Help: "Current signaling connection state (1 for the active state)",
		}, []string{"state"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamcart_media_sessions_active",
			Help: "Currently open media sessions",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamcart_media_sessions_total",
			Help: "Media sessions opened since start",
		}),

		sessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamcart_media_session_failures_total",
			Help: "Media sessions that ended in failure",
		}),

		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamcart_media_session_duration_seconds",
			Help:    "Lifetime of closed media sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		framesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamcart_frames_processed_total",
			Help: "Frames submitted for product detection",
		}),

		framesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamcart_frames_failed_total",
			Help: "Frame submissions that failed",
		}),

		frameLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamcart_frame_processing_seconds",
			Help:    "Round-trip time of frame submissions",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		detectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamcart_detections_total",
			Help: "Products detected across all processed frames",
		}),
	}
}

func (p *PrometheusCollector) RecordMessageIn(msgType string) {
	p.messagesIn.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordMessageOut(msgType string) {
	p.messagesOut.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordReconnect() {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) SetConnectionState(state string) {
	for _, s := range []string{"disconnected", "connecting", "connected", "closing"} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		p.connectionState.WithLabelValues(s).Set(value)
	}
}

func (p *PrometheusCollector) RecordSessionOpened() {
	p.sessionsActive.Inc()
	p.sessionsTotal.Inc()
}

func (p *PrometheusCollector) RecordSessionClosed(lifetime time.Duration) {
	p.sessionsActive.Dec()
	p.sessionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) RecordSessionFailed() {
	p.sessionFailures.Inc()
}

func (p *PrometheusCollector) RecordFrameProcessed(latency time.Duration, detections int) {
	p.framesProcessed.Inc()
	p.frameLatency.Observe(latency.Seconds())
	p.detectionsTotal.Add(float64(detections))
}

func (p *PrometheusCollector) RecordFrameFailed() {
	p.framesFailed.Inc()
}
