package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	ConnectAttempts  *prometheus.CounterVec
	CapabilityEvents *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ConnectLatency   prometheus.Histogram

	stageWindow *connectStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live cook sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		ConnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by outcome.",
		}, []string{"outcome"}),
		CapabilityEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_events_total",
			Help:      "Voice capability events by type.",
		}, []string{"type"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "End-to-end connect latency in milliseconds.",
			Buckets:   []float64{100, 200, 400, 700, 1000, 1500, 2500, 5000},
		}),
		stageWindow: newConnectStageWindow(256),
	}
}

// ObserveConnectStage records one stage duration of the connect sequence.
func (m *Metrics) ObserveConnectStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageWindow.Observe(stage, float64(d.Milliseconds()))
	if stage == StageConnectTotal {
		m.ConnectLatency.Observe(float64(d.Milliseconds()))
	}
}

// ObserveConnectIndicator counts a notable connect-path occurrence, such as
// a remount absorbed within the cleanup grace.
func (m *Metrics) ObserveConnectIndicator(name string) {
	if m == nil {
		return
	}
	m.stageWindow.ObserveIndicator(name)
}

// SnapshotConnectStages returns the rolling stage-latency view for /v1/perf.
func (m *Metrics) SnapshotConnectStages() ConnectStageSnapshot {
	if m == nil {
		return ConnectStageSnapshot{}
	}
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
