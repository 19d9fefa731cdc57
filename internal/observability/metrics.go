package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	TurnStageSeconds *prometheus.HistogramVec
	PipelineErrors   *prometheus.CounterVec
	AssetDownloads   *prometheus.CounterVec

	window *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket bridge messages by direction and type.",
		}, []string{"direction", "type"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed pipeline turns by outcome.",
		}, []string{"outcome"}),
		TurnStageSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"stage"}),
		PipelineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Pipeline errors by stage and code.",
		}, []string{"stage", "code"}),
		AssetDownloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_downloads_total",
			Help:      "Asset cache downloads by result.",
		}, []string{"result"}),
		window: newStageWindow(256),
	}
}

// ObserveStage records a stage duration in both the Prometheus histogram and
// the in-process latency window served by the perf endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.TurnStageSeconds.WithLabelValues(stage).Observe(d.Seconds())
	m.window.Observe(stage, float64(d.Milliseconds()))
}

// ObserveIndicator counts a named occurrence (retry, fallback, no_speech) in
// the latency window snapshot.
func (m *Metrics) ObserveIndicator(name string) {
	m.window.ObserveIndicator(name)
}

func (m *Metrics) LatencySnapshot() StageSnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
