// Package metrics provides Prometheus-based metrics recording for the gateway.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the gateway's Prometheus collectors.
type Recorder struct {
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	toolCallsTotal     *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	sessionsExpired    prometheus.Counter
}

// NewRecorder registers the gateway collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assist_runs_total",
				Help: "Assistant runs by final outcome",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assist_run_duration_seconds",
				Help:    "Time from run creation to a final outcome",
				Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"outcome"},
		),
		toolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assist_tool_calls_total",
				Help: "Tool calls handled, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assist_notifications_total",
				Help: "Webhook notifications by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assist_sessions_active",
				Help: "Sessions currently held by the session store",
			},
		),
		sessionsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assist_sessions_expired_total",
				Help: "Sessions removed by the inactivity sweep",
			},
		),
	}
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(outcome).Inc()
	r.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveToolCall records one handled tool call.
func (r *Recorder) ObserveToolCall(action, outcome string) {
	if r == nil {
		return
	}
	r.toolCallsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveNotification records one notification attempt.
func (r *Recorder) ObserveNotification(category, outcome string) {
	if r == nil {
		return
	}
	r.notificationsTotal.WithLabelValues(category, outcome).Inc()
}

// SetActiveSessions reports the current session count.
func (r *Recorder) SetActiveSessions(n int) {
	if r == nil {
		return
	}
	r.sessionsActive.Set(float64(n))
}

// IncExpiredSessions counts one expired session.
func (r *Recorder) IncExpiredSessions() {
	if r == nil {
		return
	}
	r.sessionsExpired.Inc()
}
