package saga

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	started     prometheus.Counter
	completed   prometheus.Counter
	compensated prometheus.Counter
	failed      prometheus.Counter
	timedOut    prometheus.Counter
	dropped     *prometheus.CounterVec
	active      prometheus.Gauge
	duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_saga", Name: "sagas_started_total",
			Help: "Sagas started.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_saga", Name: "sagas_completed_total",
			Help: "Sagas that reached COMPLETED.",
		}),
		compensated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_saga", Name: "sagas_compensated_total",
			Help: "Sagas that reached COMPENSATED.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_saga", Name: "sagas_failed_total",
			Help: "Sagas whose compensation failed and need an operator.",
		}),
		timedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_saga", Name: "sagas_timed_out_total",
			Help: "Sagas compensated by the timeout sweep.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_saga", Name: "events_dropped_total",
			Help: "Inbound events ignored by the orchestrator.",
		}, []string{"topic", "reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "order_saga", Name: "sagas_active",
			Help: "Sagas not yet in a terminal state.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "order_saga", Name: "saga_duration_seconds",
			Help:    "Time from start to terminal state.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300, 600},
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.started, m.completed, m.compensated, m.failed, m.timedOut, m.dropped, m.active, m.duration)
	return m
}

func (m *Metrics) sagaStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

func (m *Metrics) sagaFinished(status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	switch status {
	case StatusCompleted:
		m.completed.Inc()
	case StatusCompensated:
		m.compensated.Inc()
	case StatusFailed:
		m.failed.Inc()
	}
	m.active.Dec()
	m.duration.WithLabelValues(strings.ToLower(string(status))).Observe(elapsed.Seconds())
}

func (m *Metrics) sagaTimedOut() {
	if m == nil {
		return
	}
	m.timedOut.Inc()
}

func (m *Metrics) eventDropped(topic, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(topic, reason).Inc()
}
