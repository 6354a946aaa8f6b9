// Package metrics exposes Prometheus counters for the collection loop, the
// sample store sinks and the analysis path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ticksTotal         *prometheus.CounterVec
	sinkFailures       *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	analysisRuns       *prometheus.CounterVec
	outliersFlagged    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_collector_ticks_total",
			Help: "Sampling ticks by outcome (accepted, discarded, store_failed).",
		}, []string{"outcome"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_store_sink_failures_total",
			Help: "Failed writes per sample store sink.",
		}, []string{"sink"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_notifications_total",
			Help: "Notification attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		analysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_analysis_runs_total",
			Help: "Analysis runs by outcome.",
		}, []string{"outcome"}),
		outliersFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_outliers_flagged_total",
			Help: "Raw values flagged by the IQR rule per metric.",
		}, []string{"metric"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ticksTotal,
			m.sinkFailures,
			m.notificationsTotal,
			m.analysisRuns,
			m.outliersFlagged,
		)
	}
	return m
}

// The methods below are nil-safe so components can run without metrics.

func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) Notification(channel string, ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) AnalysisRun(outcome string) {
	if m == nil {
		return
	}
	m.analysisRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Outliers(metric string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.outliersFlagged.WithLabelValues(metric).Add(float64(n))
}
