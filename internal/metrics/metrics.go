// Package metrics defines the Prometheus collectors of the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oshokin/shake-guard/internal/domain/shake"
)

// Metrics groups the daemon collectors.
type Metrics struct {
	// Samples counts samples evaluated by the detector.
	Samples prometheus.Counter
	// Shakes counts fired shake events.
	Shakes prometheus.Counter
	// Dispatches counts dispatch outcomes by kind.
	Dispatches *prometheus.CounterVec // outcome=sent|location_unavailable|send_failed|permission_denied|discarded
	// DispatchDuration observes time from pipeline pickup to outcome.
	DispatchDuration prometheus.Histogram
	// CallsPlaced counts follow-up calls by result.
	CallsPlaced *prometheus.CounterVec // result=placed|failed
	// PendingReplaced counts pending alerts replaced by a newer shake.
	PendingReplaced prometheus.Counter
	// State is the current service state as its numeric value.
	State prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shake_samples_total",
			Help: "Total accelerometer samples evaluated",
		}),
		Shakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shake_events_total",
			Help: "Total shake events fired",
		}),
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shake_dispatch_total",
				Help: "Total alert dispatches by outcome",
			},
			[]string{"outcome"},
		),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shake_dispatch_duration_seconds",
			Help:    "Time from alert pickup to dispatch outcome, including location lookup",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		CallsPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shake_calls_total",
				Help: "Total follow-up calls by result",
			},
			[]string{"result"},
		),
		PendingReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shake_pending_replaced_total",
			Help: "Total pending alerts replaced by a newer shake",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shake_service_state",
			Help: "Service state: 0 idle, 1 running, 2 paused, 3 stopped",
		}),
	}

	reg.MustRegister(
		m.Samples,
		m.Shakes,
		m.Dispatches,
		m.DispatchDuration,
		m.CallsPlaced,
		m.PendingReplaced,
		m.State,
	)

	return m
}

// ObserveReport records a dispatch report.
func (m *Metrics) ObserveReport(report shake.Report) {
	if m == nil {
		return
	}

	m.Dispatches.WithLabelValues(report.Outcome.Kind.String()).Inc()
	m.DispatchDuration.Observe(report.Duration.Seconds())

	switch {
	case report.Outcome.CallPlaced:
		m.CallsPlaced.WithLabelValues("placed").Inc()
	case report.Outcome.CallError != "":
		m.CallsPlaced.WithLabelValues("failed").Inc()
	}
}

// SetState records the service state.
func (m *Metrics) SetState(state shake.ServiceState) {
	if m == nil {
		return
	}

	m.State.Set(float64(state))
}

// IncSamples counts one evaluated sample.
func (m *Metrics) IncSamples() {
	if m == nil {
		return
	}

	m.Samples.Inc()
}

// IncShakes counts one fired shake.
func (m *Metrics) IncShakes() {
	if m == nil {
		return
	}

	m.Shakes.Inc()
}

// IncPendingReplaced counts one replaced pending alert.
func (m *Metrics) IncPendingReplaced() {
	if m == nil {
		return
	}

	m.PendingReplaced.Inc()
}
