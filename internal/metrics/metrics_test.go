package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/shake-guard/internal/domain/shake"
)

// TestObserveReport counts outcomes and call results.
func TestObserveReport(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.ObserveReport(shake.Report{Outcome: shake.Outcome{Kind: shake.OutcomeSent, CallPlaced: true}, Duration: time.Second})
	m.ObserveReport(shake.Report{Outcome: shake.Outcome{Kind: shake.OutcomeSendFailed, CallError: "busy"}})
	m.ObserveReport(shake.Report{Outcome: shake.Outcome{Kind: shake.OutcomeSent}})

	require.InDelta(t, 2.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("sent")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("send_failed")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.CallsPlaced.WithLabelValues("placed")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.CallsPlaced.WithLabelValues("failed")), 1e-9)
}

// TestCountersAndState covers simple counters and the state gauge.
func TestCountersAndState(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.IncSamples()
	m.IncSamples()
	m.IncShakes()
	m.IncPendingReplaced()
	m.SetState(shake.StatePaused)

	require.InDelta(t, 2.0, testutil.ToFloat64(m.Samples), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.Shakes), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.PendingReplaced), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(m.State), 1e-9)
}

// TestNilMetrics tolerates a disabled metrics set.
func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics

	require.NotPanics(t, func() {
		m.IncSamples()
		m.IncShakes()
		m.IncPendingReplaced()
		m.SetState(shake.StateRunning)
		m.ObserveReport(shake.Report{})
	})
}
