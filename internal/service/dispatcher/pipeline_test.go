package dispatcher

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
)

//nolint:gochecknoglobals // Fixed request time shared by tests.
var testTime = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// gatedResolver returns fix after receiving a token from release, when release is set.
type gatedResolver struct {
	fix     shake.Fix
	release chan struct{}

	mu    sync.Mutex
	calls int
}

// Resolve implements Resolver.
func (g *gatedResolver) Resolve(ctx context.Context, _ config.LocationStrategy) shake.Fix {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return shake.NoFix
		}
	}

	return g.fix
}

// callCount returns the number of Resolve calls.
func (g *gatedResolver) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.calls
}

// reportSink collects reports.
type reportSink struct {
	mu      sync.Mutex
	reports []shake.Report
}

// record is a Reporter.
func (r *reportSink) record(_ context.Context, report shake.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, report)
}

// all returns a copy of the collected reports.
func (r *reportSink) all() []shake.Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]shake.Report(nil), r.reports...)
}

// TestPipeline_SingleRequest enriches with a fresh fix and reports once.
func TestPipeline_SingleRequest(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		messenger := new(fakeMessenger)
		sink := new(reportSink)
		resolver := &gatedResolver{fix: shake.NewFix(23.81, 90.41)}
		p := NewPipeline(
			resolver,
			New(gateWith(shake.CapabilitySendMessage), messenger),
			config.StrategyFresh,
			WithReporter(sink.record),
		)

		req := shake.NewAlertRequest("01722536524", 25, testTime)
		require.True(t, p.Submit(context.Background(), req))

		synctest.Wait()
		p.Wait()

		reports := sink.all()
		require.Len(t, reports, 1)
		require.Equal(t, req.ID, reports[0].Request.ID)
		require.Equal(t, shake.OutcomeSent, reports[0].Outcome.Kind)
		require.True(t, reports[0].Request.Fix.Present)
		require.Contains(t, messenger.messages()[0].body, "http://maps.google.com/?q=23.81,90.41")
		require.False(t, p.busy())
	})
}

// TestPipeline_SingleSlotWithReplacement serializes sends and keeps only the latest follow-up.
func TestPipeline_SingleSlotWithReplacement(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		messenger := new(fakeMessenger)
		sink := new(reportSink)
		resolver := &gatedResolver{release: make(chan struct{})}

		var replaced int

		p := NewPipeline(
			resolver,
			New(gateWith(shake.CapabilitySendMessage), messenger),
			config.StrategyLastKnown,
			WithReporter(sink.record),
			WithReplaceHook(func() { replaced++ }),
		)

		first := shake.NewAlertRequest("c", 25, testTime)
		second := shake.NewAlertRequest("c", 26, testTime.Add(time.Second))
		third := shake.NewAlertRequest("c", 27, testTime.Add(2*time.Second))

		require.True(t, p.Submit(context.Background(), first))
		synctest.Wait()
		require.True(t, p.busy())

		// Both arrive while the first is resolving; the third replaces the second.
		require.True(t, p.Submit(context.Background(), second))
		require.True(t, p.Submit(context.Background(), third))
		require.Equal(t, 1, replaced)

		resolver.release <- struct{}{}
		synctest.Wait()

		resolver.release <- struct{}{}
		synctest.Wait()
		p.Wait()

		reports := sink.all()
		require.Len(t, reports, 3, "the replaced request is reported too")
		require.Equal(t, first.ID, reports[0].Request.ID)
		require.Equal(t, second.ID, reports[1].Request.ID)
		require.Equal(t, shake.OutcomeDiscarded, reports[1].Outcome.Kind)
		require.Equal(t, ReasonReplaced, reports[1].Outcome.Reason)
		require.Equal(t, third.ID, reports[2].Request.ID)
		require.True(t, reports[2].Outcome.Delivered())
		require.Equal(t, 1, messenger.maxSeen, "sends must never overlap")
		require.Len(t, messenger.messages(), 2)
		require.Equal(t, 2, resolver.callCount(), "each request resolves its own fix")
	})
}

// TestPipeline_CancelDuringResolution discards the alert instead of sending it.
func TestPipeline_CancelDuringResolution(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		messenger := new(fakeMessenger)
		sink := new(reportSink)
		resolver := &gatedResolver{release: make(chan struct{})}
		p := NewPipeline(
			resolver,
			New(gateWith(shake.CapabilitySendMessage), messenger),
			config.StrategyFresh,
			WithReporter(sink.record),
		)

		ctx, cancel := context.WithCancel(context.Background())
		first := shake.NewAlertRequest("c", 25, testTime)
		pending := shake.NewAlertRequest("c", 26, testTime)

		require.True(t, p.Submit(ctx, first))
		require.True(t, p.Submit(ctx, pending))
		synctest.Wait()

		p.Close()
		cancel()
		p.Wait()

		// Both the in-flight and the pending request get exactly one report.
		reports := sink.all()
		require.Len(t, reports, 2)
		require.Equal(t, first.ID, reports[0].Request.ID)
		require.Equal(t, shake.OutcomeDiscarded, reports[0].Outcome.Kind)
		require.Equal(t, pending.ID, reports[1].Request.ID)
		require.Equal(t, shake.OutcomeDiscarded, reports[1].Outcome.Kind)
		require.Equal(t, ReasonClosed, reports[1].Outcome.Reason)
		require.Empty(t, messenger.messages())

		require.False(t, p.Submit(context.Background(), shake.NewAlertRequest("c", 27, testTime)))
	})
}

// TestPipeline_PermissionDeniedSkipsLocation reports denial without resolving or sending.
func TestPipeline_PermissionDeniedSkipsLocation(t *testing.T) {
	t.Parallel()

	messenger := new(fakeMessenger)
	sink := new(reportSink)
	resolver := new(gatedResolver)
	p := NewPipeline(resolver, New(gateWith(), messenger), config.StrategyFresh, WithReporter(sink.record))

	require.True(t, p.Submit(context.Background(), shake.NewAlertRequest("c", 25, testTime)))
	p.Wait()

	reports := sink.all()
	require.Len(t, reports, 1)
	require.Equal(t, shake.OutcomePermissionDenied, reports[0].Outcome.Kind)
	require.Zero(t, resolver.callCount())
	require.Empty(t, messenger.messages())
}

// TestPipeline_FailureKeepsAccepting accepts new requests after a failed send.
func TestPipeline_FailureKeepsAccepting(t *testing.T) {
	t.Parallel()

	messenger := &fakeMessenger{err: errModemOffline}
	sink := new(reportSink)
	p := NewPipeline(
		new(gatedResolver),
		New(gateWith(shake.CapabilitySendMessage), messenger),
		config.StrategyFresh,
		WithReporter(sink.record),
	)

	require.True(t, p.Submit(context.Background(), shake.NewAlertRequest("c", 25, testTime)))
	p.Wait()
	require.True(t, p.Submit(context.Background(), shake.NewAlertRequest("c", 25, testTime)))
	p.Wait()

	reports := sink.all()
	require.Len(t, reports, 2)
	require.Equal(t, shake.OutcomeSendFailed, reports[0].Outcome.Kind)
	require.Equal(t, shake.OutcomeSendFailed, reports[1].Outcome.Kind)
}
