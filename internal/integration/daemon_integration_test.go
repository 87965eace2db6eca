package integration

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/shake-guard/internal/api/grpc/control"
	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/service/common"
	"github.com/oshokin/shake-guard/internal/service/daemon"
	"github.com/oshokin/shake-guard/internal/service/permission"
)

const waitTimeout = 5 * time.Second

// chanSource streams samples pushed by the test.
type chanSource struct {
	samples chan shake.Sample
}

// Stream implements sampler.Source.
func (s *chanSource) Stream(ctx context.Context, emit func(shake.Sample) bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sample := <-s.samples:
			if !emit(sample) {
				return nil
			}
		}
	}
}

// fixedLocation always knows where the device is.
type fixedLocation struct {
	fix shake.Fix
}

func (l fixedLocation) CurrentFix(context.Context) (shake.Fix, error)   { return l.fix, nil }
func (l fixedLocation) LastKnownFix(context.Context) (shake.Fix, error) { return l.fix, nil }

// phone records messages and calls.
type phone struct {
	mu       sync.Mutex
	messages []string
	calls    []string
}

// Send implements dispatcher.MessageTransport.
func (p *phone) Send(_ context.Context, address, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, address+": "+body)

	return nil
}

// Place implements dispatcher.CallTransport.
func (p *phone) Place(_ context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, address)

	return nil
}

func (p *phone) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.messages...), append([]string(nil), p.calls...)
}

// nextEvent waits for the next watched event.
func nextEvent(t *testing.T, events <-chan *structpb.Struct) map[string]*structpb.Value {
	t.Helper()

	select {
	case event, ok := <-events:
		require.True(t, ok, "event stream ended")

		return event.GetFields()
	case <-time.After(waitTimeout):
		t.Fatal("no event received")

		return nil
	}
}

// TestDaemon_ShakeSendsAlert runs the daemon end to end: a shake produces a
// message with a map link and a call, observers see every step, and
// ACTION_STOP ends both the watch stream and the daemon.
//
//nolint:funlen // End-to-end scenario reads best as one sequence.
func TestDaemon_ShakeSendsAlert(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := &config.Config{
		ContactAddress: "01722536524",
		PlaceCall:      true,
		SampleInterval: time.Millisecond,
	}
	require.NoError(t, config.Validate(cfg))

	source := &chanSource{samples: make(chan shake.Sample)}
	device := new(phone)
	registry := prometheus.NewRegistry()

	done := make(chan error, 1)

	go func() {
		done <- daemon.Serve(context.Background(), cfg, &daemon.Dependencies{
			Source:   source,
			Location: fixedLocation{fix: shake.NewFix(59.9375, 30.3086)},
			Messages: device,
			Calls:    device,
			Gate: permission.NewStatic(map[shake.Capability]bool{
				shake.CapabilitySendMessage: true,
				shake.CapabilityLocation:    true,
				shake.CapabilityPlaceCall:   true,
			}),
			Listener: lis,
			Registry: registry,
		})
	}()

	client, err := common.Dial(context.Background(), lis.Addr().String(),
		common.WithCallTimeout(waitTimeout),
		common.WithActor(control.Actor{Hostname: "test-host", Username: "tester"}),
	)
	require.NoError(t, err)

	defer func() {
		_ = client.Close()
	}()

	events := make(chan *structpb.Struct, 16)
	watchErr := make(chan error, 1)

	go func() {
		defer close(events)

		watchErr <- client.WatchEvents(context.Background(), func(event *structpb.Struct) error {
			events <- event

			return nil
		})
	}()

	snapshot := nextEvent(t, events)
	require.Equal(t, string(shake.EventStateChanged), snapshot["kind"].GetStringValue())
	require.Equal(t, "RUNNING", snapshot["state"].GetStringValue())

	start := time.Now()
	source.samples <- shake.Sample{Z: shake.StandardGravity, Timestamp: start}
	source.samples <- shake.Sample{X: 20, Z: 25, Timestamp: start.Add(time.Second)}

	detected := nextEvent(t, events)
	require.Equal(t, string(shake.EventShakeDetected), detected["kind"].GetStringValue())

	dispatched := nextEvent(t, events)
	require.Equal(t, string(shake.EventDispatched), dispatched["kind"].GetStringValue())
	require.Equal(t, "sent", dispatched["outcome"].GetStringValue())
	require.True(t, dispatched["call_placed"].GetBoolValue())
	require.Equal(t, detected["request_id"].GetStringValue(), dispatched["request_id"].GetStringValue())

	messages, calls := device.snapshot()
	require.Len(t, messages, 1)
	require.True(t, strings.HasPrefix(messages[0], cfg.ContactAddress+": "))
	require.Contains(t, messages[0], "http://maps.google.com/?q=59.9375,30.3086")
	require.Equal(t, []string{cfg.ContactAddress}, calls)

	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP shake_events_total Total shake events fired
# TYPE shake_events_total counter
shake_events_total 1
`), "shake_events_total"))

	state, err := client.SendCommand(context.Background(), shake.CommandPause)
	require.NoError(t, err)
	require.Equal(t, "PAUSED", state)
	require.Equal(t, "PAUSED", nextEvent(t, events)["state"].GetStringValue())

	state, err = client.SendCommand(context.Background(), shake.CommandPlay)
	require.NoError(t, err)
	require.Equal(t, "RUNNING", state)
	require.Equal(t, "RUNNING", nextEvent(t, events)["state"].GetStringValue())

	state, err = client.SendCommand(context.Background(), shake.CommandStop)
	require.NoError(t, err)
	require.Equal(t, "STOPPED", state)

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("daemon did not stop")
	}

	select {
	case err = <-watchErr:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("watch stream did not end")
	}
}
