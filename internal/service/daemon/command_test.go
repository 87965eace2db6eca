package daemon

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/service/common"
	"github.com/oshokin/shake-guard/internal/service/permission"
)

// idleSource streams nothing until canceled.
type idleSource struct{}

// Stream implements sampler.Source.
func (idleSource) Stream(ctx context.Context, _ func(shake.Sample) bool) error {
	<-ctx.Done()

	return nil
}

// noLocation never has a fix.
type noLocation struct{}

func (noLocation) CurrentFix(context.Context) (shake.Fix, error)   { return shake.NoFix, nil }
func (noLocation) LastKnownFix(context.Context) (shake.Fix, error) { return shake.NoFix, nil }

// nopMessenger accepts every message.
type nopMessenger struct {
	mu    sync.Mutex
	count int
}

// Send implements dispatcher.MessageTransport.
func (n *nopMessenger) Send(context.Context, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.count++

	return nil
}

// testConfig returns a validated configuration.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{ContactAddress: "01722536524"}
	require.NoError(t, config.Validate(cfg))

	return cfg
}

// TestServe_StopCommandEndsDaemon stops the daemon through the control surface.
func TestServe_StopCommandEndsDaemon(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	deps := &Dependencies{
		Source:   idleSource{},
		Location: noLocation{},
		Messages: new(nopMessenger),
		Gate:     permission.NewStatic(map[shake.Capability]bool{shake.CapabilitySendMessage: true}),
		Listener: lis,
		Registry: prometheus.NewRegistry(),
	}

	cfg := testConfig(t)
	done := make(chan error, 1)

	go func() {
		done <- Serve(context.Background(), cfg, deps)
	}()

	client, err := common.Dial(context.Background(), lis.Addr().String(), common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = client.Close()
	}()

	require.Eventually(t, func() bool {
		state, err := client.GetState(context.Background())

		return err == nil && state == "RUNNING"
	}, 5*time.Second, 20*time.Millisecond)

	state, err := client.SendCommand(context.Background(), shake.CommandStop)
	require.NoError(t, err)
	require.Equal(t, "STOPPED", state)

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

// TestServe_ContextCancelTearsDown stops the daemon on a signal.
func TestServe_ContextCancelTearsDown(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(t)
	done := make(chan error, 1)

	go func() {
		done <- Serve(ctx, cfg, &Dependencies{
			Source:   idleSource{},
			Location: noLocation{},
			Messages: new(nopMessenger),
			Gate:     permission.NewStatic(nil),
			Listener: lis,
			Registry: prometheus.NewRegistry(),
		})
	}()

	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

// TestServe_RequiresMessenger fails fast without a message transport.
func TestServe_RequiresMessenger(t *testing.T) {
	t.Parallel()

	err := Serve(context.Background(), testConfig(t), &Dependencies{Gate: permission.NewStatic(nil)})
	require.ErrorIs(t, err, errNoMessenger)
}

// TestApplyOverrides prefers flags over the file and validates the level.
//
//nolint:paralleltest // Changes the global log level.
func TestApplyOverrides(t *testing.T) {
	previous := logger.Level()
	t.Cleanup(func() {
		logger.SetLevel(previous)
	})

	cfg := &config.Config{ListenAddress: "127.0.0.1:1", LogLevel: "warn"}

	require.NoError(t, applyOverrides(cfg, &Options{ListenAddress: "127.0.0.1:2", LogLevel: "debug"}))
	require.Equal(t, "127.0.0.1:2", cfg.ListenAddress)
	require.Equal(t, zapcore.DebugLevel, logger.Level())

	require.NoError(t, applyOverrides(cfg, new(Options)))
	require.Equal(t, zapcore.WarnLevel, logger.Level())

	require.ErrorIs(t, applyOverrides(cfg, &Options{LogLevel: "loud"}), config.ErrInvalidLogLevel)
}

// recordingLock counts acquisitions and releases.
type recordingLock struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *recordingLock) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.acquired++

	return nil
}

func (l *recordingLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.released++

	return nil
}

// TestServe_HoldsWakeLock keeps the lock for the daemon lifetime.
func TestServe_HoldsWakeLock(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	lock := new(recordingLock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = Serve(ctx, testConfig(t), &Dependencies{
		Source:   idleSource{},
		Location: noLocation{},
		Messages: new(nopMessenger),
		Gate:     permission.NewStatic(nil),
		Power:    lock,
		Listener: lis,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, lock.acquired)
	require.Equal(t, 1, lock.released)
}

// TestReloadPermissions applies grants from the settings file and keeps them on errors.
func TestReloadPermissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	grants := permission.NewStatic(map[shake.Capability]bool{
		shake.CapabilitySendMessage: true,
		shake.CapabilityLocation:    true,
	})

	require.NoError(t, config.Save(path, &config.Config{
		ContactAddress: "01722536524",
		Permissions: map[shake.Capability]bool{
			shake.CapabilitySendMessage: true,
			shake.CapabilityPlaceCall:   true,
		},
	}))

	reloadPermissions(context.Background(), path, grants)

	require.True(t, grants.IsGranted(shake.CapabilitySendMessage))
	require.False(t, grants.IsGranted(shake.CapabilityLocation), "location is revoked")
	require.True(t, grants.IsGranted(shake.CapabilityPlaceCall))

	reloadPermissions(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), grants)
	require.True(t, grants.IsGranted(shake.CapabilityPlaceCall), "a failed reload keeps the grants")
}
