// Package daemon runs the shake detection service: it wires configuration,
// platform adapters, the controller, the gRPC control surface and the metrics
// endpoint, and tears everything down on a signal or ACTION_STOP.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/oshokin/shake-guard/internal/api/grpc/control"
	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/metrics"
	"github.com/oshokin/shake-guard/internal/platform/termux"
	"github.com/oshokin/shake-guard/internal/service/common"
	"github.com/oshokin/shake-guard/internal/service/controller"
	"github.com/oshokin/shake-guard/internal/service/detector"
	"github.com/oshokin/shake-guard/internal/service/dispatcher"
	"github.com/oshokin/shake-guard/internal/service/location"
	"github.com/oshokin/shake-guard/internal/service/permission"
	"github.com/oshokin/shake-guard/internal/service/power"
	"github.com/oshokin/shake-guard/internal/service/sampler"
)

const (
	// shutdownTimeout bounds teardown, including an in-flight alert.
	shutdownTimeout = 10 * time.Second
	// metricsReadHeaderTimeout protects the metrics endpoint from slow clients.
	metricsReadHeaderTimeout = 5 * time.Second
)

var (
	// ErrAlreadyRunning is returned when another daemon process is found.
	ErrAlreadyRunning = errors.New("another shake-guard daemon is already running")
	// errNoMessenger is returned when no message transport is wired.
	errNoMessenger = errors.New("message transport is required")
)

// Options controls the daemon process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the control surface address from the config.
	ListenAddress string
	// LogLevel overrides the log level from the config.
	LogLevel string
	// AllowMultiple skips the single-instance guard.
	AllowMultiple bool
}

// Dependencies are the platform collaborators of the daemon.
type Dependencies struct {
	// Source produces accelerometer samples.
	Source sampler.Source
	// Location is the platform location service.
	Location location.Provider
	// Messages sends the emergency message.
	Messages dispatcher.MessageTransport
	// Calls places the optional voice call; nil disables it.
	Calls dispatcher.CallTransport
	// Gate answers permission checks.
	Gate permission.Gate
	// Power keeps the device awake while serving; nil leaves it alone.
	Power PowerLock
	// Listener overrides the control surface listener.
	Listener net.Listener
	// Registry receives the collectors; a new registry is created when nil.
	Registry *prometheus.Registry
}

// PowerLock is held for the lifetime of the daemon.
type PowerLock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Run loads the configuration, wires the Termux adapters and serves until ctx
// is canceled or the service receives ACTION_STOP.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "shake-guard")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = applyOverrides(cfg, opts); err != nil {
		return err
	}

	if !opts.AllowMultiple {
		if err = ensureSingleInstance(ctx); err != nil {
			return err
		}
	}

	runner := termux.ExecRunner{}
	grants := permission.NewStatic(cfg.Permissions)

	reloadCtx, stopReload := context.WithCancel(ctx)
	defer stopReload()

	go watchReload(reloadCtx, opts.ConfigPath, grants)

	deps := &Dependencies{
		Source: sampler.NewStreamSource(
			termux.SensorOpener(runner, cfg.SensorName, cfg.SampleInterval),
			cfg.SensorName,
		),
		Location: termux.NewLocation(runner),
		Messages: termux.NewMessenger(runner),
		Calls:    termux.NewDialer(runner),
		Gate:     permission.NewTools(grants, termux.Tools(), exec.LookPath),
	}

	if cfg.WakeLock {
		deps.Power = power.NewWakeLock(runner)
	}

	return Serve(ctx, cfg, deps)
}

// Serve runs the service with the given collaborators until ctx is canceled,
// ACTION_STOP is received or a server fails.
//
//nolint:funlen // Linear wiring of the whole process reads best in one place.
func Serve(ctx context.Context, cfg *config.Config, deps *Dependencies) error {
	if deps.Messages == nil {
		return errNoMessenger
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	collectorSet := metrics.New(registry)

	det, err := detector.New(cfg.ShakeThreshold)
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}

	warnUnavailable(ctx, deps.Gate, cfg.PlaceCall)

	if deps.Power != nil {
		if err = deps.Power.Acquire(ctx); err != nil {
			logger.WarnKV(ctx, "Cannot keep the device awake, detection may pause with the screen off", "error", err)
		}

		defer func() {
			if err := deps.Power.Release(context.WithoutCancel(ctx)); err != nil {
				logger.WarnKV(ctx, "Cannot release wake lock", "error", err)
			}
		}()
	}

	dispatchOptions := []dispatcher.Option{dispatcher.WithSendTimeout(cfg.SendTimeout)}
	if cfg.PlaceCall && deps.Calls != nil {
		dispatchOptions = append(dispatchOptions, dispatcher.WithCall(deps.Calls))
	}

	var ctrl *controller.Controller

	pipeline := dispatcher.NewPipeline(
		location.NewResolver(deps.Location, deps.Gate, cfg.LocationTimeout),
		dispatcher.New(deps.Gate, deps.Messages, dispatchOptions...),
		cfg.LocationStrategy,
		dispatcher.WithReporter(func(ctx context.Context, report shake.Report) {
			ctrl.Report(ctx, report)
		}),
		dispatcher.WithReplaceHook(collectorSet.IncPendingReplaced),
	)

	// Teardown owns the service lifetime, so a signal does not cut an alert short.
	ctrl = controller.New(
		context.WithoutCancel(ctx),
		cfg.ContactAddress,
		sampler.New(deps.Source, cfg.SampleInterval, cfg.SampleBuffer),
		det,
		pipeline,
		controller.WithMetrics(collectorSet),
	)

	if _, err = ctrl.Handle(ctx, shake.CommandStart); err != nil {
		ctrl.Close(ctx)

		return fmt.Errorf("start detection: %w", err)
	}

	lis := deps.Listener
	if lis == nil {
		lc := net.ListenConfig{}

		lis, err = lc.Listen(ctx, "tcp", cfg.ListenAddress)
		if err != nil {
			ctrl.Close(ctx)

			return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
		}
	}

	grpcServer := grpc.NewServer()
	control.RegisterControlServer(grpcServer, control.NewServer(ctrl))

	logger.InfoKV(ctx, "Shake guard listening",
		"listen_address", lis.Addr().String(),
		"threshold", cfg.ShakeThreshold,
		"location_strategy", string(cfg.LocationStrategy))

	serveErr := make(chan error, 2)

	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	metricsServer := startMetrics(ctx, cfg.MetricsAddress, registry, serveErr)

	var runErr error

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Shutdown signal received")
	case <-ctrl.Done():
		logger.Info(ctx, "Stop command received")
	case runErr = <-serveErr:
		logger.ErrorKV(ctx, "Server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Closing the controller ends event streams, which GracefulStop waits for.
	ctrl.Close(shutdownCtx)
	grpcServer.GracefulStop()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WarnKV(ctx, "Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info(ctx, "Shake guard stopped")

	return runErr
}

// watchReload re-reads the permission grants on SIGHUP until ctx ends.
func watchReload(ctx context.Context, path string, grants *permission.Static) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)

	defer signal.Stop(hangup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			reloadPermissions(ctx, path, grants)
		}
	}
}

// reloadPermissions applies the grants from the settings file, so a
// capability can be granted or revoked without restarting the daemon.
// Other settings keep their startup values.
func reloadPermissions(ctx context.Context, path string, grants *permission.Static) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.ErrorKV(ctx, "Cannot reload settings, keeping current permissions", "error", err)

		return
	}

	for _, capability := range shake.Capabilities() {
		granted := cfg.Permissions[capability]
		if grants.IsGranted(capability) != granted {
			logger.InfoKV(ctx, "Permission changed", "capability", string(capability), "granted", granted)
		}

		grants.Set(capability, granted)
	}
}

// applyOverrides applies command-line overrides and the log level.
func applyOverrides(cfg *config.Config, opts *Options) error {
	if opts.ListenAddress != "" {
		cfg.ListenAddress = opts.ListenAddress
	}

	levelName := cfg.LogLevel
	if opts.LogLevel != "" {
		levelName = opts.LogLevel
	}

	level, ok := logger.ParseLogLevel(levelName)
	if !ok {
		return fmt.Errorf("log level %q: %w", levelName, config.ErrInvalidLogLevel)
	}

	logger.SetLevel(level)

	return nil
}

// ensureSingleInstance refuses to start next to another daemon, whose
// detector would send a second alert for the same shake.
func ensureSingleInstance(ctx context.Context) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	pids, err := common.OtherInstances(filepath.Base(executable))
	if err != nil {
		logger.WarnKV(ctx, "Cannot check for other instances", "error", err)

		return nil
	}

	if len(pids) > 0 {
		return fmt.Errorf("pids %v: %w", pids, ErrAlreadyRunning)
	}

	return nil
}

// warnUnavailable logs capabilities that will degrade alerts.
func warnUnavailable(ctx context.Context, gate permission.Gate, placeCall bool) {
	if !gate.IsGranted(shake.CapabilitySendMessage) {
		logger.Warn(ctx, "Message permission not granted, alerts will not be sent")
	}

	if !gate.IsGranted(shake.CapabilityLocation) {
		logger.Warn(ctx, "Location services unavailable, alerts will be sent without a location")
	}

	if placeCall && !gate.IsGranted(shake.CapabilityPlaceCall) {
		logger.Warn(ctx, "Call permission not granted, no call will follow the message")
	}
}

// startMetrics serves the registry on addr; an empty addr disables it.
func startMetrics(ctx context.Context, addr string, registry *prometheus.Registry, errs chan<- error) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("serve metrics: %w", err)
		}
	}()

	logger.InfoKV(ctx, "Metrics endpoint enabled", "metrics_address", addr)

	return server
}
