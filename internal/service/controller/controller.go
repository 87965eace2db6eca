// Package controller implements the run-state machine of the detection
// service: it owns the sampler lifecycle, feeds samples to the detector and
// hands fired shakes to the alert pipeline.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/metrics"
	"github.com/oshokin/shake-guard/internal/service/detector"
)

// Sampler is the motion sampler lifecycle.
type Sampler interface {
	Start(ctx context.Context) (<-chan shake.Sample, error)
	Stop()
}

// Alerts accepts shake alerts without blocking.
type Alerts interface {
	Submit(ctx context.Context, req shake.AlertRequest) bool
	Close()
	Wait()
}

// ErrStopped is returned for commands received after STOP.
var ErrStopped = errors.New("service is stopped")

// defaultRestartDelay spaces sampler restarts after the sensor stream ends.
const defaultRestartDelay = time.Second

// Controller is the service run-state machine. State transitions and detector
// evaluation share one mutex, so no sample is evaluated after a pause or stop
// returns.
type Controller struct {
	// contact is the emergency contact for every alert.
	contact string
	// sampler delivers samples while running.
	sampler Sampler
	// detector decides whether a sample fires a shake.
	detector *detector.Detector
	// alerts dispatches fired shakes.
	alerts Alerts
	// events fans out state and outcome events.
	events *hub
	// metrics records samples, shakes and outcomes; nil disables them.
	metrics *metrics.Metrics
	// now is the clock used for requests and events.
	now func() time.Time
	// restartDelay is the wait before restarting a sampler whose stream ended.
	restartDelay time.Duration

	// runCtx scopes alerts and sampler runs; canceled on STOP.
	runCtx context.Context
	// cancelRun cancels runCtx.
	cancelRun context.CancelFunc
	// done is closed on entering STOPPED.
	done chan struct{}
	// consumers tracks sample consumer goroutines.
	consumers sync.WaitGroup

	// mu guards the state machine and the detector.
	mu sync.Mutex
	// state is the current run-state.
	state shake.ServiceState
	// generation identifies the current sampler run.
	generation uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics records activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a controller in the idle state. ctx carries the logger and
// bounds the whole service lifetime.
func New(
	ctx context.Context,
	contact string,
	sampler Sampler,
	det *detector.Detector,
	alerts Alerts,
	opts ...Option,
) *Controller {
	runCtx, cancel := context.WithCancel(logger.WithName(ctx, "controller"))

	c := &Controller{
		contact:      contact,
		sampler:      sampler,
		detector:     det,
		alerts:       alerts,
		events:       newHub(),
		now:          time.Now,
		restartDelay: defaultRestartDelay,
		runCtx:       runCtx,
		cancelRun:    cancel,
		done:         make(chan struct{}),
		state:        shake.StateIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.metrics.SetState(c.state)

	return c
}

// Handle applies a control command and returns the resulting state.
// Commands that do not change the current state are no-ops.
func (c *Controller) Handle(ctx context.Context, cmd shake.Command) (shake.ServiceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == shake.StateStopped {
		return c.state, ErrStopped
	}

	var err error

	switch cmd {
	case shake.CommandStart, shake.CommandPlay:
		if c.state != shake.StateRunning {
			err = c.startLocked()
		}
	case shake.CommandPause:
		if c.state == shake.StateRunning {
			c.pauseLocked()
		}
	case shake.CommandStop:
		c.stopLocked()
	default:
		err = fmt.Errorf("%q: %w", cmd, shake.ErrUnknownCommand)
	}

	if err != nil {
		logger.ErrorKV(ctx, "Command failed", "command", cmd, "error", err)
	}

	return c.state, err
}

// State returns the current run-state.
func (c *Controller) State() shake.ServiceState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Done is closed when the service enters STOPPED.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Subscribe returns a channel of events. Events are dropped for subscribers
// whose buffer is full. The channel is closed after STOPPED or on cancel.
func (c *Controller) Subscribe(buffer int) (<-chan shake.Event, func()) {
	return c.events.subscribe(buffer)
}

// Observe evaluates a sample as if the sampler had delivered it.
// It reports whether a shake fired; outside RUNNING the sample is ignored.
func (c *Controller) Observe(sample shake.Sample) bool {
	return c.observe(0, sample)
}

// Close tears the service down at process exit even if STOP was never issued.
// The sampler is unregistered first; an alert already in flight may finish
// until ctx expires, after which it is canceled.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()

	if c.state == shake.StateRunning {
		c.pauseLocked()
	}

	c.alerts.Close()
	c.mu.Unlock()

	c.consumers.Wait()

	drained := make(chan struct{})

	go func() {
		c.alerts.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		logger.Warn(c.runCtx, "Teardown deadline reached, canceling in-flight alert")
		c.cancelRun()
		<-drained
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != shake.StateStopped {
		c.stopLocked()
	}
}

// startLocked starts the sampler and enters RUNNING.
func (c *Controller) startLocked() error {
	if err := c.runSamplerLocked(); err != nil {
		return err
	}

	c.setStateLocked(shake.StateRunning)
	logger.InfoKV(c.runCtx, "Shake detection started", "baseline", c.detector.State().LastMagnitude)

	return nil
}

// runSamplerLocked starts a sampler run and a consumer for its channel.
func (c *Controller) runSamplerLocked() error {
	samples, err := c.sampler.Start(c.runCtx)
	if err != nil {
		return fmt.Errorf("start sampler: %w", err)
	}

	c.generation++
	generation := c.generation

	c.consumers.Add(1)

	go c.consume(samples, generation)

	return nil
}

// pauseLocked unregisters the sampler and keeps the detector baseline.
func (c *Controller) pauseLocked() {
	c.setStateLocked(shake.StatePaused)
	c.sampler.Stop()
	logger.InfoKV(c.runCtx, "Shake detection paused", "baseline", c.detector.State().LastMagnitude)
}

// stopLocked enters the terminal state and cancels pending alert work.
func (c *Controller) stopLocked() {
	c.setStateLocked(shake.StateStopped)
	c.sampler.Stop()
	c.alerts.Close()
	c.cancelRun()
	close(c.done)
	c.events.close()
	logger.Info(c.runCtx, "Shake detection stopped")
}

// setStateLocked records a transition and announces it.
func (c *Controller) setStateLocked(state shake.ServiceState) {
	c.state = state
	c.metrics.SetState(state)
	c.publishLocked(shake.Event{Kind: shake.EventStateChanged})
}

// publishLocked stamps and broadcasts an event.
func (c *Controller) publishLocked(ev shake.Event) {
	ev.State = c.state
	ev.Timestamp = c.now()

	if missed := c.events.publish(ev); missed > 0 {
		logger.DebugKV(c.runCtx, "Slow subscribers missed an event", "kind", ev.Kind, "missed", missed)
	}
}

// consume evaluates every sample of one sampler run.
func (c *Controller) consume(samples <-chan shake.Sample, generation uint64) {
	defer c.consumers.Done()

	for sample := range samples {
		c.observe(generation, sample)
	}

	c.sensorLost(generation)
}

// sensorLost schedules a sampler restart when the run ended while RUNNING.
// Runs ended by PAUSE or STOP are ignored.
func (c *Controller) sensorLost(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != shake.StateRunning || generation != c.generation {
		return
	}

	// Release the finished run so the next Start does not see it as active.
	c.sampler.Stop()

	logger.ErrorKV(c.runCtx, "Sensor stream ended while running, restarting",
		"retry_in", c.restartDelay.String())
	c.publishLocked(shake.Event{Kind: shake.EventSensorLost})

	go c.restartAfter(generation)
}

// restartAfter restarts the sampler after restartDelay unless the service
// was paused, resumed or stopped meanwhile.
func (c *Controller) restartAfter(generation uint64) {
	timer := time.NewTimer(c.restartDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.runCtx.Done():
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != shake.StateRunning || generation != c.generation {
		return
	}

	if err := c.runSamplerLocked(); err != nil {
		logger.ErrorKV(c.runCtx, "Cannot restart sensor stream", "error", err)

		go c.restartAfter(generation)

		return
	}

	logger.Info(c.runCtx, "Sensor stream restarted")
}

// observe evaluates a sample while RUNNING; generation 0 accepts any run.
func (c *Controller) observe(generation uint64, sample shake.Sample) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != shake.StateRunning || (generation != 0 && generation != c.generation) {
		return false
	}

	c.metrics.IncSamples()

	if !c.detector.Process(sample) {
		return false
	}

	c.metrics.IncShakes()

	req := shake.NewAlertRequest(c.contact, sample.Magnitude(), c.now())

	logger.InfoKV(c.runCtx, "Shake detected! Sending emergency message",
		"request_id", req.ID,
		"magnitude", req.Magnitude)

	c.publishLocked(shake.Event{Kind: shake.EventShakeDetected, RequestID: req.ID})

	if !c.alerts.Submit(c.runCtx, req) {
		logger.WarnKV(c.runCtx, "Alert pipeline closed, shake ignored", "request_id", req.ID)
	}

	return true
}

// Report is the pipeline reporter: it logs, records and publishes an outcome.
func (c *Controller) Report(ctx context.Context, report shake.Report) {
	c.metrics.ObserveReport(report)

	outcome := report.Outcome

	fields := []any{
		"request_id", report.Request.ID,
		"outcome", outcome.Kind.String(),
		"location_present", report.Request.Fix.Present,
		"call_placed", outcome.CallPlaced,
		"duration", report.Duration.String(),
	}

	switch outcome.Kind {
	case shake.OutcomeSent:
		logger.InfoKV(ctx, "Emergency message sent!", fields...)
	case shake.OutcomeLocationUnavailable:
		logger.WarnKV(ctx, "Emergency message sent without location", fields...)
	case shake.OutcomeSendFailed:
		logger.ErrorKV(ctx, "Failed to send emergency message", append(fields, "reason", outcome.Reason)...)
	case shake.OutcomePermissionDenied:
		logger.WarnKV(ctx, "Message permission not granted", fields...)
	case shake.OutcomeDiscarded:
		logger.InfoKV(ctx, "Alert discarded", append(fields, "reason", outcome.Reason)...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishLocked(shake.Event{
		Kind:      shake.EventDispatched,
		RequestID: report.Request.ID,
		Outcome:   &outcome,
	})
}
