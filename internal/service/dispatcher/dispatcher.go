// Package dispatcher formats and sends the emergency alert.
//
// Dispatcher performs one attempt per request: permission check, message
// body, message send, then the optional voice call. Pipeline feeds it from
// shake events with at most one dispatch in flight.
package dispatcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/service/permission"
)

const (
	// messagePrefix opens every emergency message.
	messagePrefix = "Emergency! I need help. My location is: "
	// mapLinkPrefix is followed by "<lat>,<lon>".
	mapLinkPrefix = "http://maps.google.com/?q="
	// locationNotAvailable replaces the map link when there is no fix.
	locationNotAvailable = "Location not available"
)

// MessageTransport sends a text message to a contact.
type MessageTransport interface {
	Send(ctx context.Context, address, body string) error
}

// CallTransport starts a voice call to a contact.
type CallTransport interface {
	Place(ctx context.Context, address string) error
}

// Dispatcher sends one alert per call and never retries.
type Dispatcher struct {
	// gate decides whether messages and calls are allowed.
	gate permission.Gate
	// messages is the primary alert channel.
	messages MessageTransport
	// calls is the secondary, best-effort channel.
	calls CallTransport
	// placeCall enables the follow-up call.
	placeCall bool
	// sendTimeout bounds each transport invocation.
	sendTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCall enables the follow-up voice call through the given transport.
func WithCall(calls CallTransport) Option {
	return func(d *Dispatcher) {
		if calls != nil {
			d.calls = calls
			d.placeCall = true
		}
	}
}

// WithSendTimeout bounds each transport invocation.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// New creates a Dispatcher sending through messages.
func New(gate permission.Gate, messages MessageTransport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gate:     gate,
		messages: messages,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// BuildMessage renders the alert text for a fix.
func BuildMessage(fix shake.Fix) string {
	if !fix.Present {
		return messagePrefix + locationNotAvailable
	}

	return messagePrefix + MapLink(fix)
}

// MapLink renders the map URL for a present fix with shortest exact coordinates.
func MapLink(fix shake.Fix) string {
	latitude := decimal.NewFromFloat(fix.Latitude).String()
	longitude := decimal.NewFromFloat(fix.Longitude).String()

	return mapLinkPrefix + latitude + "," + longitude
}

// Permitted reports whether a message could be sent right now.
func (d *Dispatcher) Permitted() bool {
	return d.gate.IsGranted(shake.CapabilitySendMessage)
}

// Dispatch performs one alert attempt for req.
// Transports run detached from ctx cancellation once started, so a send in
// progress is never cut in half.
func (d *Dispatcher) Dispatch(ctx context.Context, req shake.AlertRequest) shake.Outcome {
	if !d.Permitted() {
		logger.Warn(ctx, "Message permission not granted, alert not sent")

		return shake.Outcome{Kind: shake.OutcomePermissionDenied}
	}

	outcome := shake.Outcome{
		Kind: shake.OutcomeSent,
		Body: BuildMessage(req.Fix),
	}

	if !req.Fix.Present {
		outcome.Kind = shake.OutcomeLocationUnavailable
	}

	sendCtx, cancel := d.transportContext(ctx)
	err := d.messages.Send(sendCtx, req.ContactAddress, outcome.Body)

	cancel()

	if err != nil {
		logger.ErrorKV(ctx, "Failed to send emergency message", "error", err)

		outcome.Kind = shake.OutcomeSendFailed
		outcome.Reason = err.Error()
	} else {
		logger.InfoKV(ctx, "Emergency message sent", "location_present", req.Fix.Present)
	}

	d.call(ctx, req.ContactAddress, &outcome)

	return outcome
}

// call places the optional voice call and records its result on outcome.
func (d *Dispatcher) call(ctx context.Context, address string, outcome *shake.Outcome) {
	if !d.placeCall {
		return
	}

	if !d.gate.IsGranted(shake.CapabilityPlaceCall) {
		logger.Debugf(ctx, "Call permission not granted, skipping call")

		return
	}

	callCtx, cancel := d.transportContext(ctx)
	defer cancel()

	if err := d.calls.Place(callCtx, address); err != nil {
		logger.WarnKV(ctx, "Failed to place emergency call", "error", err)

		outcome.CallError = err.Error()

		return
	}

	outcome.CallPlaced = true
}

// transportContext detaches from caller cancellation and applies the send timeout.
func (d *Dispatcher) transportContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if d.sendTimeout <= 0 {
		return context.WithCancel(detached)
	}

	return context.WithTimeout(detached, d.sendTimeout)
}
