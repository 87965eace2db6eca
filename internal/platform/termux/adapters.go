package termux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/service/sampler"
)

const (
	// locationProvider is the provider asked for every fix.
	locationProvider = "gps"
	// requestOnce asks for a fresh fix.
	requestOnce = "once"
	// requestLast asks for the cached fix.
	requestLast = "last"
)

// errLocationAPI is returned when the location tool reports an API error.
var errLocationAPI = errors.New("location API error")

// locationReport is the JSON printed by the location tool.
type locationReport struct {
	// Latitude in degrees; absent when there is no fix.
	Latitude *float64 `json:"latitude"`
	// Longitude in degrees; absent when there is no fix.
	Longitude *float64 `json:"longitude"`
	// APIError is set instead of the coordinates on failure.
	APIError string `json:"API_ERROR"`
}

// Location implements location.Provider on top of the location tool.
type Location struct {
	runner Runner
}

// NewLocation creates a location provider.
func NewLocation(runner Runner) *Location {
	return &Location{runner: runner}
}

// CurrentFix requests a fresh GPS fix.
func (l *Location) CurrentFix(ctx context.Context) (shake.Fix, error) {
	return l.fix(ctx, requestOnce)
}

// LastKnownFix returns the cached fix, absent when the device has none.
func (l *Location) LastKnownFix(ctx context.Context) (shake.Fix, error) {
	return l.fix(ctx, requestLast)
}

func (l *Location) fix(ctx context.Context, request string) (shake.Fix, error) {
	out, err := l.runner.Output(ctx, ToolLocation, "-p", locationProvider, "-r", request)
	if err != nil {
		return shake.NoFix, fmt.Errorf("request location: %w", err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return shake.NoFix, nil
	}

	var report locationReport
	if err = json.Unmarshal(out, &report); err != nil {
		return shake.NoFix, fmt.Errorf("decode location: %w", err)
	}

	if report.APIError != "" {
		return shake.NoFix, fmt.Errorf("%w: %s", errLocationAPI, report.APIError)
	}

	if report.Latitude == nil || report.Longitude == nil {
		return shake.NoFix, nil
	}

	return shake.NewFix(*report.Latitude, *report.Longitude), nil
}

// Messenger implements dispatcher.MessageTransport with the SMS tool.
type Messenger struct {
	runner Runner
}

// NewMessenger creates a message transport.
func NewMessenger(runner Runner) *Messenger {
	return &Messenger{runner: runner}
}

// Send sends body to address as a text message.
func (m *Messenger) Send(ctx context.Context, address, body string) error {
	if _, err := m.runner.Output(ctx, ToolSMS, "-n", address, body); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// Dialer implements dispatcher.CallTransport with the telephony tool.
type Dialer struct {
	runner Runner
}

// NewDialer creates a call transport.
func NewDialer(runner Runner) *Dialer {
	return &Dialer{runner: runner}
}

// Place starts a call to address.
func (d *Dialer) Place(ctx context.Context, address string) error {
	if _, err := d.runner.Output(ctx, ToolCall, address); err != nil {
		return fmt.Errorf("place call: %w", err)
	}

	return nil
}

// SensorOpener returns a stream opener for the named sensor reporting every
// interval. Intervals under a millisecond are rounded up to one.
func SensorOpener(runner Runner, sensor string, interval time.Duration) sampler.OpenFunc {
	delay := strconv.FormatInt(max(interval.Milliseconds(), 1), 10)

	return func(ctx context.Context) (io.ReadCloser, error) {
		stream, err := runner.Stream(ctx, ToolSensor, "-s", sensor, "-d", delay)
		if err != nil {
			return nil, fmt.Errorf("open sensor %q: %w", sensor, err)
		}

		return stream, nil
	}
}
