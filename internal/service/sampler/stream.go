package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
)

// OpenFunc opens a new raw sensor stream. Close may be called more than once.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// StreamSource decodes a stream of JSON sensor reports such as
//
//	{"LSM6DSO Accelerometer": {"values": [0.12, 0.03, 9.79]}}
//
// Reports whose sensor name does not contain the configured match are ignored.
type StreamSource struct {
	// open starts the underlying stream for every run.
	open OpenFunc
	// match is the lower-case substring a sensor name must contain.
	match string
	// now stamps samples as they are decoded.
	now func() time.Time
}

// sensorReport is one reading of one sensor in a report object.
type sensorReport struct {
	// Values holds the axis readings.
	Values []float64 `json:"values"`
}

// errShortReport is returned for accelerometer readings with fewer than three axes.
var errShortReport = errors.New("sensor report has fewer than 3 values")

// NewStreamSource creates a source filtering reports by sensor name.
func NewStreamSource(open OpenFunc, match string) *StreamSource {
	return &StreamSource{
		open:  open,
		match: strings.ToLower(match),
		now:   time.Now,
	}
}

// Stream implements Source.
func (s *StreamSource) Stream(ctx context.Context, emit func(shake.Sample) bool) error {
	reader, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("open sensor stream: %w", err)
	}

	// Closing the reader unblocks the decoder once the run is canceled.
	stop := context.AfterFunc(ctx, func() {
		_ = reader.Close()
	})

	defer func() {
		stop()

		_ = reader.Close()
	}()

	decoder := json.NewDecoder(reader)

	for {
		var report map[string]sensorReport
		if err = decoder.Decode(&report); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("decode sensor report: %w", err)
		}

		for name, reading := range report {
			if !strings.Contains(strings.ToLower(name), s.match) {
				continue
			}

			if len(reading.Values) < 3 {
				logger.WarnKV(ctx, "Skipping sensor report", "sensor", name, "error", errShortReport)

				continue
			}

			sample := shake.Sample{
				X:         reading.Values[0],
				Y:         reading.Values[1],
				Z:         reading.Values[2],
				Timestamp: s.now(),
			}

			if !emit(sample) {
				return nil
			}
		}
	}
}
