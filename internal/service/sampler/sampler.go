// Package sampler delivers accelerometer samples from a platform source onto
// a bounded channel at a bounded rate. It holds no business logic.
package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
)

// Source produces raw samples. Stream calls emit for every reading until ctx
// is canceled, the source is exhausted, or emit returns false.
type Source interface {
	Stream(ctx context.Context, emit func(shake.Sample) bool) error
}

// ErrAlreadyStarted is returned by Start on a running sampler.
var ErrAlreadyStarted = errors.New("sampler already started")

// Sampler runs one Source at a time and forwards its samples.
type Sampler struct {
	// source produces the raw readings.
	source Source
	// interval is the minimum spacing between delivered samples.
	interval time.Duration
	// buffer is the capacity of the delivery channel.
	buffer int

	// mu guards the fields below.
	mu sync.Mutex
	// cancel stops the running producer, nil when stopped.
	cancel context.CancelFunc
	// done is closed when the producer goroutine exits.
	done chan struct{}
	// out is the delivery channel of the current run.
	out chan shake.Sample
}

// New creates a sampler. A non-positive buffer means an unbuffered channel.
func New(source Source, interval time.Duration, buffer int) *Sampler {
	if buffer < 0 {
		buffer = 0
	}

	return &Sampler{
		source:   source,
		interval: interval,
		buffer:   buffer,
	}
}

// Start launches the source and returns the channel samples arrive on.
// The channel is closed when the sampler stops or the source ends.
func (s *Sampler) Start(ctx context.Context) (<-chan shake.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		select {
		case <-s.done:
			// The source ended on its own; release the finished run.
			s.cancel()

			//nolint:revive // Drain leftovers of the finished run.
			for range s.out {
			}
		default:
			return nil, ErrAlreadyStarted
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.out = make(chan shake.Sample, s.buffer)

	go s.run(runCtx, s.out, s.done)

	logger.DebugKV(ctx, "Sampler started", "interval", s.interval.String(), "buffer", s.buffer)

	return s.out, nil
}

// Stop halts delivery and waits for the producer to exit. Samples still
// buffered are discarded. Stop is idempotent.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done, out := s.cancel, s.done, s.out
	s.cancel, s.done, s.out = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	//nolint:revive // Drain leftovers so no stale sample is read later.
	for range out {
	}
}

// running reports whether a producer goroutine is alive.
func (s *Sampler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return false
	}

	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// run pumps the source into out until ctx is canceled or the source ends.
func (s *Sampler) run(ctx context.Context, out chan<- shake.Sample, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	var last time.Time

	emit := func(sample shake.Sample) bool {
		if ctx.Err() != nil {
			return false
		}

		if sample.Timestamp.IsZero() {
			sample.Timestamp = time.Now()
		}

		if !last.IsZero() && sample.Timestamp.Sub(last) < s.interval {
			return true
		}

		select {
		case out <- sample:
			last = sample.Timestamp

			return true
		case <-ctx.Done():
			return false
		}
	}

	err := s.source.Stream(ctx, emit)

	switch {
	case ctx.Err() != nil:
		logger.Debugf(ctx, "Sampler stopped")
	case err != nil:
		logger.ErrorKV(ctx, "Sensor stream failed", "error", err)
	default:
		logger.Warn(ctx, "Sensor stream ended")
	}
}
