// Package detector turns a stream of accelerometer samples into discrete
// shake events by comparing successive raw magnitudes against a threshold.
package detector

import (
	"errors"
	"fmt"

	"github.com/oshokin/shake-guard/internal/domain/shake"
)

// ErrInvalidThreshold is returned for thresholds that are not positive.
var ErrInvalidThreshold = errors.New("threshold must be positive")

// State is the detector baseline and its threshold.
type State struct {
	// LastMagnitude is the magnitude of the previous sample.
	LastMagnitude float64
	// Threshold is the magnitude increase that fires a shake.
	Threshold float64
}

// NewState returns a state whose baseline is standard gravity.
func NewState(threshold float64) (State, error) {
	if !(threshold > 0) {
		return State{}, fmt.Errorf("%v: %w", threshold, ErrInvalidThreshold)
	}

	return State{
		LastMagnitude: shake.StandardGravity,
		Threshold:     threshold,
	}, nil
}

// Evaluate applies one sample to the state.
// The baseline always moves to the new magnitude; a shake fires only when
// the magnitude rose by more than the threshold since the previous sample.
func Evaluate(state State, sample shake.Sample) (State, bool) {
	magnitude := sample.Magnitude()
	delta := magnitude - state.LastMagnitude
	state.LastMagnitude = magnitude

	return state, delta > state.Threshold
}

// Detector owns a State and applies samples to it sequentially.
// It is not safe for concurrent use; the controller serializes access.
type Detector struct {
	// state is the current baseline and threshold.
	state State
}

// New creates a Detector with a standard-gravity baseline.
func New(threshold float64) (*Detector, error) {
	state, err := NewState(threshold)
	if err != nil {
		return nil, err
	}

	return &Detector{state: state}, nil
}

// Process applies a sample and reports whether a shake fired.
func (d *Detector) Process(sample shake.Sample) bool {
	var fired bool

	d.state, fired = Evaluate(d.state, sample)

	return fired
}

// State returns a copy of the current state.
func (d *Detector) State() State {
	return d.state
}
