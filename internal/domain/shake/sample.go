package shake

import (
	"math"
	"time"
)

// StandardGravity is the magnitude of Earth's gravity in m/s².
// A device at rest reports roughly this magnitude.
const StandardGravity = 9.80665

// Sample is one 3-axis accelerometer reading in m/s².
type Sample struct {
	// X is the acceleration along the device X axis.
	X float64
	// Y is the acceleration along the device Y axis.
	Y float64
	// Z is the acceleration along the device Z axis.
	Z float64
	// Timestamp is the monotonic instant the reading was taken.
	Timestamp time.Time
}

// Magnitude returns the Euclidean norm of the acceleration vector.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Fix is a resolved location or its explicit absence.
type Fix struct {
	// Present reports whether Latitude and Longitude hold a real position.
	Present bool
	// Latitude in decimal degrees.
	Latitude float64
	// Longitude in decimal degrees.
	Longitude float64
}

// NoFix is the absent location.
//
//nolint:gochecknoglobals // Immutable zero value used as a named constant.
var NoFix = Fix{}

// NewFix returns a present fix for the given coordinates.
func NewFix(latitude, longitude float64) Fix {
	return Fix{
		Present:   true,
		Latitude:  latitude,
		Longitude: longitude,
	}
}
