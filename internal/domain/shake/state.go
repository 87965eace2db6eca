package shake

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceState is the run-state of the detection service.
type ServiceState int

const (
	// StateIdle is the state before the first start command.
	StateIdle ServiceState = iota
	// StateRunning means samples flow into the detector.
	StateRunning
	// StatePaused means the sampler is stopped and the detector baseline is kept.
	StatePaused
	// StateStopped is terminal.
	StateStopped
)

// String returns the upper-case state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Command is a named control action delivered by the control surface.
type Command string

const (
	// CommandStart is the default action of a launch request without an explicit action.
	CommandStart Command = ""
	// CommandPlay resumes detection.
	CommandPlay Command = "ACTION_PLAY"
	// CommandPause suspends detection.
	CommandPause Command = "ACTION_PAUSE"
	// CommandStop tears the service down.
	CommandStop Command = "ACTION_STOP"
)

// ErrUnknownCommand is returned for action names outside the control vocabulary.
var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand maps an action name to a Command. Short forms such as "pause" are accepted.
func ParseCommand(s string) (Command, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name != "" && !strings.HasPrefix(name, "ACTION_") {
		name = "ACTION_" + name
	}

	switch Command(name) {
	case CommandStart, CommandPlay, CommandPause, CommandStop:
		return Command(name), nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownCommand)
	}
}

// Capability names a permission the dispatcher or resolver needs.
type Capability string

const (
	// CapabilitySendMessage allows sending the emergency message.
	CapabilitySendMessage Capability = "send_message"
	// CapabilityLocation allows resolving the device location.
	CapabilityLocation Capability = "location"
	// CapabilityPlaceCall allows placing the follow-up voice call.
	CapabilityPlaceCall Capability = "place_call"
)

// Capabilities lists every known capability.
func Capabilities() []Capability {
	return []Capability{CapabilitySendMessage, CapabilityLocation, CapabilityPlaceCall}
}

// EventKind tags events published to observers.
type EventKind string

const (
	// EventStateChanged is published after every state transition.
	EventStateChanged EventKind = "state_changed"
	// EventShakeDetected is published when the detector fires.
	EventShakeDetected EventKind = "shake_detected"
	// EventDispatched is published once per dispatch with its outcome.
	EventDispatched EventKind = "dispatched"
	// EventSensorLost is published when the sensor stream ends while running.
	EventSensorLost EventKind = "sensor_lost"
)

// Event is a status notification for display or logging collaborators.
type Event struct {
	// Kind tags the event.
	Kind EventKind
	// State is the service state at publication time.
	State ServiceState
	// RequestID links shake and dispatch events of the same alert.
	RequestID string
	// Outcome is set for EventDispatched.
	Outcome *Outcome
	// Timestamp is when the event was published.
	Timestamp time.Time
}
