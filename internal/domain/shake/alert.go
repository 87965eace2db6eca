package shake

import (
	"time"

	"github.com/google/uuid"
)

// AlertRequest is created when a shake fires and consumed once by the dispatcher.
type AlertRequest struct {
	// ID correlates the shake, its location lookup and its outcome in logs and events.
	ID string
	// ContactAddress is the opaque identifier of the emergency contact.
	ContactAddress string
	// Fix is the location attached before dispatch, absent until resolved.
	Fix Fix
	// RequestedAt is when the shake fired.
	RequestedAt time.Time
	// Magnitude is the acceleration magnitude of the triggering sample.
	Magnitude float64
}

// NewAlertRequest creates a request for the given contact with a fresh ID and no location.
func NewAlertRequest(contact string, magnitude float64, at time.Time) AlertRequest {
	return AlertRequest{
		ID:             uuid.NewString(),
		ContactAddress: contact,
		Fix:            NoFix,
		RequestedAt:    at,
		Magnitude:      magnitude,
	}
}

// WithFix returns a copy of the request enriched with the given fix.
func (r AlertRequest) WithFix(fix Fix) AlertRequest {
	r.Fix = fix

	return r
}

// OutcomeKind tags the result of one dispatch attempt.
type OutcomeKind int

const (
	// OutcomeSent means the message reached the transport with a map link.
	OutcomeSent OutcomeKind = iota
	// OutcomeLocationUnavailable means the message was sent without a location.
	OutcomeLocationUnavailable
	// OutcomeSendFailed means the message transport reported an error.
	OutcomeSendFailed
	// OutcomePermissionDenied means sending messages is not permitted; nothing was sent.
	OutcomePermissionDenied
	// OutcomeDiscarded means the service stopped before the request could be dispatched.
	OutcomeDiscarded
)

// String returns the label used in logs, events and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeLocationUnavailable:
		return "location_unavailable"
	case OutcomeSendFailed:
		return "send_failed"
	case OutcomePermissionDenied:
		return "permission_denied"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Outcome is the single reported result of one dispatch.
type Outcome struct {
	// Kind tags the result.
	Kind OutcomeKind
	// Reason carries the transport error text for OutcomeSendFailed.
	Reason string
	// CallPlaced reports whether the secondary voice call was started.
	CallPlaced bool
	// CallError carries the call transport error, if any. It never changes Kind.
	CallError string
	// Body is the message text that was handed to the transport.
	Body string
}

// Delivered reports whether the message reached the transport.
func (o Outcome) Delivered() bool {
	return o.Kind == OutcomeSent || o.Kind == OutcomeLocationUnavailable
}

// Report pairs a request with its outcome for observers.
type Report struct {
	// Request is the dispatched request, including its resolved fix.
	Request AlertRequest
	// Outcome is the dispatch result.
	Outcome Outcome
	// Duration is the time from pipeline pickup to outcome.
	Duration time.Duration
}
