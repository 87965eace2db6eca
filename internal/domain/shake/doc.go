// Package shake contains the core domain types of the shake-alert daemon.
//
// It defines sensor samples, location fixes, alert requests and their
// dispatch outcomes, the service run-state with its control commands, and
// the events published to observers.
package shake
