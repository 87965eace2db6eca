// Package common holds helpers shared by several services.
//
// It provides a lightweight gRPC client for the control service with call
// timeouts, and detection of the current system actor (hostname/username)
// that is attached to control commands for audit purposes.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
