// Package integration holds end-to-end tests that run the daemon with fake
// platform adapters and drive it through the gRPC control client.
package integration
