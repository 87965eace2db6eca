// Package updater publishes and applies self-updates of the daemon binary.
//
// Publish writes a release manifest holding the version and the SHA-512
// checksum of an executable. Run downloads the manifest from an update folder,
// compares it with the running build, then downloads the executable and
// atomically replaces the target with go-update after checksum verification.
package updater
