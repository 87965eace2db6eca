// Package config defines the daemon settings and provides helpers to load,
// validate and save them in YAML format.
//
// Settings are static: the emergency contact, the shake threshold, the
// location strategy, granted capabilities and the control/metrics addresses.
package config
