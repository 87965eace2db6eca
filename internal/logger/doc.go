// Package logger wraps zap for the daemon and the control CLI:
//   - a root sugared console logger with an adjustable level,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for config files and flags,
//   - leveled helpers (Infof, WarnKV, ErrorKV, ...).
//
// Components receive a context and log through the logger it carries, so
// every message is scoped to the component that produced it.
package logger
