// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import "log/slog"

// SLogger abstracts the [*slog.Logger] behavior.
//
// This package uses two log levels:
//   - Info for lifecycle events (connect, TLS handshake, policy checks,
//     receive loop start and stop, close, failed sends)
//   - Debug for per-message and per-I/O events (frames received and
//     sent, reads, writes)
//
// The [*slog.Logger] type satisfies this interface.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// DefaultSLogger returns the default [SLogger] to use.
//
// The default is a no-op logger that discards all output. This follows the
// library convention of not writing to stdout/stderr unless explicitly configured.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

// discardSLogger is a no-op [SLogger] that discards all log messages.
type discardSLogger struct{}

var _ SLogger = discardSLogger{}

// Debug implements [SLogger].
func (discardSLogger) Debug(msg string, args ...any) {
	// nothing
}

// Info implements [SLogger].
func (discardSLogger) Info(msg string, args ...any) {
	// nothing
}

// gateDebug returns an [SLogger] forwarding Debug events only when enabled.
func gateDebug(logger SLogger, enabled bool) SLogger {
	if enabled {
		return logger
	}
	return infoOnlySLogger{logger}
}

// infoOnlySLogger drops Debug events and forwards Info events.
type infoOnlySLogger struct {
	SLogger
}

// Debug implements [SLogger].
func (infoOnlySLogger) Debug(msg string, args ...any) {
	// nothing
}

// withSpanID returns an [SLogger] adding a spanID attribute to all events.
func withSpanID(logger SLogger, spanID string) SLogger {
	return spanSLogger{logger: logger, attr: slog.String("spanID", spanID)}
}

// spanSLogger appends attr to the arguments of each event.
type spanSLogger struct {
	logger SLogger
	attr   slog.Attr
}

// Debug implements [SLogger].
func (l spanSLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, append(args[:len(args):len(args)], l.attr)...)
}

// Info implements [SLogger].
func (l spanSLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, append(args[:len(args):len(args)], l.attr)...)
}
