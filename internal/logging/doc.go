// Package logging builds the slog loggers used by meetingflow.
//
// It owns the console and JSON handlers, resolves the "auto" format against
// the attached terminal, and exposes helpers that tag log lines with the
// recording fingerprint, pipeline stage and correlation ID carried on a
// context. NewNop returns a discarding logger for tests.
package logging
