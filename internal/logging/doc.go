// Package logging assembles structured slog loggers and formatting helpers used
// across the work queue daemon and CLI.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so dispatcher and processor code
// can tag log lines with entry keys, job types, storage keys and correlation
// IDs. The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
