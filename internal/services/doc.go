// Package services defines shared utilities consumed by the dispatcher, the
// item processors and the job bodies.
//
// Key responsibilities:
//   - Context helpers that stamp entry keys, job types, storage keys and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the engine tell
//     transient store failures, integrity mismatches and fatal job errors
//     apart with errors.Is.
//
// Use these helpers when wiring new job logic so failure classification stays
// uniform across the engine.
package services
