// Package daemon coordinates the long-running work queue process.
//
// It wires configuration, the queue store, the job registry, the item
// processor, the execution pool, the dispatcher and the cron scheduler into a
// single lifecycle with flock-based locking to prevent multiple instances.
// Startup runs the preflight checks; shutdown cancels the dispatcher and the
// scheduler and waits for in-flight entries before releasing the lock.
//
// Keep orchestration logic here: job behavior belongs in internal/jobs and
// entry life cycle rules in internal/processor.
package daemon
