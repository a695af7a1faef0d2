// Package workflow hosts the dispatcher that feeds the execution pool.
//
// The dispatcher releases entries orphaned by an earlier run of the same
// processor, then loops: it waits for pool capacity and free memory, claims
// the next eligible entry through a tiered set of claim filters that follow
// the pool's high-priority and memory-limited budgets, and submits the entry
// to the pool. Entries whose type has no registration are failed without
// occupying a worker. Failures that escape the item processor, including
// panics, are recorded against the entry with a detached context so they
// survive shutdown.
package workflow
