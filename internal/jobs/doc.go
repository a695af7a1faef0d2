// Package jobs holds the job type handlers the daemon registers at startup:
// reprocess rebuilds a storage unit's manifest and counts, verify checks a
// unit against its files, and command runs an operator supplied shell
// command over the entry's sub-items.
package jobs
