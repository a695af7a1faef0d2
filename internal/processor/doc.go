// Package processor drives claimed queue entries through their life cycle.
//
// A Processor resolves the storage unit of an entry, applies the eligibility
// guards, runs the type specific Handler and records the outcome. Every
// failure, postponement, abort and completion update is applied through the
// retry policy so transient store errors do not strand entries in_progress.
// The Registry maps job types to handler factories together with their
// recovery and validation modes.
package processor
