package processor

import (
	"context"
)

// Outcome is what a job body reports once it returns without error.
type Outcome int

const (
	// OutcomePending leaves more work for a later run.
	OutcomePending Outcome = iota
	// OutcomeComplete finishes the entry.
	OutcomeComplete
	// OutcomeCompleteDelayDelete finishes the entry but keeps it idle for the
	// delete delay before it is removed.
	OutcomeCompleteDelayDelete
	// OutcomeIdle waits for more work until the entry expires.
	OutcomeIdle
	// OutcomeIdleNoDelete waits like OutcomeIdle.
	OutcomeIdleNoDelete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeCompleteDelayDelete:
		return "complete_delay_delete"
	case OutcomeIdle:
		return "idle"
	case OutcomeIdleNoDelete:
		return "idle_no_delete"
	default:
		return "pending"
	}
}

// Result is returned by Handler.Process.
type Result struct {
	Outcome Outcome
	// ResetQueueState returns the storage queue state to idle once the entry
	// has been updated.
	ResetQueueState bool
}

// Handler is the type specific body of an entry run.
//
// Initialize errors postpone the entry without counting a failure. CanStart
// returning false postpones the entry with the given reason. Process errors
// marked services.ErrIntegrity route to recovery, errors marked
// services.ErrFatal fail the entry, and any other error counts as a
// non-fatal failure.
type Handler interface {
	Initialize(ctx context.Context, run *Run) error
	CanStart(ctx context.Context, run *Run) (reason string, ok bool)
	Process(ctx context.Context, run *Run) (Result, error)
}

// Base provides permissive Initialize and CanStart hooks for embedding.
type Base struct{}

func (Base) Initialize(context.Context, *Run) error { return nil }

func (Base) CanStart(context.Context, *Run) (string, bool) { return "", true }
