package processor

import (
	"context"
	"errors"

	"workqueue/internal/logging"
	"workqueue/internal/queue"
	"workqueue/internal/services"
)

// PostProcessing records the outcome of a successful job body run.
func (p *Processor) PostProcessing(ctx context.Context, run *Run, result Result) error {
	entry := run.Entry
	props := run.Properties
	now := p.now()

	completed := result.Outcome == OutcomeComplete ||
		(result.Outcome == OutcomeIdle && entry.ExpirationTime.Before(now))

	if completed && p.validationEnabled(run.Registration) {
		if err := p.recoverer.Verify(ctx, entry.StorageKey); err != nil {
			if services.IsIntegrity(err) {
				return p.handleIntegrityFailure(ctx, run, services.Message(err))
			}
			return p.PostProcessingFailure(ctx, run, FailureNonFatal, services.Message(err))
		}
	}

	scheduled := now.Add(props.ProcessDelay())
	if scheduled.After(entry.ExpirationTime) {
		scheduled = entry.ExpirationTime
	}

	tr := queue.Transition{
		Owner:      p.settings.ProcessorID,
		ClearOwner: true,
	}
	switch {
	case result.Outcome == OutcomeCompleteDelayDelete:
		tr.Status = queue.StatusIdle
		tr.ScheduledTime = now.Add(props.DeleteDelay())
		tr.ExpirationTime = tr.ScheduledTime
		tr.Description = queue.Describe("")
	case completed:
		tr.Status = queue.StatusCompleted
		tr.ScheduledTime = scheduled
	case result.Outcome == OutcomeIdle || result.Outcome == OutcomeIdleNoDelete:
		tr.Status = queue.StatusIdle
		tr.ScheduledTime = now.Add(props.DeleteDelay())
		if tr.ScheduledTime.After(entry.ExpirationTime) {
			tr.ScheduledTime = entry.ExpirationTime
		}
	default:
		tr.Status = queue.StatusPending
		tr.ScheduledTime = scheduled
		tr.ExpirationTime = scheduled.Add(props.ExpireDelay())
	}

	if err := p.apply(ctx, run.Logger, entry, "post processing", tr); err != nil {
		return err
	}
	run.Logger.Info("entry updated",
		logging.String("outcome", result.Outcome.String()),
		logging.String("status", string(tr.Status)),
		logging.Time("scheduled_time", tr.ScheduledTime),
		logging.String(logging.FieldEventType, "entry_post_processed"),
	)

	if result.ResetQueueState && run.Storage != nil {
		err := p.retry.Do(ctx, "reset queue state", func(ctx context.Context) error {
			return p.store.SetStorageState(ctx, run.Storage.Key, queue.StorageIdle)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) validationEnabled(reg Registration) bool {
	return p.settings.IntegrityValidation && reg.Validation != ValidationNone && p.recoverer != nil
}

// handleIntegrityFailure routes a storage integrity error according to the
// type's recovery mode.
func (p *Processor) handleIntegrityFailure(ctx context.Context, run *Run, reason string) error {
	logger := run.Logger
	logging.WarnWithContext(logger, "storage integrity check failed", "integrity_failure",
		logging.String("reason", reason),
		logging.String("recovery_mode", run.Registration.Recovery.String()),
	)

	if run.Registration.Recovery != RecoveryAutomatic || p.recoverer == nil {
		return p.PostProcessingFailure(ctx, run, FailureFatal, reason)
	}

	result, err := p.recoverer.PerformAutoRecovery(ctx, run.Entry.StorageKey, reason)
	switch {
	case err != nil:
		description := reason
		if errors.Is(err, services.ErrInvalidState) {
			description += "\nAuto-Recovery failed: " + services.Message(err)
		} else {
			logger.Error("auto-recovery failed", logging.Error(err), logging.String(logging.FieldEventType, "auto_recovery_failed"))
		}
		return p.PostProcessingFailure(ctx, run, FailureFatal, description)
	case !result.Successful:
		return p.PostProcessingFailure(ctx, run, FailureFatal, reason)
	case result.ReprocessNeeded():
		logger.Info("storage needs to be reprocessed first; entry will resume later",
			logging.String("reprocess_entry", result.Reprocess.Key),
		)
		return p.Postpone(ctx, run, reason+". Study needs to be reprocessed first.", FailureNonFatal)
	default:
		logger.Info("auto-recovery was successful; entry will resume later")
		return p.Postpone(ctx, run, reason+". Auto-recovery was triggered.", FailureNonFatal)
	}
}
