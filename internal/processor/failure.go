package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"workqueue/internal/logging"
	"workqueue/internal/notifications"
	"workqueue/internal/queue"
)

// FailureType classifies a counted failure.
type FailureType int

const (
	// FailureNone marks a postponement that is not counted.
	FailureNone FailureType = iota
	FailureNonFatal
	FailureFatal
)

func (f FailureType) String() string {
	switch f {
	case FailureNonFatal:
		return "nonfatal"
	case FailureFatal:
		return "fatal"
	default:
		return "none"
	}
}

// PostProcessingFailure counts a failure of the entry. Fatal failures and
// failures beyond the type's budget are terminal; otherwise the entry is
// retried after the failure delay.
func (p *Processor) PostProcessingFailure(ctx context.Context, run *Run, kind FailureType, description string) error {
	entry := run.Entry
	props := run.Properties
	now := p.now()
	count := entry.FailureCount + 1

	tr := queue.Transition{
		Owner:            p.settings.ProcessorID,
		ClearOwner:       true,
		IncrementFailure: true,
		Description:      queue.Describe(description),
	}

	var alert string
	switch {
	case kind == FailureFatal:
		alert = fmt.Sprintf("Failing %s WorkQueue entry (%s), fatal error: %s", entry.Type, entry.Key, description)
		tr.Status = queue.StatusFailed
		tr.ScheduledTime = now
		tr.ExpirationTime = now
	case count > props.MaxFailureCount:
		alert = fmt.Sprintf("Failing %s WorkQueue entry (%s), reached max retry count of %d. Failure Reason: %s",
			entry.Type, entry.Key, count, description)
		tr.Status = queue.StatusFailed
		tr.ScheduledTime = now
		tr.ExpirationTime = now
	default:
		tr.Status = queue.StatusPending
		tr.ScheduledTime = now.Add(props.FailureDelay())
		tr.ExpirationTime = now.Add(time.Duration(props.MaxFailureCount-entry.FailureCount) * props.FailureDelay())
	}

	if alert != "" {
		logging.ErrorWithContext(run.Logger, alert, "entry_failed",
			logging.Int("failure_count", count),
			logging.String("failure_type", kind.String()),
			logging.String(logging.FieldErrorHint, "inspect the failure description and retry the entry once fixed"),
		)
	} else {
		logging.WarnWithContext(run.Logger, "entry failed, will retry", "entry_retry_scheduled",
			logging.Int("failure_count", count),
			logging.Int("max_failures", props.MaxFailureCount),
			logging.String("reason", description),
			logging.Time("scheduled_time", tr.ScheduledTime),
		)
	}

	if err := p.apply(ctx, run.Logger, entry, "post processing failure", tr); err != nil {
		return err
	}
	if alert != "" {
		p.RaiseAlert(ctx, entry, notifications.LevelError, alert)
	}
	return nil
}

// AbortQueueItem terminally fails the entry without consulting the failure
// budget.
func (p *Processor) AbortQueueItem(ctx context.Context, run *Run, description string, alert bool) error {
	entry := run.Entry
	now := p.now()
	run.Logger.Error(fmt.Sprintf("Abort %s WorkQueue entry (%s). Reason: %s", entry.Type, entry.Key, description),
		logging.String(logging.FieldEventType, "entry_aborted"),
	)
	tr := queue.Transition{
		Status:           queue.StatusFailed,
		Owner:            p.settings.ProcessorID,
		ClearOwner:       true,
		ScheduledTime:    now,
		ExpirationTime:   now.Add(abortExpiration),
		IncrementFailure: true,
		Description:      queue.Describe(description),
	}
	if err := p.apply(ctx, run.Logger, entry, "abort", tr); err != nil {
		return err
	}
	if alert {
		p.RaiseAlert(ctx, entry, notifications.LevelError, description)
	}
	return nil
}

// FailQueueItem is the dispatcher level failure used when an entry cannot be
// handed to or finished by a processor. It counts a failure and returns the
// entry to pending until the budget is exceeded.
func (p *Processor) FailQueueItem(ctx context.Context, entry *queue.Entry, description string) error {
	props := p.settings.PropertiesFor(entry.Type)
	logger := p.entryLogger(entry)
	now := p.now()
	count := entry.FailureCount + 1

	tr := queue.Transition{
		Owner:            p.settings.ProcessorID,
		ClearOwner:       true,
		IncrementFailure: true,
		Description:      queue.Describe(description),
	}
	terminal := count > props.MaxFailureCount
	if terminal {
		logging.ErrorWithContext(logger,
			fmt.Sprintf("Failing %s WorkQueue entry (%s), reached max retry count of %d. Failure Reason: %s",
				entry.Type, entry.Key, count, description),
			"entry_failed",
			logging.Int("failure_count", count),
		)
		tr.Status = queue.StatusFailed
		tr.ScheduledTime = now
		tr.ExpirationTime = now.Add(abortExpiration)
	} else {
		logging.WarnWithContext(logger,
			fmt.Sprintf("Resetting %s WorkQueue entry (%s) to Pending, current retry count %d. Failure Reason: %s",
				entry.Type, entry.Key, count, description),
			"entry_reset",
			logging.Int("failure_count", count),
		)
		tr.Status = queue.StatusPending
		tr.ScheduledTime = now.Add(p.settings.QueryDelay)
		tr.ExpirationTime = now.Add(time.Duration(props.MaxFailureCount-entry.FailureCount) * props.FailureDelay())
	}
	if err := p.apply(ctx, logger, entry, "fail queue item", tr); err != nil {
		return err
	}
	if terminal {
		p.RaiseAlert(ctx, entry, notifications.LevelError, description)
	}
	return nil
}

// FailUnhandled terminally fails an entry no processor can run. Like a fatal
// failure it expires at once.
func (p *Processor) FailUnhandled(ctx context.Context, entry *queue.Entry, description string) error {
	logger := p.entryLogger(entry)
	now := p.now()
	logging.ErrorWithContext(logger, description, "entry_unhandled",
		logging.String(logging.FieldErrorHint, "register a handler for the job type or remove the entry"),
	)
	tr := queue.Transition{
		Status:           queue.StatusFailed,
		Owner:            p.settings.ProcessorID,
		ClearOwner:       true,
		ScheduledTime:    now,
		ExpirationTime:   now,
		IncrementFailure: true,
		Description:      queue.Describe(description),
	}
	if err := p.apply(ctx, logger, entry, "fail unhandled", tr); err != nil {
		return err
	}
	p.RaiseAlert(ctx, entry, notifications.LevelError, description)
	return nil
}

// RaiseAlert forwards an alert about entry. Alerts below Critical are only
// sent for types with AlertOnFailure.
func (p *Processor) RaiseAlert(ctx context.Context, entry *queue.Entry, level notifications.Level, message string) {
	props := p.settings.PropertiesFor(entry.Type)
	if !props.AlertOnFailure && level != notifications.LevelCritical {
		return
	}
	alert := notifications.Alert{
		Level:      level,
		Component:  string(entry.Type),
		EntryKey:   entry.Key,
		JobType:    string(entry.Type),
		StorageKey: entry.StorageKey,
		Message:    fmt.Sprintf("Work Queue item failed: Type=%s, GUID=%s: %s", entry.Type, entry.Key, message),
	}
	p.logger.Info("raising alert",
		logging.String(logging.FieldEntryKey, entry.Key),
		logging.Alert(string(level)),
		logging.String(logging.FieldEventType, "alert_raised"),
	)
	if err := p.alerts.RaiseAlert(ctx, alert); err != nil {
		p.logger.Warn("alert delivery failed",
			logging.String(logging.FieldEntryKey, entry.Key),
			logging.Error(err),
			logging.String(logging.FieldEventType, "alert_failed"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func (p *Processor) entryLogger(entry *queue.Entry) *slog.Logger {
	return p.logger.With(
		logging.String(logging.FieldEntryKey, entry.Key),
		logging.String(logging.FieldJobType, string(entry.Type)),
		logging.String(logging.FieldStorageKey, entry.StorageKey),
	)
}

// apply runs one entry transition through the retry policy. A transition
// the store refuses is logged, not retried.
func (p *Processor) apply(ctx context.Context, logger *slog.Logger, entry *queue.Entry, op string, tr queue.Transition) error {
	return p.retry.Do(ctx, op, func(ctx context.Context) error {
		applied, err := p.store.Update(ctx, entry.Key, tr)
		if err != nil {
			return err
		}
		if !applied {
			logger.Warn("entry update was not applied",
				logging.String("operation", op),
				logging.String("target_status", string(tr.Status)),
				logging.String(logging.FieldEventType, "entry_update_skipped"),
			)
		}
		return nil
	})
}
