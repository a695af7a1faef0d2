package processor

import (
	"context"
	"fmt"
	"time"

	"workqueue/internal/logging"
	"workqueue/internal/queue"
)

// Postpone reschedules the entry after the type's postpone delay. An entry
// that appears stuck is aborted instead. When kind is not FailureNone the
// postponement is recorded as a counted failure.
func (p *Processor) Postpone(ctx context.Context, run *Run, reason string, kind FailureType) error {
	entry := run.Entry
	now := p.now()
	scheduled := now.Add(run.Properties.PostponeDelay())
	expiration := scheduled.Add(postponeWindow)

	if entry.UpdatedBefore() {
		stuck, stuckReason, err := p.appearsStuck(ctx, entry, now)
		if err != nil {
			run.Logger.Warn("stuck check failed", logging.Error(err))
		}
		if stuck {
			description := "Aborted because " + reason
			if stuckReason != "" {
				description = fmt.Sprintf("Aborted because %s. %s", reason, stuckReason)
			}
			return p.AbortQueueItem(ctx, run, description, true)
		}
	}

	if kind != FailureNone {
		return p.PostProcessingFailure(ctx, run, kind, reason)
	}

	logging.WarnWithContext(run.Logger, "postponing entry", "entry_postponed",
		logging.String("reason", reason),
		logging.Time("scheduled_time", scheduled),
		logging.String(logging.FieldImpact, "entry will run again after the postpone delay"),
	)
	return p.retry.Do(ctx, "postpone", func(ctx context.Context) error {
		applied, err := p.store.Postpone(ctx, entry.Key, p.settings.ProcessorID, scheduled, expiration, reason)
		if err != nil {
			return err
		}
		if !applied {
			run.Logger.Warn("postpone was not applied", logging.String(logging.FieldEventType, "entry_update_skipped"))
		}
		return nil
	})
}

// appearsStuck decides whether entry has been abandoned. A sole entry is
// stuck when it has not been updated within the inactivity window. With
// siblings it is stuck only when every sibling is inactive as well.
func (p *Processor) appearsStuck(ctx context.Context, entry *queue.Entry, now time.Time) (bool, string, error) {
	entries, err := p.store.FindByStorage(ctx, entry.StorageKey)
	if err != nil {
		return false, "", err
	}
	stale := entry.UpdatedBefore() && entry.LastUpdatedTime.Before(now.Add(-p.settings.InactiveWindow))

	siblings := 0
	for _, other := range entries {
		if other.Key == entry.Key {
			continue
		}
		siblings++
		if p.isActive(other, now) {
			return false, "", nil
		}
	}
	if !stale {
		return false, "", nil
	}
	reason := fmt.Sprintf("This entry has not been updated since %s", entry.LastUpdatedTime.Format(time.RFC3339))
	if siblings > 0 {
		reason = "Other entries for the same storage appear stuck. " + reason
	}
	return true, reason, nil
}

// isActive reports whether another entry still shows signs of progress.
func (p *Processor) isActive(entry *queue.Entry, now time.Time) bool {
	cutoff := now.Add(-p.settings.InactiveWindow)
	switch entry.Status {
	case queue.StatusFailed, queue.StatusCompleted:
		return false
	case queue.StatusPending, queue.StatusIdle:
		last := entry.LastUpdatedTime
		if last.IsZero() {
			last = entry.ScheduledTime
		}
		return !last.Before(cutoff)
	case queue.StatusInProgress:
		return entry.ProcessorID != "" && !entry.ScheduledTime.Before(cutoff)
	default:
		return true
	}
}
