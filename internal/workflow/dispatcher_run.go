package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"workqueue/internal/logging"
	"workqueue/internal/notifications"
	"workqueue/internal/pool"
	"workqueue/internal/queue"
	"workqueue/internal/services"
)

// Run releases entries orphaned by a previous run of this processor, starts
// the pool and dispatches until ctx is canceled. The pool is stopped before
// Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.resetOrphans(ctx); err != nil {
		return err
	}

	d.pool.Start()
	defer d.pool.Stop()

	d.logger.Info("dispatcher started",
		logging.String(logging.FieldProcessorID, d.settings.ProcessorID),
		logging.Duration("query_delay", d.settings.QueryDelay),
		logging.String(logging.FieldEventType, "dispatcher_started"),
	)
	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopping", logging.String(logging.FieldEventType, "dispatcher_stopped"))
			return nil
		}

		if !d.pool.CanAdmit() {
			d.waitForSlotOrShutdown(ctx)
			continue
		}
		if d.memoryStarved(ctx) {
			sleepCtx(ctx, d.memoryWait)
			continue
		}

		entry, err := d.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.handleClaimError(ctx, err)
			continue
		}
		d.setLastError(nil)
		if entry == nil {
			d.waitForSlotOrShutdown(ctx)
			continue
		}
		d.dispatch(ctx, entry)
	}
}

func (d *Dispatcher) resetOrphans(ctx context.Context) error {
	now := d.now()
	reset, err := d.store.ResetOrphaned(ctx, queue.ResetParams{
		ProcessorID:      d.settings.ProcessorID,
		RescheduleTime:   now,
		RetryExpiration:  now.Add(orphanRetryWindow),
		FailedExpiration: now,
		MaxFailures:      d.settings.MaxFailures,
	})
	if err != nil {
		return fmt.Errorf("reset orphaned entries: %w", err)
	}
	for _, entry := range reset {
		d.logger.Info("released orphaned entry",
			logging.String(logging.FieldEntryKey, entry.Key),
			logging.String(logging.FieldJobType, string(entry.Type)),
			logging.String("status", string(entry.Status)),
			logging.Int("failure_count", entry.FailureCount),
			logging.String(logging.FieldEventType, "orphan_reset"),
		)
	}
	return nil
}

// claimTiers orders the claim filters by the current pool budgets.
func (d *Dispatcher) claimTiers() []queue.ClaimFilter {
	resourceFree := d.pool.ResourceLimitedSlotAvailable()
	highFree := d.pool.HighPrioritySlotAvailable()

	tiers := make([]queue.ClaimFilter, 0, 4)
	if resourceFree {
		tiers = append(tiers, queue.ClaimFilter{Priority: queue.PriorityStat})
	}
	if highFree {
		tiers = append(tiers, queue.ClaimFilter{Priority: queue.PriorityHigh})
	}
	if resourceFree {
		tiers = append(tiers, queue.ClaimFilter{})
	} else {
		tiers = append(tiers, queue.ClaimFilter{Priority: queue.PriorityStat, NonMemoryLimitedOnly: true})
	}
	return append(tiers, queue.ClaimFilter{NonMemoryLimitedOnly: true})
}

func (d *Dispatcher) claim(ctx context.Context) (*queue.Entry, error) {
	for _, filter := range d.claimTiers() {
		if filter.NonMemoryLimitedOnly {
			filter.MemoryLimitedTypes = d.memoryLimited
		}
		entry, err := d.store.ClaimNext(ctx, d.settings.ProcessorID, filter)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			d.logger.Debug("claimed entry",
				logging.String(logging.FieldEntryKey, entry.Key),
				logging.String(logging.FieldJobType, string(entry.Type)),
				logging.String("tier", filter.String()),
			)
			return entry, nil
		}
	}
	return nil, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, entry *queue.Entry) {
	reg, ok := d.registry.Lookup(entry.Type)
	if !ok {
		description := fmt.Sprintf("No plugin to handle WorkQueue type: %s", entry.Type)
		if err := d.processor.FailUnhandled(ctx, entry, description); err != nil {
			d.logger.Error("failed to record unhandled entry",
				logging.String(logging.FieldEntryKey, entry.Key),
				logging.Error(err),
			)
		}
		return
	}

	handler := reg.Factory()
	if handler == nil {
		d.failEntry(ctx, entry, fmt.Sprintf("Unable to create processor for WorkQueue type: %s", entry.Type))
		return
	}

	props := d.settings.PropertiesFor(entry.Type)
	task := pool.Task{
		Name:            entry.Key,
		HighPriority:    entry.Priority.HighClass(),
		ResourceLimited: props.MemoryLimited,
		Run: func(runCtx context.Context) {
			runCtx = services.WithRequestID(runCtx, uuid.NewString())
			err := d.processor.Process(runCtx, reg, handler, entry)
			if err == nil {
				return
			}
			if runCtx.Err() != nil && errors.Is(err, runCtx.Err()) {
				d.logger.Info("entry left for the startup reset after shutdown",
					logging.String(logging.FieldEntryKey, entry.Key),
				)
				return
			}
			d.failDetached(entry, services.Message(err))
		},
		OnPanic: func(recovered any) {
			d.failDetached(entry, fmt.Sprintf("Unexpected failure processing %s entry: %v", entry.Type, recovered))
		},
	}
	if err := d.pool.Submit(task); err != nil {
		d.failEntry(ctx, entry, services.Message(err))
		return
	}

	d.mu.Lock()
	d.dispatched++
	d.mu.Unlock()
}

func (d *Dispatcher) failEntry(ctx context.Context, entry *queue.Entry, description string) {
	if err := d.processor.FailQueueItem(ctx, entry, description); err != nil {
		d.logger.Error("failed to record entry failure",
			logging.String(logging.FieldEntryKey, entry.Key),
			logging.Error(err),
			logging.String(logging.FieldEventType, "entry_failure_lost"),
			logging.String(logging.FieldErrorHint, "the startup reset will release the entry"),
		)
	}
}

// failDetached records a failure from a worker even while the pool is
// stopping.
func (d *Dispatcher) failDetached(entry *queue.Entry, description string) {
	ctx, cancel := context.WithTimeout(context.Background(), failureUpdateTimeout)
	defer cancel()
	d.failEntry(ctx, entry, description)
}

func (d *Dispatcher) memoryStarved(ctx context.Context) bool {
	if d.minFree == 0 {
		return false
	}
	free, err := d.memory()
	if err != nil {
		d.logger.Debug("memory probe failed", logging.Error(err))
		return false
	}
	if free >= d.minFree {
		return false
	}

	now := d.now()
	d.mu.Lock()
	due := d.lastMemoryAlert.IsZero() || now.Sub(d.lastMemoryAlert) >= memoryAlertInterval
	if due {
		d.lastMemoryAlert = now
	}
	d.mu.Unlock()
	if !due {
		return true
	}

	message := fmt.Sprintf("Not enough free memory to process work queue entries: %s available, %s required",
		humanize.IBytes(free), humanize.IBytes(d.minFree))
	logging.WarnWithContext(d.logger, message, "memory_low",
		logging.Alert(string(notifications.LevelCritical)),
		logging.String(logging.FieldErrorHint, "free memory or lower engine.min_free_memory_mb"),
		logging.String(logging.FieldImpact, "no entries are dispatched until memory is available"),
	)
	if err := d.alerts.RaiseAlert(ctx, notifications.Alert{
		Level:     notifications.LevelCritical,
		Component: "dispatcher",
		Message:   message,
	}); err != nil {
		d.logger.Warn("memory alert delivery failed", logging.Error(err))
	}
	return true
}

func (d *Dispatcher) handleClaimError(ctx context.Context, err error) {
	d.setLastError(err)
	d.logger.Error("failed to claim next entry",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	sleepCtx(ctx, d.errorWait)
}

func (d *Dispatcher) waitForSlotOrShutdown(ctx context.Context) {
	timer := time.NewTimer(d.settings.QueryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-d.pool.Freed():
	case <-timer.C:
	}
}

func sleepCtx(ctx context.Context, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
