package processor

import (
	"context"
	"log/slog"

	"workqueue/internal/queue"
	"workqueue/internal/retry"
)

// Run carries the state of one entry through its life cycle. Handlers read
// the entry, its storage unit and the type properties from it.
type Run struct {
	Entry        *queue.Entry
	Storage      *queue.Storage
	Properties   queue.TypeProperties
	Registration Registration
	Logger       *slog.Logger

	store    Store
	settings Settings
	retry    retry.Policy
	subItems []*queue.SubItem
	loaded   bool
}

// Settings exposes the engine settings of the run.
func (r *Run) Settings() Settings {
	return r.settings
}

// SubItems loads the sub-items of the entry once.
func (r *Run) SubItems(ctx context.Context) ([]*queue.SubItem, error) {
	if r.loaded {
		return r.subItems, nil
	}
	items, err := r.store.SubItems(ctx, r.Entry.Key)
	if err != nil {
		return nil, err
	}
	r.subItems = items
	r.loaded = true
	return items, nil
}

// Batch returns the sub-items to work on in this run, truncated to the
// type's MaxBatchSize. Failed sub-items are skipped when truncating unless
// every sub-item has failed.
func (r *Run) Batch(ctx context.Context) ([]*queue.SubItem, error) {
	items, err := r.SubItems(ctx)
	if err != nil {
		return nil, err
	}
	return truncateBatch(items, r.Properties.MaxBatchSize), nil
}

func truncateBatch(items []*queue.SubItem, maxBatch int) []*queue.SubItem {
	if maxBatch < 0 || len(items) <= maxBatch {
		return items
	}
	batch := make([]*queue.SubItem, 0, maxBatch)
	for _, item := range items {
		if !item.Failed {
			batch = append(batch, item)
		}
		if len(batch) >= maxBatch {
			return batch
		}
	}
	if len(batch) == 0 {
		return items
	}
	return batch
}

// Retry runs a store mutation of the job body through the processor's retry
// policy, so transient store errors are retried rather than counted.
func (r *Run) Retry(ctx context.Context, name string, op func(context.Context) error) error {
	return r.retry.Do(ctx, name, op)
}

// FailSubItem records a sub-item failure. Without allowRetry the sub-item
// fails at once; otherwise it fails only after exhausting the sub-item budget.
func (r *Run) FailSubItem(ctx context.Context, item *queue.SubItem, allowRetry bool) error {
	if item == nil {
		return nil
	}
	switch {
	case !allowRetry:
		item.Failed = true
	case item.FailureCount >= r.settings.MaxSubItemFailures:
		item.Failed = true
	default:
		item.FailureCount++
	}
	return r.Retry(ctx, "update sub-item", func(ctx context.Context) error {
		return r.store.UpdateSubItem(ctx, item)
	})
}

// CompleteSubItem removes a processed sub-item.
func (r *Run) CompleteSubItem(ctx context.Context, item *queue.SubItem) error {
	if item == nil {
		return nil
	}
	err := r.Retry(ctx, "delete sub-item", func(ctx context.Context) error {
		return r.store.DeleteSubItem(ctx, item.ID)
	})
	if err != nil {
		return err
	}
	for i, candidate := range r.subItems {
		if candidate.ID == item.ID {
			r.subItems = append(r.subItems[:i], r.subItems[i+1:]...)
			break
		}
	}
	return nil
}

// Related lists other entries for the same storage unit. Nil filters match
// every type or status.
func (r *Run) Related(ctx context.Context, types []queue.JobType, statuses []queue.Status) ([]*queue.Entry, error) {
	entries, err := r.store.FindRelated(ctx, r.Entry.StorageKey, types, statuses)
	if err != nil {
		return nil, err
	}
	related := entries[:0]
	for _, e := range entries {
		if e.Key != r.Entry.Key {
			related = append(related, e)
		}
	}
	return related, nil
}
