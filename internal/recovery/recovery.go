package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"workqueue/internal/logging"
	"workqueue/internal/manifest"
	"workqueue/internal/queue"
	"workqueue/internal/retry"
	"workqueue/internal/services"
)

// Store is the subset of the queue store recovery needs.
type Store interface {
	GetStorage(ctx context.Context, key string) (*queue.Storage, error)
	SeriesCounts(ctx context.Context, storageKey string) ([]queue.SeriesCount, error)
	SetSeriesCount(ctx context.Context, storageKey, seriesUID string, count int) error
	UpdateStorageCounts(ctx context.Context, key string, seriesCount, instanceCount int) error
	ScheduleReprocess(ctx context.Context, storageKey string, priority queue.Priority) (*queue.Entry, bool, error)
}

// Result reports the outcome of an auto-recovery attempt.
type Result struct {
	Successful bool
	// Reprocess is the reprocess entry scheduled when the storage could not
	// be reconciled in place.
	Reprocess *queue.Entry
}

// ReprocessNeeded reports whether recovery escalated to a reprocess job.
func (r Result) ReprocessNeeded() bool {
	return r.Reprocess != nil
}

// Recoverer reconciles stored counts with the manifest and the files on disk.
type Recoverer struct {
	store     Store
	extension string
	retry     retry.Policy
	logger    *slog.Logger
}

// New builds a Recoverer counting files with the given instance extension.
// Store mutations use retry.Default until WithRetry replaces the policy.
func New(store Store, extension string, logger *slog.Logger) *Recoverer {
	return &Recoverer{
		store:     store,
		extension: extension,
		retry:     retry.Default(logger),
		logger:    logging.NewComponentLogger(logger, "recovery"),
	}
}

// WithRetry returns a copy of r whose store mutations use policy.
func (r *Recoverer) WithRetry(policy retry.Policy) *Recoverer {
	clone := *r
	clone.retry = policy
	return &clone
}

// PerformAutoRecovery compares the manifest of storageKey against the disk.
// A disagreement schedules a reprocess; otherwise stored counts are rewritten
// to match the manifest. Storage being deleted yields services.ErrInvalidState.
func (r *Recoverer) PerformAutoRecovery(ctx context.Context, storageKey, reason string) (Result, error) {
	logger := r.logger.With(logging.String(logging.FieldStorageKey, storageKey))

	storage, err := r.store.GetStorage(ctx, storageKey)
	if err != nil {
		return Result{}, err
	}
	if storage == nil {
		return Result{}, services.Wrap(services.ErrNotFound, "recovery", "load storage", "storage "+storageKey, nil)
	}
	if storage.QueueState == queue.StorageDeleting {
		return Result{}, services.Wrap(services.ErrInvalidState, "recovery", "load storage",
			"storage "+storageKey+" is being deleted", nil)
	}

	logger.Info("attempting auto-recovery",
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "auto_recovery_started"),
	)

	m, err := manifest.Load(storage.Path)
	if err != nil {
		return Result{}, err
	}
	onDisk, err := manifest.CountFiles(storage.Path, r.extension)
	if err != nil {
		return Result{}, err
	}

	manifestInstances := m.InstanceCount()
	if onDisk != manifestInstances {
		logger.Info("manifest instance count disagrees with disk; reprocess needed",
			logging.Int("manifest_instances", manifestInstances),
			logging.Int("disk_instances", onDisk),
			logging.String(logging.FieldEventType, "auto_recovery_reprocess"),
		)
		return r.reprocess(ctx, storageKey)
	}

	stored, err := r.store.SeriesCounts(ctx, storageKey)
	if err != nil {
		return Result{}, err
	}
	for _, series := range stored {
		listed, ok := m.Find(series.SeriesUID)
		if !ok {
			logger.Info("stored series missing from manifest; reprocess needed",
				logging.String("series_uid", series.SeriesUID),
				logging.String(logging.FieldEventType, "auto_recovery_reprocess"),
			)
			return r.reprocess(ctx, storageKey)
		}
		if len(listed.Instances) != series.InstanceCount {
			logger.Info("updating series count",
				logging.String("series_uid", series.SeriesUID),
				logging.Int("from", series.InstanceCount),
				logging.Int("to", len(listed.Instances)),
			)
			count := len(listed.Instances)
			err := r.retry.Do(ctx, "set series count", func(ctx context.Context) error {
				return r.store.SetSeriesCount(ctx, storageKey, series.SeriesUID, count)
			})
			if err != nil {
				return Result{}, fmt.Errorf("reconcile series %s: %w", series.SeriesUID, err)
			}
		}
	}

	if len(m.Series) != storage.SeriesCount || manifestInstances != storage.InstanceCount {
		logger.Info("updating study counts",
			logging.Int("series_from", storage.SeriesCount),
			logging.Int("series_to", len(m.Series)),
			logging.Int("instances_from", storage.InstanceCount),
			logging.Int("instances_to", manifestInstances),
		)
		err := r.retry.Do(ctx, "update storage counts", func(ctx context.Context) error {
			return r.store.UpdateStorageCounts(ctx, storageKey, len(m.Series), manifestInstances)
		})
		if err != nil {
			return Result{}, err
		}
	}

	logger.Info("stored counts corrected", logging.String(logging.FieldEventType, "auto_recovery_completed"))
	return Result{Successful: true}, nil
}

func (r *Recoverer) reprocess(ctx context.Context, storageKey string) (Result, error) {
	var entry *queue.Entry
	err := r.retry.Do(ctx, "schedule reprocess", func(ctx context.Context) error {
		var err error
		entry, _, err = r.store.ScheduleReprocess(ctx, storageKey, queue.PriorityNormal)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Successful: entry != nil, Reprocess: entry}, nil
}
