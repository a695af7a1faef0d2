package jobs

import (
	"context"

	"workqueue/internal/logging"
	"workqueue/internal/manifest"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
)

// reprocessHandler rebuilds the manifest of a storage unit from disk and
// rewrites the stored counts to match it.
type reprocessHandler struct {
	processor.Base
	deps Deps
}

func (h *reprocessHandler) Process(ctx context.Context, run *processor.Run) (processor.Result, error) {
	storage := run.Storage
	m, err := manifest.Scan(storage.Path, storage.Key, h.deps.Extension)
	if err != nil {
		return processor.Result{}, err
	}
	if err := manifest.Save(storage.Path, m); err != nil {
		return processor.Result{}, err
	}

	counts := make([]queue.SeriesCount, 0, len(m.Series))
	for _, series := range m.Series {
		counts = append(counts, queue.SeriesCount{
			StorageKey:    storage.Key,
			SeriesUID:     series.UID,
			InstanceCount: len(series.Instances),
		})
	}
	err = run.Retry(ctx, "replace series counts", func(ctx context.Context) error {
		return h.deps.Store.ReplaceSeriesCounts(ctx, storage.Key, counts)
	})
	if err != nil {
		return processor.Result{}, err
	}

	run.Logger.Info("storage reprocessed",
		logging.Int("series", len(m.Series)),
		logging.Int("instances", m.InstanceCount()),
		logging.String(logging.FieldEventType, "storage_reprocessed"),
	)
	return processor.Result{Outcome: processor.OutcomeComplete, ResetQueueState: true}, nil
}
