package recovery

import (
	"context"
	"fmt"

	"workqueue/internal/manifest"
	"workqueue/internal/services"
)

// Verify checks that the stored counts of storageKey agree with its manifest
// and that the manifest agrees with the instance files on disk. Any
// disagreement yields an error marked services.ErrIntegrity.
func (r *Recoverer) Verify(ctx context.Context, storageKey string) error {
	storage, err := r.store.GetStorage(ctx, storageKey)
	if err != nil {
		return err
	}
	if storage == nil {
		return services.Wrap(services.ErrNotFound, "recovery", "verify", "storage "+storageKey, nil)
	}

	m, err := manifest.Load(storage.Path)
	if err != nil {
		return err
	}
	onDisk, err := manifest.CountFiles(storage.Path, r.extension)
	if err != nil {
		return err
	}
	listed := m.InstanceCount()
	if onDisk != listed {
		return integrityError(fmt.Sprintf("manifest lists %d instances but %d were found on disk", listed, onDisk))
	}
	if storage.InstanceCount != listed {
		return integrityError(fmt.Sprintf("stored instance count %d does not match manifest count %d", storage.InstanceCount, listed))
	}
	if storage.SeriesCount != len(m.Series) {
		return integrityError(fmt.Sprintf("stored series count %d does not match manifest count %d", storage.SeriesCount, len(m.Series)))
	}

	stored, err := r.store.SeriesCounts(ctx, storageKey)
	if err != nil {
		return err
	}
	for _, series := range stored {
		entry, ok := m.Find(series.SeriesUID)
		if !ok {
			return integrityError(fmt.Sprintf("series %s is not listed in the manifest", series.SeriesUID))
		}
		if len(entry.Instances) != series.InstanceCount {
			return integrityError(fmt.Sprintf("series %s has %d stored instances but the manifest lists %d",
				series.SeriesUID, series.InstanceCount, len(entry.Instances)))
		}
	}
	return nil
}

func integrityError(msg string) error {
	return services.Wrap(services.ErrIntegrity, "", "", msg, nil)
}
