package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"workqueue/internal/services"
)

const storageColumns = "key, path, queue_state, series_count, instance_count, last_updated"

func scanStorage(scanner rowScanner) (*Storage, error) {
	var (
		storage     Storage
		state       string
		lastUpdated sql.NullInt64
	)
	if err := scanner.Scan(&storage.Key, &storage.Path, &state, &storage.SeriesCount, &storage.InstanceCount, &lastUpdated); err != nil {
		return nil, err
	}
	storage.QueueState = StorageState(state)
	if lastUpdated.Valid {
		storage.LastUpdated = fromMillis(lastUpdated.Int64)
	}
	return &storage, nil
}

// AddStorage registers a storage unit or updates its path.
func (s *Store) AddStorage(ctx context.Context, key, path string) (*Storage, error) {
	key = strings.TrimSpace(key)
	path = strings.TrimSpace(path)
	if key == "" || path == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "add storage", "key and path are required", nil)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO storage (key, path, queue_state, last_updated) VALUES (?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET path = excluded.path, last_updated = excluded.last_updated`,
		key, path, string(StorageIdle), toMillis(s.clock()),
	); err != nil {
		return nil, fmt.Errorf("add storage: %w", err)
	}
	return s.GetStorage(ctx, key)
}

// GetStorage loads a storage unit. A missing unit yields (nil, nil).
func (s *Store) GetStorage(ctx context.Context, key string) (*Storage, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+storageColumns+` FROM storage WHERE key = ?`, key)
	storage, err := scanStorage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get storage: %w", err)
	}
	return storage, nil
}

// ListStorage returns every registered storage unit ordered by key.
func (s *Store) ListStorage(ctx context.Context) ([]*Storage, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+storageColumns+` FROM storage ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list storage: %w", err)
	}
	defer rows.Close()
	var units []*Storage
	for rows.Next() {
		unit, err := scanStorage(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// SetStorageState updates the queue state of a storage unit.
func (s *Store) SetStorageState(ctx context.Context, key string, state StorageState) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE storage SET queue_state = ?, last_updated = ? WHERE key = ?`,
		string(state), toMillis(s.clock()), key,
	)
	if err != nil {
		return fmt.Errorf("set storage state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "set storage state", "storage "+key, nil)
	}
	return nil
}

// UpdateStorageCounts rewrites the study level counts of a storage unit.
func (s *Store) UpdateStorageCounts(ctx context.Context, key string, seriesCount, instanceCount int) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE storage SET series_count = ?, instance_count = ?, last_updated = ? WHERE key = ?`,
		seriesCount, instanceCount, toMillis(s.clock()), key,
	); err != nil {
		return fmt.Errorf("update storage counts: %w", err)
	}
	return nil
}

// SeriesCounts returns the stored per-series counts of a storage unit.
func (s *Store) SeriesCounts(ctx context.Context, storageKey string) ([]SeriesCount, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT storage_key, series_uid, instance_count FROM series_counts WHERE storage_key = ? ORDER BY series_uid`,
		storageKey,
	)
	if err != nil {
		return nil, fmt.Errorf("series counts: %w", err)
	}
	defer rows.Close()
	var counts []SeriesCount
	for rows.Next() {
		var c SeriesCount
		if err := rows.Scan(&c.StorageKey, &c.SeriesUID, &c.InstanceCount); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// SetSeriesCount rewrites one series count.
func (s *Store) SetSeriesCount(ctx context.Context, storageKey, seriesUID string, count int) error {
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO series_counts (storage_key, series_uid, instance_count) VALUES (?, ?, ?)
         ON CONFLICT(storage_key, series_uid) DO UPDATE SET instance_count = excluded.instance_count`,
		storageKey, seriesUID, count,
	); err != nil {
		return fmt.Errorf("set series count: %w", err)
	}
	return nil
}

// ReplaceSeriesCounts swaps every series row and the study level counts of a
// storage unit in one transaction.
func (s *Store) ReplaceSeriesCounts(ctx context.Context, storageKey string, counts []SeriesCount) error {
	total := 0
	for _, c := range counts {
		total += c.InstanceCount
	}
	now := toMillis(s.clock())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM series_counts WHERE storage_key = ?`, storageKey); err != nil {
			return err
		}
		for _, c := range counts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO series_counts (storage_key, series_uid, instance_count) VALUES (?, ?, ?)`,
				storageKey, c.SeriesUID, c.InstanceCount,
			); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE storage SET series_count = ?, instance_count = ?, last_updated = ? WHERE key = ?`,
			len(counts), total, now, storageKey,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("replace series counts: %w", err)
	}
	return nil
}

// ScheduleReprocess enqueues a reprocess entry for a storage unit and flags
// the unit as reprocess_scheduled. An open reprocess entry is reused. Units
// being deleted refuse with services.ErrInvalidState.
func (s *Store) ScheduleReprocess(ctx context.Context, storageKey string, priority Priority) (*Entry, bool, error) {
	if priority == "" {
		priority = PriorityNormal
	}
	now := s.clock()
	var (
		key     string
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		key, created = "", false
		var state string
		err := tx.QueryRowContext(ctx, `SELECT queue_state FROM storage WHERE key = ?`, storageKey).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "queue", "schedule reprocess", "storage "+storageKey, nil)
		}
		if err != nil {
			return err
		}
		if StorageState(state) == StorageDeleting {
			return services.Wrap(services.ErrInvalidState, "queue", "schedule reprocess",
				"storage "+storageKey+" is being deleted", nil)
		}

		err = tx.QueryRowContext(ctx,
			`SELECT key FROM entries WHERE storage_key = ? AND type = ? AND status IN (?, ?, ?) ORDER BY created_at LIMIT 1`,
			storageKey, string(JobTypeReprocess),
			string(StatusPending), string(StatusInProgress), string(StatusIdle),
		).Scan(&key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			key = uuid.NewString()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entries (
                    key, storage_key, type, priority, status, scheduled_time,
                    expiration_time, failure_count, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
				key, storageKey, string(JobTypeReprocess), string(priority), string(StatusPending),
				toMillis(now), toMillis(now.Add(defaultEntryExpiration)), toMillis(now),
			); err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE storage SET queue_state = ?, last_updated = ? WHERE key = ?`,
			string(StorageReprocessScheduled), toMillis(now), storageKey,
		)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("schedule reprocess: %w", err)
	}
	entry, err := s.Get(ctx, key)
	return entry, created, err
}
