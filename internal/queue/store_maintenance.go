package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const healthTimeout = 2 * time.Second

// Stats returns a count of entries grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending, StatusIdle:
			health.Waiting += count
		case StatusInProgress:
			health.InProgress += count
		case StatusFailed:
			health.Failed += count
		case StatusCompleted:
			health.Completed += count
		}
	}
	return health, nil
}

// PurgeExpired deletes completed and failed entries whose expiration has
// passed. Sub-items cascade.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM entries WHERE status IN (?, ?) AND expiration_time < ?`,
		string(StatusCompleted), string(StatusFailed), toMillis(s.clock()),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired entries: %w", err)
	}
	return res.RowsAffected()
}

// Clear deletes entries in the given statuses. With no statuses every entry
// that is not in progress is removed.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	query := `DELETE FROM entries WHERE status != ?`
	args := []any{string(StatusInProgress)}
	if len(statuses) > 0 {
		query = `DELETE FROM entries WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth inspects the open database: file size, schema version,
// expected tables, integrity and row counts.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{Path: s.path}

	info, err := os.Stat(s.path)
	if err != nil {
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	health.SizeBytes = info.Size()

	ctx, cancel := context.WithTimeout(ensureContext(ctx), healthTimeout)
	defer cancel()

	if health.SchemaVersion, err = s.userVersion(ctx); err != nil {
		return health, err
	}

	present := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return health, fmt.Errorf("list tables: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return health, fmt.Errorf("list tables: %w", err)
	}
	for _, table := range schemaTables {
		if !present[table] {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&integrity); err != nil {
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityOK = strings.EqualFold(integrity, "ok")

	if len(health.MissingTables) == 0 {
		err := s.db.QueryRowContext(ctx,
			`SELECT (SELECT COUNT(1) FROM entries), (SELECT COUNT(1) FROM storage)`,
		).Scan(&health.Entries, &health.Storage)
		if err != nil {
			return health, fmt.Errorf("count rows: %w", err)
		}
	}
	return health, nil
}
