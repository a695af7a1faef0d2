package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"workqueue/internal/services"
)

const defaultEntryExpiration = 24 * time.Hour

// Insert enqueues a new pending entry together with its sub-items.
func (s *Store) Insert(ctx context.Context, req NewEntry) (*Entry, error) {
	jobType := JobType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if jobType == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "insert", "job type is required", nil)
	}
	storageKey := strings.TrimSpace(req.StorageKey)
	if storageKey == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "insert", "storage key is required", nil)
	}
	priority, ok := ParsePriority(string(req.Priority))
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "queue", "insert", fmt.Sprintf("unknown priority %q", req.Priority), nil)
	}

	now := s.clock()
	scheduled := req.ScheduledTime
	if scheduled.IsZero() {
		scheduled = now
	}
	expiration := req.ExpirationTime
	if expiration.IsZero() {
		expiration = scheduled.Add(defaultEntryExpiration)
	}
	key := uuid.NewString()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (
                key, storage_key, type, priority, status, scheduled_time,
                expiration_time, failure_count, created_at, data
            ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			key,
			storageKey,
			string(jobType),
			string(priority),
			string(StatusPending),
			toMillis(scheduled),
			toMillis(expiration),
			toMillis(now),
			nullableString(req.Data),
		); err != nil {
			return err
		}
		return insertSubItems(ctx, tx, key, req.SubItems)
	})
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return s.Get(ctx, key)
}

// Get fetches an entry by key. A missing entry yields (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+entryColumns+` FROM entries WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// List returns entries filtered by status, ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY created_at, key`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return scanEntries(rows)
}

// FindByStorage returns every entry that operates on storageKey.
func (s *Store) FindByStorage(ctx context.Context, storageKey string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+entryColumns+` FROM entries WHERE storage_key = ? ORDER BY created_at, key`,
		storageKey,
	)
	if err != nil {
		return nil, fmt.Errorf("find by storage: %w", err)
	}
	return scanEntries(rows)
}

// FindRelated lists entries for the same storage unit filtered by type and
// status. Empty filters match everything.
func (s *Store) FindRelated(ctx context.Context, storageKey string, types []JobType, statuses []Status) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE storage_key = ?`
	args := []any{storageKey}
	if len(types) > 0 {
		query += ` AND type IN (` + makePlaceholders(len(types)) + `)`
		args = append(args, typeArgs(types)...)
	}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	query += ` ORDER BY created_at, key`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("find related: %w", err)
	}
	return scanEntries(rows)
}
