package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func insertSubItems(ctx context.Context, tx *sql.Tx, entryKey string, paths []string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sub_items (entry_key, path, failed, failure_count) VALUES (?, ?, 0, 0)`,
			entryKey, path,
		); err != nil {
			return err
		}
	}
	return nil
}

// AddSubItems appends sub-items to an existing entry.
func (s *Store) AddSubItems(ctx context.Context, entryKey string, paths []string) error {
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertSubItems(ctx, tx, entryKey, paths)
	}); err != nil {
		return fmt.Errorf("add sub-items: %w", err)
	}
	return nil
}

// SubItems lists the sub-items of an entry in insertion order.
func (s *Store) SubItems(ctx context.Context, entryKey string) ([]*SubItem, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, entry_key, path, failed, failure_count FROM sub_items WHERE entry_key = ? ORDER BY id`,
		entryKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list sub-items: %w", err)
	}
	defer rows.Close()

	var items []*SubItem
	for rows.Next() {
		var (
			item   SubItem
			failed int
		)
		if err := rows.Scan(&item.ID, &item.EntryKey, &item.Path, &failed, &item.FailureCount); err != nil {
			return nil, err
		}
		item.Failed = failed != 0
		items = append(items, &item)
	}
	return items, rows.Err()
}

// UpdateSubItem persists the failure flags of a sub-item.
func (s *Store) UpdateSubItem(ctx context.Context, item *SubItem) error {
	if item == nil {
		return nil
	}
	if _, err := s.execWithRetry(ctx,
		`UPDATE sub_items SET failed = ?, failure_count = ? WHERE id = ?`,
		boolToInt(item.Failed), item.FailureCount, item.ID,
	); err != nil {
		return fmt.Errorf("update sub-item %d: %w", item.ID, err)
	}
	return nil
}

// DeleteSubItem removes a sub-item once it has been processed.
func (s *Store) DeleteSubItem(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM sub_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sub-item %d: %w", id, err)
	}
	return nil
}
