package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"workqueue/internal/services"
)

// ClaimFilter narrows the entries a dispatch tier may claim.
type ClaimFilter struct {
	// Priority restricts the claim to one priority; empty matches any.
	Priority Priority
	// NonMemoryLimitedOnly excludes types flagged memory limited.
	NonMemoryLimitedOnly bool
	// MemoryLimitedTypes, when non-nil, replaces the memory_limited flags
	// stored in type_properties for NonMemoryLimitedOnly.
	MemoryLimitedTypes []JobType
}

func (f ClaimFilter) String() string {
	parts := []string{"any"}
	if f.Priority != "" {
		parts[0] = string(f.Priority)
	}
	if f.NonMemoryLimitedOnly {
		parts = append(parts, "non-memory-limited")
	}
	return strings.Join(parts, "/")
}

const priorityOrder = `CASE e.priority WHEN 'stat' THEN 0 WHEN 'high' THEN 1 ELSE 2 END`

// ClaimNext atomically moves the most urgent eligible entry matching filter
// to in_progress under processorID. It returns (nil, nil) when nothing is
// eligible. Claiming does not count as an update of the entry.
func (s *Store) ClaimNext(ctx context.Context, processorID string, filter ClaimFilter) (*Entry, error) {
	if strings.TrimSpace(processorID) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "claim", "processor id is required", nil)
	}
	now := toMillis(s.clock())

	query := `SELECT e.key FROM entries e
        LEFT JOIN type_properties tp ON tp.type = e.type
        WHERE e.status IN (?, ?) AND e.scheduled_time <= ?`
	args := []any{string(StatusPending), string(StatusIdle), now}
	if filter.Priority != "" {
		query += ` AND e.priority = ?`
		args = append(args, string(filter.Priority))
	}
	if filter.NonMemoryLimitedOnly {
		switch {
		case filter.MemoryLimitedTypes == nil:
			query += ` AND COALESCE(tp.memory_limited, 0) = 0`
		case len(filter.MemoryLimitedTypes) > 0:
			query += ` AND e.type NOT IN (?` + strings.Repeat(`, ?`, len(filter.MemoryLimitedTypes)-1) + `)`
			for _, t := range filter.MemoryLimitedTypes {
				args = append(args, string(t))
			}
		}
	}
	query += ` ORDER BY ` + priorityOrder + `, e.scheduled_time, e.created_at LIMIT 1`

	var claimed *Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		var key string
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&key); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE entries SET status = ?, processor_id = ?
             WHERE key = ? AND status IN (?, ?)`,
			string(StatusInProgress), processorID,
			key, string(StatusPending), string(StatusIdle),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		entry, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE key = ?`, key))
		if err != nil {
			return err
		}
		claimed = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next (%s): %w", filter, err)
	}
	return claimed, nil
}
