package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"workqueue/internal/services"
)

// Transition is an atomic partial update of one entry.
type Transition struct {
	// Status is the target status; empty keeps the current one.
	Status Status
	// Owner, when set, requires the entry to still be owned by that processor.
	Owner string
	// ClearOwner releases the entry so any processor may claim it again.
	ClearOwner       bool
	ScheduledTime    time.Time
	ExpirationTime   time.Time
	IncrementFailure bool
	// Description replaces the failure description when non-nil.
	Description *string
	// KeepLastUpdated leaves last_updated untouched so the change does not
	// count as progress for stuck detection.
	KeepLastUpdated bool
}

// Describe returns a pointer suitable for Transition.Description.
func Describe(text string) *string {
	return &text
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusPending:    {},
		StatusInProgress: {},
		StatusFailed:     {},
	},
	StatusInProgress: {
		StatusInProgress: {},
		StatusPending:    {},
		StatusIdle:       {},
		StatusCompleted:  {},
		StatusFailed:     {},
	},
	StatusIdle: {
		StatusIdle:       {},
		StatusInProgress: {},
		StatusPending:    {},
		StatusCompleted:  {},
		StatusFailed:     {},
	},
	StatusCompleted: {
		StatusCompleted: {},
	},
}

// CanTransition reports whether the engine may move an entry from one status
// to another. Failed is terminal.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Update applies tr to the entry identified by key. It returns false without
// error when the entry is missing, already failed, or owned by another
// processor.
func (s *Store) Update(ctx context.Context, key string, tr Transition) (bool, error) {
	now := toMillis(s.clock())
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		applied = false
		var (
			current string
			owner   sql.NullString
		)
		err := tx.QueryRowContext(ctx, `SELECT status, processor_id FROM entries WHERE key = ?`, key).Scan(&current, &owner)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		from := Status(current)
		if from == StatusFailed {
			return nil
		}
		if tr.Owner != "" && owner.String != tr.Owner {
			return nil
		}
		to := tr.Status
		if to == "" {
			to = from
		}
		if !CanTransition(from, to) {
			return services.Wrap(services.ErrValidation, "queue", "update",
				fmt.Sprintf("transition %s -> %s not allowed", from, to), nil)
		}

		increment := 0
		if tr.IncrementFailure {
			increment = 1
		}
		setDescription := tr.Description != nil
		description := ""
		if setDescription {
			description = *tr.Description
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE entries SET
                status = ?,
                processor_id = CASE WHEN ? THEN NULL ELSE processor_id END,
                scheduled_time = COALESCE(?, scheduled_time),
                expiration_time = CASE
                    WHEN ? IS NULL THEN expiration_time
                    WHEN ? = 'completed' THEN MAX(expiration_time, ?)
                    ELSE ?
                END,
                failure_count = failure_count + ?,
                failure_description = CASE WHEN ? THEN ? ELSE failure_description END,
                last_updated = CASE WHEN ? THEN last_updated ELSE ? END
             WHERE key = ? AND status = ?`,
			string(to),
			boolToInt(tr.ClearOwner),
			nullableMillis(tr.ScheduledTime),
			nullableMillis(tr.ExpirationTime),
			string(to), nullableMillis(tr.ExpirationTime),
			nullableMillis(tr.ExpirationTime),
			increment,
			boolToInt(setDescription), nullableString(description),
			boolToInt(tr.KeepLastUpdated), now,
			key, current,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update entry %s: %w", key, err)
	}
	return applied, nil
}

// Postpone returns an owned entry to pending without touching its failure
// count or its last update time.
func (s *Store) Postpone(ctx context.Context, key, owner string, scheduled, expiration time.Time, reason string) (bool, error) {
	return s.Update(ctx, key, Transition{
		Status:          StatusPending,
		Owner:           owner,
		ClearOwner:      true,
		ScheduledTime:   scheduled,
		ExpirationTime:  expiration,
		Description:     Describe(reason),
		KeepLastUpdated: true,
	})
}

// ResetParams controls the startup reset of entries orphaned by an unclean
// shutdown.
type ResetParams struct {
	ProcessorID      string
	RescheduleTime   time.Time
	RetryExpiration  time.Time
	FailedExpiration time.Time
	// MaxFailures resolves the failure budget of a type. Nil uses the defaults.
	MaxFailures func(JobType) int
}

// ResetOrphaned releases entries left in_progress by processorID. Entries
// still under their failure budget return to pending; the rest fail.
func (s *Store) ResetOrphaned(ctx context.Context, params ResetParams) ([]*Entry, error) {
	maxFailures := params.MaxFailures
	if maxFailures == nil {
		maxFailures = func(t JobType) int { return DefaultTypeProperties(t).MaxFailureCount }
	}
	now := toMillis(s.clock())

	var keys []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		keys = keys[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT `+entryColumns+` FROM entries WHERE status = ? AND processor_id = ?`,
			string(StatusInProgress), params.ProcessorID,
		)
		if err != nil {
			return err
		}
		orphans, err := scanEntries(rows)
		if err != nil {
			return err
		}
		for _, entry := range orphans {
			status := StatusPending
			scheduled := params.RescheduleTime
			expiration := params.RetryExpiration
			if entry.FailureCount >= maxFailures(entry.Type) {
				status = StatusFailed
				scheduled = params.FailedExpiration
				expiration = params.FailedExpiration
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE entries SET status = ?, processor_id = NULL, scheduled_time = ?,
                    expiration_time = ?, last_updated = ?
                 WHERE key = ?`,
				string(status), toMillis(scheduled), toMillis(expiration), now, entry.Key,
			); err != nil {
				return err
			}
			keys = append(keys, entry.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset orphaned entries: %w", err)
	}

	reset := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		entry, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			reset = append(reset, entry)
		}
	}
	return reset, nil
}

// RetryFailed reopens failed entries. With no keys every failed entry is
// reopened. Failure counts are preserved.
func (s *Store) RetryFailed(ctx context.Context, keys ...string) (int64, error) {
	now := s.clock()
	query := `UPDATE entries SET status = ?, processor_id = NULL, scheduled_time = ?,
        expiration_time = ?, last_updated = ? WHERE status = ?`
	args := []any{
		string(StatusPending),
		toMillis(now),
		toMillis(now.Add(defaultEntryExpiration)),
		toMillis(now),
		string(StatusFailed),
	}
	if len(keys) > 0 {
		query += ` AND key IN (` + makePlaceholders(len(keys)) + `)`
		for _, key := range keys {
			args = append(args, key)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed entries: %w", err)
	}
	return res.RowsAffected()
}
