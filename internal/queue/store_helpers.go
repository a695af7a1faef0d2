package queue

import (
	"database/sql"
	"time"
)

const entryColumns = "key, storage_key, processor_id, type, priority, status, scheduled_time, expiration_time, failure_count, failure_description, last_updated, created_at, data"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(scanner rowScanner) (*Entry, error) {
	var (
		key         string
		storageKey  string
		processorID sql.NullString
		jobType     string
		priority    string
		status      string
		scheduled   int64
		expiration  int64
		failures    int
		description sql.NullString
		lastUpdated sql.NullInt64
		created     int64
		data        sql.NullString
	)

	if err := scanner.Scan(
		&key,
		&storageKey,
		&processorID,
		&jobType,
		&priority,
		&status,
		&scheduled,
		&expiration,
		&failures,
		&description,
		&lastUpdated,
		&created,
		&data,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		Key:                key,
		StorageKey:         storageKey,
		ProcessorID:        processorID.String,
		Type:               JobType(jobType),
		Priority:           Priority(priority),
		Status:             Status(status),
		ScheduledTime:      fromMillis(scheduled),
		ExpirationTime:     fromMillis(expiration),
		FailureCount:       failures,
		FailureDescription: description.String,
		CreatedTime:        fromMillis(created),
		Data:               data.String,
	}
	if lastUpdated.Valid {
		entry.LastUpdatedTime = fromMillis(lastUpdated.Int64)
	}
	return entry, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()
	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableMillis(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return toMillis(value)
}

// Timestamps are stored as unix milliseconds so range comparisons in SQL
// stay numeric.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}

func typeArgs(types []JobType) []any {
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	return args
}
