package queue

import (
	"context"
	"fmt"

	"workqueue/internal/config"
)

// LoadTypeProperties reads every seeded type property row.
func (s *Store) LoadTypeProperties(ctx context.Context) (map[JobType]TypeProperties, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT type, max_batch_size, max_failure_count, memory_limited,
                failure_delay_seconds, postpone_delay_seconds, expire_delay_seconds,
                process_delay_seconds, delete_delay_seconds, alert_on_failure
         FROM type_properties`,
	)
	if err != nil {
		return nil, fmt.Errorf("load type properties: %w", err)
	}
	defer rows.Close()

	props := make(map[JobType]TypeProperties)
	for rows.Next() {
		var (
			p             TypeProperties
			jobType       string
			memoryLimited int
			alert         int
		)
		if err := rows.Scan(
			&jobType,
			&p.MaxBatchSize,
			&p.MaxFailureCount,
			&memoryLimited,
			&p.FailureDelaySeconds,
			&p.PostponeDelaySeconds,
			&p.ExpireDelaySeconds,
			&p.ProcessDelaySeconds,
			&p.DeleteDelaySeconds,
			&alert,
		); err != nil {
			return nil, err
		}
		p.Type = JobType(jobType)
		p.MemoryLimited = memoryLimited != 0
		p.AlertOnFailure = alert != 0
		props[p.Type] = p
	}
	return props, rows.Err()
}

// ApplyTypeOverrides layers configured overrides on top of stored
// properties. Types that only exist in the configuration start from
// DefaultTypeProperties. The input map is not modified.
func ApplyTypeOverrides(props map[JobType]TypeProperties, overrides map[string]config.TypeOverride) map[JobType]TypeProperties {
	out := make(map[JobType]TypeProperties, len(props)+len(overrides))
	for k, v := range props {
		out[k] = v
	}
	for name, o := range overrides {
		jobType := JobType(name)
		p, ok := out[jobType]
		if !ok {
			p = DefaultTypeProperties(jobType)
		}
		if o.MaxBatchSize != nil {
			p.MaxBatchSize = *o.MaxBatchSize
		}
		if o.MaxFailureCount != nil {
			p.MaxFailureCount = *o.MaxFailureCount
		}
		if o.MemoryLimited != nil {
			p.MemoryLimited = *o.MemoryLimited
		}
		if o.FailureDelaySeconds != nil {
			p.FailureDelaySeconds = *o.FailureDelaySeconds
		}
		if o.PostponeDelaySeconds != nil {
			p.PostponeDelaySeconds = *o.PostponeDelaySeconds
		}
		if o.ExpireDelaySeconds != nil {
			p.ExpireDelaySeconds = *o.ExpireDelaySeconds
		}
		if o.ProcessDelaySeconds != nil {
			p.ProcessDelaySeconds = *o.ProcessDelaySeconds
		}
		if o.DeleteDelaySeconds != nil {
			p.DeleteDelaySeconds = *o.DeleteDelaySeconds
		}
		if o.AlertOnFailure != nil {
			p.AlertOnFailure = *o.AlertOnFailure
		}
		out[jobType] = p
	}
	return out
}

// SetTypeProperties stores a property row, replacing an existing one.
func (s *Store) SetTypeProperties(ctx context.Context, p TypeProperties) error {
	if _, err := s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO type_properties (
            type, max_batch_size, max_failure_count, memory_limited,
            failure_delay_seconds, postpone_delay_seconds, expire_delay_seconds,
            process_delay_seconds, delete_delay_seconds, alert_on_failure
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.Type), p.MaxBatchSize, p.MaxFailureCount, boolToInt(p.MemoryLimited),
		p.FailureDelaySeconds, p.PostponeDelaySeconds, p.ExpireDelaySeconds,
		p.ProcessDelaySeconds, p.DeleteDelaySeconds, boolToInt(p.AlertOnFailure),
	); err != nil {
		return fmt.Errorf("set type properties %s: %w", p.Type, err)
	}
	return nil
}
