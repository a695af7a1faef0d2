package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSchedules(); err != nil {
		return err
	}
	if err := c.validateTypes(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if err := ensurePositiveMap(map[string]int{
		"engine.thread_count":                c.Engine.ThreadCount,
		"engine.priority_thread_count":       c.Engine.PriorityThreadCount,
		"engine.memory_limited_thread_count": c.Engine.MemoryLimitedThreadCount,
		"engine.query_delay_ms":              c.Engine.QueryDelayMS,
		"engine.inactive_min_seconds":        c.Engine.InactiveMinSeconds,
		"engine.error_retry_seconds":         c.Engine.ErrorRetrySeconds,
		"engine.max_sub_item_failures":       c.Engine.MaxSubItemFailures,
	}); err != nil {
		return err
	}
	if c.Engine.PriorityThreadCount > c.Engine.ThreadCount {
		return errors.New("engine.priority_thread_count must not exceed engine.thread_count")
	}
	if c.Engine.MemoryLimitedThreadCount > c.Engine.ThreadCount {
		return errors.New("engine.memory_limited_thread_count must not exceed engine.thread_count")
	}
	if c.Engine.MinFreeMemoryMB < 0 {
		return errors.New("engine.min_free_memory_mb must be zero (disabled) or positive")
	}
	if c.Engine.ProcessorID == "" {
		return errors.New("engine.processor_id must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateSchedules() error {
	if c.Maintenance.PurgeCron != "" {
		if _, err := cron.ParseStandard(c.Maintenance.PurgeCron); err != nil {
			return fmt.Errorf("maintenance.purge_cron: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Type == "" {
			return fmt.Errorf("schedules[%d].type must be set", i)
		}
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("schedules[%d].cron: %w", i, err)
		}
		switch s.Priority {
		case "stat", "high", "normal":
		default:
			return fmt.Errorf("schedules[%d].priority: unsupported value %q", i, s.Priority)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("schedules[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

func (c *Config) validateTypes() error {
	names := make([]string, 0, len(c.Types))
	for name := range c.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "" {
			return errors.New("types: job type name must not be empty")
		}
		o := c.Types[name]
		if o.MaxBatchSize != nil && (*o.MaxBatchSize == 0 || *o.MaxBatchSize < -1) {
			return fmt.Errorf("types.%s.max_batch_size must be -1 (unlimited) or positive", name)
		}
		for field, value := range map[string]*int{
			"max_failure_count":      o.MaxFailureCount,
			"failure_delay_seconds":  o.FailureDelaySeconds,
			"postpone_delay_seconds": o.PostponeDelaySeconds,
			"expire_delay_seconds":   o.ExpireDelaySeconds,
			"process_delay_seconds":  o.ProcessDelaySeconds,
			"delete_delay_seconds":   o.DeleteDelaySeconds,
		} {
			if value != nil && *value < 0 {
				return fmt.Errorf("types.%s.%s must not be negative", name, field)
			}
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
