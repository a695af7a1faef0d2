package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings operators may override from the
// environment. Negative numbers mean "not set".
type envOverrides struct {
	ProcessorID     string `env:"WORKQUEUE_PROCESSOR_ID"`
	StorageRoot     string `env:"WORKQUEUE_STORAGE_ROOT"`
	ThreadCount     int    `env:"WORKQUEUE_THREAD_COUNT" envDefault:"-1"`
	MinFreeMemoryMB int    `env:"WORKQUEUE_MIN_FREE_MEMORY_MB" envDefault:"-1"`
	NtfyTopic       string `env:"WORKQUEUE_NTFY_TOPIC"`
	LogLevel        string `env:"WORKQUEUE_LOG_LEVEL"`
}

func (c *Config) applyEnvOverrides() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}
	if v := strings.TrimSpace(overrides.ProcessorID); v != "" {
		c.Engine.ProcessorID = v
	}
	if v := strings.TrimSpace(overrides.StorageRoot); v != "" {
		c.Paths.StorageRoot = v
	}
	if overrides.ThreadCount >= 0 {
		c.Engine.ThreadCount = overrides.ThreadCount
	}
	if overrides.MinFreeMemoryMB >= 0 {
		c.Engine.MinFreeMemoryMB = overrides.MinFreeMemoryMB
	}
	if v := strings.TrimSpace(overrides.NtfyTopic); v != "" {
		c.Notifications.NtfyTopic = v
	}
	if v := strings.TrimSpace(overrides.LogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}
