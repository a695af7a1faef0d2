package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

func (c *Config) normalize() error {
	if err := c.applyEnvOverrides(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeSchedules()
	c.normalizeTypes()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StorageRoot) == "" {
		c.Paths.StorageRoot = defaultStorageRoot
	}
	if c.Paths.StorageRoot, err = expandPath(c.Paths.StorageRoot); err != nil {
		return fmt.Errorf("paths.storage_root: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.ProcessorID = strings.TrimSpace(c.Engine.ProcessorID)
	if c.Engine.ProcessorID == "" {
		c.Engine.ProcessorID = defaultProcessorID()
	}
	ext := strings.ToLower(strings.TrimSpace(c.Engine.InstanceExtension))
	if ext == "" {
		ext = defaultInstanceExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Engine.InstanceExtension = ext
}

// defaultProcessorID keeps the id stable across restarts so orphaned
// in-progress entries are recognized on the next start.
func defaultProcessorID() string {
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		return strings.TrimSpace(host)
	}
	return "workqueue-" + uuid.NewString()
}

func (c *Config) normalizeSchedules() {
	for i := range c.Schedules {
		s := &c.Schedules[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Cron = strings.TrimSpace(s.Cron)
		s.Type = strings.ToLower(strings.TrimSpace(s.Type))
		s.Priority = strings.ToLower(strings.TrimSpace(s.Priority))
		if s.Priority == "" {
			s.Priority = "normal"
		}
		if s.Name == "" {
			s.Name = s.Type
		}
	}
	c.Maintenance.PurgeCron = strings.TrimSpace(c.Maintenance.PurgeCron)
}

func (c *Config) normalizeTypes() {
	if len(c.Types) == 0 {
		return
	}
	normalized := make(map[string]TypeOverride, len(c.Types))
	for name, override := range c.Types {
		normalized[strings.ToLower(strings.TrimSpace(name))] = override
	}
	c.Types = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
