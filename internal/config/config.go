package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	StorageRoot string `toml:"storage_root"`
}

// Engine contains dispatcher, pool and item processor tuning.
type Engine struct {
	ProcessorID              string `toml:"processor_id"`
	ThreadCount              int    `toml:"thread_count"`
	PriorityThreadCount      int    `toml:"priority_thread_count"`
	MemoryLimitedThreadCount int    `toml:"memory_limited_thread_count"`
	MinFreeMemoryMB          int    `toml:"min_free_memory_mb"`
	QueryDelayMS             int    `toml:"query_delay_ms"`
	InactiveMinSeconds       int    `toml:"inactive_min_seconds"`
	ErrorRetrySeconds        int    `toml:"error_retry_seconds"`
	MaxSubItemFailures       int    `toml:"max_sub_item_failures"`
	InstanceExtension        string `toml:"instance_extension"`
	IntegrityValidation      bool   `toml:"integrity_validation"`
}

// Notifications contains configuration for ntfy alert delivery.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Schedule enqueues one entry of Type per storage unit whenever Cron fires.
type Schedule struct {
	Name     string `toml:"name"`
	Cron     string `toml:"cron"`
	Type     string `toml:"type"`
	Priority string `toml:"priority"`
}

// Maintenance contains housekeeping schedules.
type Maintenance struct {
	PurgeCron string `toml:"purge_cron"`
}

// TypeOverride replaces individual seeded type properties. Nil fields keep
// the stored value.
type TypeOverride struct {
	MaxBatchSize         *int  `toml:"max_batch_size"`
	MaxFailureCount      *int  `toml:"max_failure_count"`
	MemoryLimited        *bool `toml:"memory_limited"`
	FailureDelaySeconds  *int  `toml:"failure_delay_seconds"`
	PostponeDelaySeconds *int  `toml:"postpone_delay_seconds"`
	ExpireDelaySeconds   *int  `toml:"expire_delay_seconds"`
	ProcessDelaySeconds  *int  `toml:"process_delay_seconds"`
	DeleteDelaySeconds   *int  `toml:"delete_delay_seconds"`
	AlertOnFailure       *bool `toml:"alert_on_failure"`
}

// Config encapsulates all configuration values for the work queue daemon and CLI.
//
// Configuration sections by subsystem:
//   - Paths: queue database, logs and storage unit root
//   - Engine: dispatcher, pool budgets and item processor timing
//   - Notifications: ntfy alert sink
//   - Logging: log format and level
//   - Schedules: cron driven producers
//   - Maintenance: purge of expired entries
//   - Types: per job type property overrides
type Config struct {
	Paths         Paths                   `toml:"paths"`
	Engine        Engine                  `toml:"engine"`
	Notifications Notifications           `toml:"notifications"`
	Logging       Logging                 `toml:"logging"`
	Schedules     []Schedule              `toml:"schedules"`
	Maintenance   Maintenance             `toml:"maintenance"`
	Types         map[string]TypeOverride `toml:"types"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("workqueue.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.StorageRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the queue database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the location of the daemon single-instance lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "workqueued.lock")
}

// QueryDelay is the dispatcher idle wait between claim attempts.
func (c *Config) QueryDelay() time.Duration {
	return time.Duration(c.Engine.QueryDelayMS) * time.Millisecond
}

// InactiveMinTime is the inactivity window used by stuck entry detection.
func (c *Config) InactiveMinTime() time.Duration {
	return time.Duration(c.Engine.InactiveMinSeconds) * time.Second
}

// ErrorRetryInterval is the dispatcher back-off after a loop error.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Engine.ErrorRetrySeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
