package testsupport

import (
	"path/filepath"
	"testing"

	"workqueue/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StorageRoot = filepath.Join(base, "storage")
	cfgVal.Engine.ProcessorID = "test-processor"
	cfgVal.Engine.MinFreeMemoryMB = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProcessorID overrides the engine instance id.
func WithProcessorID(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.ProcessorID = id
	}
}

// WithThreads sets the pool budgets.
func WithThreads(total, priority, memoryLimited int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.ThreadCount = total
		b.cfg.Engine.PriorityThreadCount = priority
		b.cfg.Engine.MemoryLimitedThreadCount = memoryLimited
	}
}

// WithQueryDelay shortens the dispatcher idle wait.
func WithQueryDelay(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.QueryDelayMS = ms
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
