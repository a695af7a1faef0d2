package preflight

import (
	"context"

	"workqueue/internal/config"
	"workqueue/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Advisory failures are reported but never block the daemon.
	Advisory bool
}

// MemoryProbe returns the available memory in bytes.
type MemoryProbe func() (uint64, error)

// RunAll executes the daemon readiness checks for the given config.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Storage root", cfg.Paths.StorageRoot),
		CheckMemory(cfg.Engine.MinFreeMemoryMB, nil),
	}
	return append(results, CheckBinaries(deps.Runtime())...)
}

// Blocking returns the failed results that are not advisory.
func Blocking(results []Result) []Result {
	var blocking []Result
	for _, r := range Failed(results) {
		if !r.Advisory {
			blocking = append(blocking, r)
		}
	}
	return blocking
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
