package preflight

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"workqueue/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// MemoryCheckName names the result of CheckMemory.
const MemoryCheckName = "Free memory"

// CheckMemory compares available memory with the dispatcher floor. A floor
// of zero disables the check.
func CheckMemory(minFreeMB int, probe MemoryProbe) Result {
	result := Result{Name: MemoryCheckName, Advisory: true}
	if probe == nil {
		probe = FreeMemory
	}
	free, err := probe()
	if err != nil {
		result.Detail = fmt.Sprintf("probe failed (%v)", err)
		return result
	}
	detail := humanize.IBytes(free) + " available"
	if minFreeMB <= 0 {
		result.Passed = true
		result.Detail = detail + " (no floor)"
		return result
	}
	floor := uint64(minFreeMB) * 1024 * 1024
	result.Passed = free >= floor
	if result.Passed {
		result.Detail = fmt.Sprintf("%s (floor %s)", detail, humanize.IBytes(floor))
	} else {
		result.Detail = fmt.Sprintf("%s (below floor %s)", detail, humanize.IBytes(floor))
	}
	return result
}

// CheckBinaries reports whether each required binary resolves on PATH.
// Optional requirements produce advisory results.
func CheckBinaries(requirements []deps.Requirement) []Result {
	statuses := deps.CheckBinaries(requirements)
	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		r := Result{Name: s.Name, Passed: s.Available, Advisory: s.Optional}
		if s.Available {
			r.Detail = s.Path
		} else {
			r.Detail = s.Detail
		}
		results = append(results, r)
	}
	return results
}
